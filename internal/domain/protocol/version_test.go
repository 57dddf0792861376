package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsLegacy(t *testing.T) {
	tests := []struct {
		version, floor string
		want           bool
	}{
		{"0.10.0", "0.11.0", true},
		{"v0.10.9", "0.11.0", true},
		{"0.11.0", "0.11.0", false},
		{"0.12.1", "0.11.0", false},
		{"", "0.11.0", true},
		{"garbage", "0.11.0", true},
		{"0.1.0", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsLegacy(tt.version, tt.floor), "%s vs %s", tt.version, tt.floor)
	}
}

func TestSatisfies(t *testing.T) {
	tests := []struct {
		version, constraint string
		want                bool
	}{
		{"0.11.0", "", true},
		{"0.11.0", ">=0.10.0 <0.12.0", true},
		{"0.12.0", ">=0.10.0 <0.12.0", false},
		{"0.11.0", "0.11.0", true},
		{"0.11.1", "=0.11.0", false},
		{"1.4.0", "^1.2.0", true},
		{"2.0.0", "^1.2.0", false},
		{"0.10.5", "^0.10.0", true},
		{"0.11.0", "^0.10.0", false},
		{"0.9.9", "^0.10.0", false},
		{"0.0.3", "^0.0.3", true},
		{"0.0.4", "^0.0.3", false},
		{"1.2.9", "~1.2.0", true},
		{"1.3.0", "~1.2.0", false},
		{"0.9.0", ">0.9.0", false},
		{"0.9.0", "<=0.9.0", true},
	}
	for _, tt := range tests {
		got, err := Satisfies(tt.version, tt.constraint)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s %s", tt.version, tt.constraint)
	}
}

func TestSatisfiesInvalid(t *testing.T) {
	_, err := Satisfies("nope", ">=1.0.0")
	assert.Error(t, err)

	_, err = Satisfies("1.0.0", ">=banana")
	assert.Error(t, err)
}
