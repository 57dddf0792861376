// Package utils holds input validation for the control API.
package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

// Payload limits
const (
	MaxPayloadSize  = 256 * 1024 // Data sent to a device in one request
	MaxPayloadDepth = 32
)

// String length limits
const (
	MaxIDLength   = 128
	MaxNameLength = 256
	MaxTypeLength = 64
)

// SafeIDPattern allows alphanumeric, dots, colons, hyphens and underscores.
// Device serials and connection ids use all of them.
var SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if value == "" {
		if required {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}
	return nil
}

// ValidateID validates an ID field
func ValidateID(id, fieldName string, required bool) error {
	if err := ValidateString(id, fieldName, 1, MaxIDLength, required); err != nil {
		return err
	}
	if id != "" && !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}
	return nil
}

// ValidatePayload bounds the encoded size and nesting depth of a payload
// headed for a device.
func ValidatePayload(payload any) error {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("payload is not serializable: %w", err)
	}
	if len(data) > MaxPayloadSize {
		return fmt.Errorf("payload size %d bytes exceeds maximum %d bytes", len(data), MaxPayloadSize)
	}
	return checkDepth(payload, 0, MaxPayloadDepth)
}

func checkDepth(data any, depth, maxDepth int) error {
	if depth > maxDepth {
		return fmt.Errorf("payload nesting depth exceeds maximum %d", maxDepth)
	}
	switch v := data.(type) {
	case map[string]any:
		for _, value := range v {
			if err := checkDepth(value, depth+1, maxDepth); err != nil {
				return err
			}
		}
	case []any:
		for _, value := range v {
			if err := checkDepth(value, depth+1, maxDepth); err != nil {
				return err
			}
		}
	}
	return nil
}
