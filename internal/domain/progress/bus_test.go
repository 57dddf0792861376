package progress

import (
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"
)

const (
	install  = types.ChannelAppInstall
	download = types.ChannelAppDownload
	extract  = types.ChannelAppExtract
)

func progressOf(t *testing.T, b *Bus, ch types.ProgressChannel) float64 {
	t.Helper()
	ev, ok := b.Get(ch)
	require.True(t, ok, "channel %s has no state", ch)
	return ev.Progress
}

func TestStartResetsChannel(t *testing.T) {
	b := NewBus(nil)
	b.Update(download, 70, "half way")

	u := b.Start(download, "download", "starting")

	ev, ok := b.Get(download)
	require.True(t, ok)
	assert.Equal(t, types.StatusRunning, ev.Status)
	assert.Zero(t, ev.Progress)
	assert.Equal(t, "download", ev.Operation)
	assert.Equal(t, download, u.Channel())
}

func TestProgressBounds(t *testing.T) {
	b := NewBus(nil)
	b.Start(download, "download", "")

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		if rng.Intn(2) == 0 {
			b.Update(download, rng.Float64()*400-200, "")
		} else {
			b.IncrementProgress(download, rng.Float64()*200-100, "")
		}
		p := progressOf(t, b, download)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 100.0)
	}

	b.Update(download, 10, "")
	b.Complete(download, "done")
	assert.Equal(t, 100.0, progressOf(t, b, download))

	b.Update(download, 10, "")
	b.Error(download, errors.New("boom"), "failed")
	assert.Equal(t, 100.0, progressOf(t, b, download))
}

func TestWeightedAggregation(t *testing.T) {
	tests := []struct {
		name   string
		w1, w2 float64
		p1, p2 float64
		want   float64
	}{
		{"equal weights", 1, 1, 50, 100, 75},
		{"skewed", 3, 1, 100, 0, 75},
		{"zero progress", 5, 5, 0, 0, 0},
		{"clamped", 1, 1, 150, 150, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBus(nil)
			b.StartOperation(install, "install", "",
				SubOperation{Channel: download, Weight: tt.w1},
				SubOperation{Channel: extract, Weight: tt.w2},
			)
			b.Update(download, tt.p1, "")
			b.Update(extract, tt.p2, "")

			assert.InDelta(t, tt.want, progressOf(t, b, install), 1e-9)
		})
	}
}

func TestInstallScenario(t *testing.T) {
	b := NewBus(nil)
	b.StartOperation(install, "install", "installing",
		SubOperation{Channel: download, Weight: 80},
		SubOperation{Channel: extract, Weight: 20},
	)

	b.Update(download, 50, "downloading")
	assert.InDelta(t, 40, progressOf(t, b, install), 1e-9)

	b.Update(extract, 100, "extracted")
	assert.InDelta(t, 60, progressOf(t, b, install), 1e-9)

	b.Complete(extract, "extract done")
	b.Complete(download, "download done")
	assert.InDelta(t, 100, progressOf(t, b, install), 1e-9)

	ev, _ := b.Get(install)
	assert.Equal(t, types.StatusRunning, ev.Status, "children completing must not end the parent")
}

func TestStartOperationClearsChildState(t *testing.T) {
	b := NewBus(nil)
	b.Update(download, 90, "stale")

	b.StartOperation(install, "install", "", SubOperation{Channel: download, Weight: 1})

	_, ok := b.Get(download)
	assert.False(t, ok)
	assert.Zero(t, progressOf(t, b, install))
}

func TestChildErrorDowngradedToWarn(t *testing.T) {
	b := NewBus(nil)
	b.StartOperation(install, "install", "", SubOperation{Channel: download, Weight: 1})

	b.Error(download, errors.New("timeout"), "download failed")

	ev, _ := b.Get(install)
	assert.Equal(t, types.StatusWarn, ev.Status)
	assert.Equal(t, "timeout", ev.Error)
	assert.Equal(t, 100.0, ev.Progress)
}

func TestCompletingOperationCompletesChildren(t *testing.T) {
	b := NewBus(nil)
	b.StartOperation(install, "install", "",
		SubOperation{Channel: download, Weight: 1},
		SubOperation{Channel: extract, Weight: 1},
	)
	b.Update(download, 30, "")

	b.Complete(install, "installed")

	for _, ch := range []types.ProgressChannel{download, extract} {
		ev, ok := b.Get(ch)
		require.True(t, ok)
		assert.Equal(t, types.StatusComplete, ev.Status)
		assert.Equal(t, 100.0, ev.Progress)
		assert.Empty(t, b.Parents(ch))
	}

	// Unlinked children no longer move the parent.
	b.Update(download, 10, "")
	ev, _ := b.Get(install)
	assert.Equal(t, types.StatusComplete, ev.Status)
}

func TestErroringOperationUnlinksChildren(t *testing.T) {
	b := NewBus(nil)
	b.StartOperation(install, "install", "", SubOperation{Channel: download, Weight: 1})
	b.Update(download, 30, "")

	b.Error(install, errors.New("aborted"), "install failed")

	assert.Empty(t, b.Parents(download))
	ev, _ := b.Get(download)
	assert.Equal(t, types.StatusRunning, ev.Status)
	assert.Equal(t, 30.0, ev.Progress)
}

func TestSharedChildFansOutToEveryParent(t *testing.T) {
	b := NewBus(nil)
	start := types.ChannelAppStart
	b.StartOperation(install, "install", "", SubOperation{Channel: download, Weight: 1})
	b.StartOperation(start, "start", "",
		SubOperation{Channel: download, Weight: 1},
		SubOperation{Channel: extract, Weight: 1},
	)

	b.Update(download, 80, "")

	assert.InDelta(t, 80, progressOf(t, b, install), 1e-9)
	assert.InDelta(t, 40, progressOf(t, b, start), 1e-9)
	assert.ElementsMatch(t, []types.ProgressChannel{install, start}, b.Parents(download))
}

func TestMultiLevelPropagation(t *testing.T) {
	b := NewBus(nil)
	root := types.ChannelClientInstall
	b.StartOperation(root, "client", "",
		SubOperation{Channel: install, Weight: 1},
		SubOperation{Channel: types.ChannelClientFlash, Weight: 1},
	)
	b.StartOperation(install, "install", "", SubOperation{Channel: download, Weight: 1})

	b.Update(download, 60, "")

	assert.InDelta(t, 60, progressOf(t, b, install), 1e-9)
	assert.InDelta(t, 30, progressOf(t, b, root), 1e-9)
}

func TestDiamondRecomputesSharedAncestor(t *testing.T) {
	b := NewBus(nil)
	root := types.ChannelClientInstall
	flash := types.ChannelClientFlash
	b.StartOperation(root, "client", "",
		SubOperation{Channel: install, Weight: 1},
		SubOperation{Channel: flash, Weight: 1},
	)
	b.StartOperation(install, "install", "", SubOperation{Channel: download, Weight: 1})
	b.StartOperation(flash, "flash", "", SubOperation{Channel: download, Weight: 1})

	b.Update(download, 50, "")

	assert.InDelta(t, 50, progressOf(t, b, install), 1e-9)
	assert.InDelta(t, 50, progressOf(t, b, flash), 1e-9)
	assert.InDelta(t, 50, progressOf(t, b, root), 1e-9)
}

func TestCycleDoesNotRecurseForever(t *testing.T) {
	b := NewBus(nil)
	b.StartOperation(install, "install", "", SubOperation{Channel: download, Weight: 1})
	b.StartOperation(download, "download", "", SubOperation{Channel: install, Weight: 1})

	assert.NotPanics(t, func() { b.Update(download, 50, "") })
}

func TestSubscribersSeeBubbledEvents(t *testing.T) {
	b := NewBus(nil)
	b.StartOperation(install, "install", "", SubOperation{Channel: download, Weight: 1})

	var mu sync.Mutex
	var seen []types.ProgressChannel
	unsub := b.Subscribe(func(ev types.ProgressEvent) {
		mu.Lock()
		seen = append(seen, ev.Channel)
		mu.Unlock()
	})

	b.Update(download, 10, "")
	unsub()
	b.Update(download, 20, "")

	assert.Equal(t, []types.ProgressChannel{download, install}, seen)
}

func TestLogSeverity(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	b := NewBus(zap.New(core))
	b.StartOperation(install, "install", "", SubOperation{Channel: download, Weight: 1})
	logs.TakeAll()

	b.Error(download, errors.New("x"), "child failed")

	entries := logs.TakeAll()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level, "nested events log at debug")
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)

	b.Error(install, errors.New("y"), "install failed")
	entries = logs.TakeAll()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}

func TestUpdaterIncrement(t *testing.T) {
	b := NewBus(nil)
	u := b.Start(download, "download", "")

	u.Increment(25, "chunk")
	u.Increment(25, "")

	ev, _ := b.Get(download)
	assert.Equal(t, 50.0, ev.Progress)
	assert.Equal(t, "chunk", ev.Message)

	u.Info("note")
	ev, _ = b.Get(download)
	assert.Equal(t, 50.0, ev.Progress)
	assert.Equal(t, types.StatusInfo, ev.Status)
}
