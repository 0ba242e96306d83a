package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()
	const goroutines = 100
	const opsPerGoroutine = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range opsPerGoroutine {
				c.AddFilesScanned(1)
				c.AddFilesSkipped(1)
				c.AddPayloadStored(256)
				c.AddFileRestored(128)
				c.AddFilesDeleted(1)
				c.AddEntryArchived(64)
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	expected := int64(goroutines * opsPerGoroutine)
	assert.Equal(t, expected, s.FilesScanned)
	assert.Equal(t, expected, s.FilesSkipped)
	assert.Equal(t, expected, s.PayloadsStored)
	assert.Equal(t, expected*256, s.BytesStored)
	assert.Equal(t, expected, s.FilesRestored)
	assert.Equal(t, expected*128, s.BytesRestored)
	assert.Equal(t, expected, s.FilesDeleted)
	assert.Equal(t, expected, s.EntriesArchived)
	assert.Equal(t, expected*64, s.BytesArchived)
}

func TestNilCollectorIsInert(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.AddFilesScanned(1)
		c.AddPayloadStored(10)
		c.AddFileRestored(10)
		c.AddEntryExtracted(10)
		c.SetTotals(1, 1)
		c.Tick()
	})
	assert.Equal(t, Snapshot{}, c.Snapshot())
	assert.Zero(t, c.RollingSpeed(5))
	assert.Zero(t, c.ETA())
}

func TestSnapshotString(t *testing.T) {
	s := Snapshot{
		FilesScanned:     10,
		FilesSkipped:     1,
		PayloadsStored:   4,
		FilesRestored:    3,
		FilesDeleted:     2,
		EntriesArchived:  7,
		EntriesExtracted: 5,
	}
	expected := "scanned=10 skipped=1 stored=4 restored=3 deleted=2 archived=7 extracted=5"
	assert.Equal(t, expected, s.String())
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		expected string
		input    int64
	}{
		{"0 B", 0},
		{"512 B", 512},
		{"1.0 KiB", 1024},
		{"1.5 KiB", 1536},
		{"1.0 MiB", 1048576},
		{"1.0 GiB", 1073741824},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			require.Equal(t, tt.expected, FormatBytes(tt.input))
		})
	}
}

func TestSetTotals(t *testing.T) {
	c := NewCollector()
	c.SetTotals(100, 1024*1024)
	s := c.Snapshot()
	assert.Equal(t, int64(100), s.FilesTotal)
	assert.Equal(t, int64(1024*1024), s.BytesTotal)
}

func TestTickAndRollingSpeed(t *testing.T) {
	c := NewCollector()

	// 5 seconds of 1000 bytes/sec split across stored and restored.
	for range 5 {
		c.AddPayloadStored(600)
		c.AddFileRestored(400)
		c.Tick()
	}

	assert.InDelta(t, 1000.0, c.RollingSpeed(5), 0.01)
}

func TestRollingSpeedPartialWindow(t *testing.T) {
	c := NewCollector()

	c.AddEntryArchived(500)
	c.Tick()
	c.AddEntryArchived(500)
	c.Tick()

	// Ask for 10 but only have 2.
	assert.InDelta(t, 500.0, c.RollingSpeed(10), 0.01)
}

func TestRollingSpeedNoSamples(t *testing.T) {
	c := NewCollector()
	assert.Equal(t, 0.0, c.RollingSpeed(5))
}

func TestRingWraparound(t *testing.T) {
	c := NewCollector()
	for i := range ringSize + 10 {
		c.AddPayloadStored(int64(i + 1))
		c.Tick()
	}
	// Last sample delta is ringSize+10.
	assert.InDelta(t, float64(ringSize+10), c.RollingSpeed(1), 0.01)
}

func TestETA(t *testing.T) {
	c := NewCollector()
	c.SetTotals(100, 10000)

	for range 5 {
		c.AddEntryArchived(1000)
		c.Tick()
	}

	assert.InDelta(t, 5.0, c.ETA().Seconds(), 1.0)
}

func TestETANoSpeed(t *testing.T) {
	c := NewCollector()
	c.SetTotals(100, 10000)
	assert.Equal(t, time.Duration(0), c.ETA())
}

func TestSnapshotIncludesElapsed(t *testing.T) {
	c := NewCollector()
	time.Sleep(10 * time.Millisecond)
	assert.Greater(t, c.Snapshot().Elapsed, time.Duration(0))
}
