package event

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeString(t *testing.T) {
	tests := []struct {
		want string
		typ  Type
	}{
		{want: "ScanStarted", typ: ScanStarted},
		{want: "ScanComplete", typ: ScanComplete},
		{want: "FileSkipped", typ: FileSkipped},
		{want: "PayloadStored", typ: PayloadStored},
		{want: "FileRestored", typ: FileRestored},
		{want: "FileDeleted", typ: FileDeleted},
		{want: "StateCommitted", typ: StateCommitted},
		{want: "StateRestored", typ: StateRestored},
		{want: "EntryArchived", typ: EntryArchived},
		{want: "EntryExtracted", typ: EntryExtracted},
		{want: "Progress", typ: Progress},
		{want: "Failed", typ: Failed},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.typ.String())
		})
	}
}

func TestTypeStringUnknown(t *testing.T) {
	assert.Equal(t, "Unknown", Type(999).String())
	assert.Equal(t, "Unknown", Type(0).String())
	assert.Equal(t, "Unknown", Type(-1).String())
}

func TestEventZeroValue(t *testing.T) {
	var e Event
	assert.Equal(t, Type(0), e.Type)
	assert.True(t, e.Timestamp.IsZero())
	assert.Empty(t, e.Path)
	assert.Empty(t, e.StateID)
	assert.Zero(t, e.Size)
	assert.Zero(t, e.Percent)
	require.NoError(t, e.Error)
}

func TestSinkEmitStampsTimestamp(t *testing.T) {
	ch := make(chan Event, 1)
	before := time.Now()
	Sink(ch).Emit(Event{Type: FileRestored, Path: "drive_c/a.txt", Size: 12})

	e := <-ch
	assert.Equal(t, FileRestored, e.Type)
	assert.Equal(t, "drive_c/a.txt", e.Path)
	assert.Equal(t, int64(12), e.Size)
	assert.False(t, e.Timestamp.Before(before))
}

func TestSinkEmitNeverBlocks(t *testing.T) {
	ch := make(chan Event, 1)
	s := Sink(ch)
	s.Emit(Event{Type: Progress, Percent: 1})
	s.Emit(Event{Type: Progress, Percent: 2}) // dropped, buffer full

	e := <-ch
	assert.Equal(t, 1, e.Percent)
	assert.Empty(t, ch)
}

func TestNilSinkDrops(t *testing.T) {
	var s Sink
	assert.NotPanics(t, func() {
		s.Emit(Event{Type: Failed, Error: errors.New("boom")})
	})
}
