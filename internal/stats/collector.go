package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 60

// Collector tracks versioning and archive statistics using lock-free atomic
// counters. All methods are safe on a nil receiver so producers can take an
// optional collector.
type Collector struct {
	startTime time.Time

	filesScanned     atomic.Int64
	filesSkipped     atomic.Int64
	payloadsStored   atomic.Int64
	bytesStored      atomic.Int64
	filesRestored    atomic.Int64
	bytesRestored    atomic.Int64
	filesDeleted     atomic.Int64
	entriesArchived  atomic.Int64
	entriesExtracted atomic.Int64
	bytesArchived    atomic.Int64
	bytesTotal       atomic.Int64
	filesTotal       atomic.Int64

	// Ring buffer, written only by the presenter's Tick().
	mu         sync.Mutex
	throughput [ringSize]int64 // bytes delta per second
	ringIdx    int
	ringCount  int
	lastBytes  int64
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// SetTotals records scan totals.
func (c *Collector) SetTotals(files, bytes int64) {
	if c == nil {
		return
	}
	c.filesTotal.Store(files)
	c.bytesTotal.Store(bytes)
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	FilesScanned     int64
	FilesSkipped     int64
	PayloadsStored   int64
	BytesStored      int64
	FilesRestored    int64
	BytesRestored    int64
	FilesDeleted     int64
	EntriesArchived  int64
	EntriesExtracted int64
	BytesArchived    int64
	BytesTotal       int64
	FilesTotal       int64
	Elapsed          time.Duration
}

func (c *Collector) AddFilesScanned(n int64) {
	if c != nil {
		c.filesScanned.Add(n)
	}
}

func (c *Collector) AddFilesSkipped(n int64) {
	if c != nil {
		c.filesSkipped.Add(n)
	}
}

// AddPayloadStored counts one payload of size bytes copied into a state.
func (c *Collector) AddPayloadStored(size int64) {
	if c != nil {
		c.payloadsStored.Add(1)
		c.bytesStored.Add(size)
	}
}

// AddFileRestored counts one file of size bytes written back into a bottle.
func (c *Collector) AddFileRestored(size int64) {
	if c != nil {
		c.filesRestored.Add(1)
		c.bytesRestored.Add(size)
	}
}

func (c *Collector) AddFilesDeleted(n int64) {
	if c != nil {
		c.filesDeleted.Add(n)
	}
}

// AddEntryArchived counts one archive entry written with size content bytes.
func (c *Collector) AddEntryArchived(size int64) {
	if c != nil {
		c.entriesArchived.Add(1)
		c.bytesArchived.Add(size)
	}
}

// AddEntryExtracted counts one archive entry extracted with size content bytes.
func (c *Collector) AddEntryExtracted(size int64) {
	if c != nil {
		c.entriesExtracted.Add(1)
		c.bytesArchived.Add(size)
	}
}

// Snapshot returns a point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	return Snapshot{
		FilesScanned:     c.filesScanned.Load(),
		FilesSkipped:     c.filesSkipped.Load(),
		PayloadsStored:   c.payloadsStored.Load(),
		BytesStored:      c.bytesStored.Load(),
		FilesRestored:    c.filesRestored.Load(),
		BytesRestored:    c.bytesRestored.Load(),
		FilesDeleted:     c.filesDeleted.Load(),
		EntriesArchived:  c.entriesArchived.Load(),
		EntriesExtracted: c.entriesExtracted.Load(),
		BytesArchived:    c.bytesArchived.Load(),
		BytesTotal:       c.bytesTotal.Load(),
		FilesTotal:       c.filesTotal.Load(),
		Elapsed:          c.Elapsed(),
	}
}

func (c *Collector) bytesMoved() int64 {
	return c.bytesStored.Load() + c.bytesRestored.Load() + c.bytesArchived.Load()
}

// Tick snapshots the byte delta into the ring buffer. Called 1/sec by the presenter.
func (c *Collector) Tick() {
	if c == nil {
		return
	}
	current := c.bytesMoved()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.throughput[c.ringIdx] = current - c.lastBytes
	c.lastBytes = current
	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingSpeed returns average bytes/sec over the last n seconds of samples.
func (c *Collector) RollingSpeed(seconds int) float64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	count := min(seconds, c.ringCount)
	if count <= 0 {
		return 0
	}
	var sum int64
	for i := range count {
		idx := (c.ringIdx - 1 - i + ringSize) % ringSize
		sum += c.throughput[idx]
	}
	return float64(sum) / float64(count)
}

// ETA estimates remaining time from the rolling speed and remaining bytes.
func (c *Collector) ETA() time.Duration {
	speed := c.RollingSpeed(10)
	if speed <= 0 {
		return 0
	}
	remaining := c.bytesTotal.Load() - c.bytesMoved()
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/speed) * time.Second
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	if c == nil {
		return 0
	}
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"scanned=%d skipped=%d stored=%d restored=%d deleted=%d archived=%d extracted=%d",
		s.FilesScanned, s.FilesSkipped, s.PayloadsStored, s.FilesRestored,
		s.FilesDeleted, s.EntriesArchived, s.EntriesExtracted,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
