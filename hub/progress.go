package hub

import (
	"sync"
	"time"
)

// Progress is a snapshot of an ongoing pull.
type Progress struct {
	File       string // file that last reported bytes
	Downloaded int64
	Total      int64
	// BytesPerSec is an exponential moving average.
	BytesPerSec float64
	ETA         time.Duration
	Elapsed     time.Duration
}

// Percent returns completion in [0, 100], or -1 when the total is unknown.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return -1
	}
	pct := float64(p.Downloaded) / float64(p.Total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// progressTracker aggregates bytes from concurrent file downloads. Bytes are
// counted per file so a retried attempt replaces its file's count.
type progressTracker struct {
	mu sync.Mutex

	total      int64
	downloaded int64
	files      map[string]int64
	start      time.Time
	lastTick   time.Time
	lastBytes  int64
	speed      float64
	lastReport time.Time
	report     func(Progress)
}

const (
	speedAlpha     = 0.3
	reportInterval = 250 * time.Millisecond
)

func newProgressTracker(total int64, report func(Progress)) *progressTracker {
	now := time.Now()
	return &progressTracker{total: total, files: map[string]int64{}, start: now, lastTick: now, report: report}
}

// add records n more bytes of file; cached files are added in one call.
func (t *progressTracker) add(file string, n int64) {
	if t == nil || n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.files[file] += n
	t.downloaded += n
	t.tickLocked(file)
}

// set replaces the byte count of file. Each download attempt calls it with
// the offset it starts from.
func (t *progressTracker) set(file string, n int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.downloaded += n - t.files[file]
	t.files[file] = n
	if t.downloaded < t.lastBytes {
		t.lastBytes = t.downloaded
	}
	t.tickLocked(file)
}

func (t *progressTracker) tickLocked(file string) {
	now := time.Now()
	if dt := now.Sub(t.lastTick).Seconds(); dt >= 0.1 {
		inst := float64(t.downloaded-t.lastBytes) / dt
		if t.speed == 0 {
			t.speed = inst
		} else {
			t.speed = speedAlpha*inst + (1-speedAlpha)*t.speed
		}
		t.lastTick = now
		t.lastBytes = t.downloaded
	}

	if t.report != nil && (now.Sub(t.lastReport) >= reportInterval || t.downloaded >= t.total) {
		t.lastReport = now
		t.report(t.snapshotLocked(file, now))
	}
}

func (t *progressTracker) snapshotLocked(file string, now time.Time) Progress {
	p := Progress{
		File:        file,
		Downloaded:  t.downloaded,
		Total:       t.total,
		BytesPerSec: t.speed,
		Elapsed:     now.Sub(t.start),
	}
	if t.speed > 0 && t.total > t.downloaded {
		p.ETA = time.Duration(float64(t.total-t.downloaded) / t.speed * float64(time.Second))
	}
	return p
}

// progressReader feeds bytes read through it into a tracker.
type progressReader struct {
	r       interface{ Read([]byte) (int, error) }
	file    string
	tracker *progressTracker
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 && pr.tracker != nil {
		pr.tracker.add(pr.file, int64(n))
	}
	return n, err
}
