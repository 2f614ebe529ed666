package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// TotalFiles is the number of files queued for download.
	TotalFiles int

	// Workers is the number of parallel workers.
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 1s
	UpdateInterval time.Duration

	// Destination is the output directory or bucket (for display).
	Destination string
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	Completed  int
	Skipped    int
	Failed     int
	InProgress int
	Bytes      int64
}

// Done returns the number of files that reached a final state.
func (s Snapshot) Done() int {
	return s.Completed + s.Skipped + s.Failed
}

// Reporter outputs human-readable progress information.
type Reporter struct {
	opts Options

	mu         sync.Mutex
	completed  atomic.Int32
	skipped    atomic.Int32
	failed     atomic.Int32
	inProgress atomic.Int32
	bytes      atomic.Int64
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64
	stopCh     chan struct{}
	doneCh     chan struct{}
	started    bool
	stopped    bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = time.Second
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start prints a header and begins periodic updates.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.started = true
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[mrt-downloader] Downloading %d files to %s | Workers: %d\n",
		r.opts.TotalFiles,
		r.opts.Destination,
		r.opts.Workers,
	)

	go r.updateLoop()
}

// Stop prints the final status and waits for the update loop to exit.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// FileStarted marks a file as in progress.
func (r *Reporter) FileStarted() {
	r.inProgress.Add(1)
}

// BytesWritten records downloaded bytes.
func (r *Reporter) BytesWritten(n int64) {
	r.bytes.Add(n)
}

// FileCompleted marks an in-progress file as downloaded.
func (r *Reporter) FileCompleted() {
	r.completed.Add(1)
	r.inProgress.Add(-1)
}

// FileSkipped marks an in-progress file as unchanged.
func (r *Reporter) FileSkipped() {
	r.skipped.Add(1)
	r.inProgress.Add(-1)
}

// FileFailed marks an in-progress file as failed.
func (r *Reporter) FileFailed() {
	r.failed.Add(1)
	r.inProgress.Add(-1)
}

// Snapshot returns the current counters.
func (r *Reporter) Snapshot() Snapshot {
	return Snapshot{
		Completed:  int(r.completed.Load()),
		Skipped:    int(r.skipped.Load()),
		Failed:     int(r.failed.Load()),
		InProgress: int(r.inProgress.Load()),
		Bytes:      r.bytes.Load(),
	}
}

func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

func (r *Reporter) printProgress() {
	now := time.Now()
	s := r.Snapshot()

	r.mu.Lock()
	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(s.Bytes-r.lastBytes) / elapsed
	r.lastUpdate = now
	r.lastBytes = s.Bytes
	r.mu.Unlock()

	var percent float64
	if r.opts.TotalFiles > 0 {
		percent = float64(s.Done()) / float64(r.opts.TotalFiles) * 100
	}

	fmt.Fprintf(r.opts.Output, "\r[mrt-downloader] Progress: %.1f%% | %d / %d files | %d skipped | %d failed | %s | Speed: %s/s    ",
		percent,
		s.Done(),
		r.opts.TotalFiles,
		s.Skipped,
		s.Failed,
		formatBytes(s.Bytes),
		formatBytes(int64(speed)),
	)
}

func (r *Reporter) printFinalStatus() {
	s := r.Snapshot()
	duration := time.Since(r.startTime)
	avgSpeed := float64(s.Bytes) / duration.Seconds()

	fmt.Fprintf(r.opts.Output, "\r[mrt-downloader] Done: %d downloaded | %d skipped | %d failed | %s    \n",
		s.Completed,
		s.Skipped,
		s.Failed,
		formatBytes(s.Bytes),
	)
	fmt.Fprintf(r.opts.Output, "[mrt-downloader] Total time: %s | Average speed: %s/s\n",
		formatDuration(duration),
		formatBytes(int64(avgSpeed)),
	)
}

// FormatBytes formats a byte count with binary units, e.g. "1.5 KiB".
func FormatBytes(b int64) string {
	return formatBytes(b)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}

	div, exp := int64(unit), 0
	for n := b / unit; n >= unit && exp < 3; n /= unit {
		div *= unit
		exp++
	}
	value := float64(b) / float64(div)
	suffix := []string{"KiB", "MiB", "GiB", "TiB"}[exp]
	if value >= 100 {
		return fmt.Sprintf("%.0f %s", value, suffix)
	}
	return fmt.Sprintf("%.1f %s", value, suffix)
}

// FormatDuration formats a duration as "1h 2m 3s".
func FormatDuration(d time.Duration) string {
	return formatDuration(d)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
