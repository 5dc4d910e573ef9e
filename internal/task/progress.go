package task

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Minimum fraction increase before a task's progress is reported again.
const progressThreshold = 0.01

// Aggregator throttles per-task progress and batches reports across tasks.
// It is not safe for concurrent use.
type Aggregator struct {
	clock    clockwork.Clock
	interval time.Duration

	percent     map[string]float64
	pending     map[string]ProgressReport
	order       []string
	lastEmitted time.Time
}

func NewAggregator(clock clockwork.Clock, interval time.Duration) *Aggregator {
	return &Aggregator{
		clock:       clock,
		interval:    interval,
		percent:     make(map[string]float64),
		pending:     make(map[string]ProgressReport),
		lastEmitted: clock.Now(),
	}
}

// Sample records a byte count for id and returns a batch when one is due.
func (a *Aggregator) Sample(id string, downloaded, total int64) []ProgressReport {
	if total > 0 {
		percent := float64(downloaded) / float64(total)
		if percent-a.percent[id] > progressThreshold {
			if _, ok := a.pending[id]; !ok {
				a.order = append(a.order, id)
			}
			a.pending[id] = ProgressReport{ID: id, BytesDownloaded: downloaded, BytesTotal: total}
			a.percent[id] = percent
		}
	}
	return a.flush()
}

func (a *Aggregator) flush() []ProgressReport {
	if len(a.pending) == 0 {
		return nil
	}
	now := a.clock.Now()
	if now.Sub(a.lastEmitted) <= a.interval {
		return nil
	}

	batch := make([]ProgressReport, 0, len(a.order))
	for _, id := range a.order {
		batch = append(batch, a.pending[id])
	}
	a.pending = make(map[string]ProgressReport)
	a.order = a.order[:0]
	a.lastEmitted = now
	return batch
}

// Reset starts id over at zero percent.
func (a *Aggregator) Reset(id string) {
	a.dropPending(id)
	a.percent[id] = 0
}

// Forget drops all state for id.
func (a *Aggregator) Forget(id string) {
	a.dropPending(id)
	delete(a.percent, id)
}

// Refresh raises the last reported percent for id to match a byte count
// without queuing a report. It never lowers it.
func (a *Aggregator) Refresh(id string, downloaded, total int64) {
	if total <= 0 {
		return
	}
	if percent := float64(downloaded) / float64(total); percent > a.percent[id] {
		a.percent[id] = percent
	}
}

func (a *Aggregator) dropPending(id string) {
	if _, ok := a.pending[id]; !ok {
		return
	}
	delete(a.pending, id)
	for i, v := range a.order {
		if v == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

func (a *Aggregator) SetInterval(d time.Duration) {
	a.interval = d
}

func (a *Aggregator) Interval() time.Duration {
	return a.interval
}

// Percent returns the last reported fraction for id.
func (a *Aggregator) Percent(id string) (float64, bool) {
	p, ok := a.percent[id]
	return p, ok
}
