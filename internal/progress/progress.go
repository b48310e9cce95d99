// Package progress keeps the latest bulk-job progress per tenant.
package progress

import (
	"math"
	"sync"
	"time"
)

// Snapshot is the raw progress of a tenant's most recent job. Failed
// includes Skipped; Skipped is also reported on its own.
type Snapshot struct {
	JobID       string
	Total       int
	Sent        int
	Failed      int
	Skipped     int
	InProgress  bool
	StartedAt   time.Time
	FinishedAt  time.Time
	Aborted     bool
	AbortReason string
}

// View is a Snapshot plus derived fields, shaped for API responses.
type View struct {
	JobID          string `json:"jobId"`
	Total          int    `json:"total"`
	Sent           int    `json:"sent"`
	Failed         int    `json:"failed"`
	Skipped        int    `json:"skipped"`
	InProgress     bool   `json:"inProgress"`
	Aborted        bool   `json:"aborted"`
	AbortReason    string `json:"abortReason,omitempty"`
	Percentage     int    `json:"percentage"`
	ElapsedSeconds int    `json:"elapsedSeconds"`
	ETASeconds     int    `json:"etaSeconds"`
}

// Tracker stores one Snapshot per tenant. Each tenant's entry is written
// only by that tenant's job goroutine; readers get copies.
type Tracker struct {
	now func() time.Time

	mu     sync.Mutex
	jobs   map[string]*Snapshot
	subs   map[string]map[int]chan View
	nextID int
}

// New creates a Tracker. A nil now defaults to time.Now.
func New(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		now:  now,
		jobs: make(map[string]*Snapshot),
		subs: make(map[string]map[int]chan View),
	}
}

// Start resets the tenant's progress for a new job.
func (t *Tracker) Start(tenantID, jobID string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &Snapshot{
		JobID:      jobID,
		Total:      total,
		InProgress: true,
		StartedAt:  t.now(),
	}
	t.jobs[tenantID] = s
	t.publishLocked(tenantID, s)
}

// Update raises the counters. Values lower than the current ones are
// ignored, and sent+failed never exceeds total.
func (t *Tracker) Update(tenantID string, sent, failed, skipped int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.jobs[tenantID]
	if !ok || !s.InProgress {
		return
	}
	if sent > s.Sent {
		s.Sent = min(sent, s.Total)
	}
	if failed > s.Failed {
		s.Failed = min(failed, s.Total-s.Sent)
	}
	if skipped > s.Skipped {
		s.Skipped = min(skipped, s.Failed)
	}
	t.publishLocked(tenantID, s)
}

// Finish marks the job as no longer running. Counters are kept.
func (t *Tracker) Finish(tenantID string, aborted bool, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.jobs[tenantID]
	if !ok {
		return
	}
	s.InProgress = false
	s.FinishedAt = t.now()
	s.Aborted = aborted
	s.AbortReason = reason
	t.publishLocked(tenantID, s)
}

// Raw returns a copy of the tenant's snapshot.
func (t *Tracker) Raw(tenantID string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.jobs[tenantID]
	if !ok {
		return Snapshot{}, false
	}
	return *s, true
}

// Snapshot returns the tenant's progress view. ok is false when no job has
// ever run for the tenant.
func (t *Tracker) Snapshot(tenantID string) (View, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.jobs[tenantID]
	if !ok {
		return View{}, false
	}
	return t.viewLocked(s), true
}

// Clear forgets the tenant's progress.
func (t *Tracker) Clear(tenantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, tenantID)
}

// Subscribe returns a channel that receives the tenant's view after every
// change. Slow readers only see the latest view. The returned func
// unsubscribes and closes the channel.
func (t *Tracker) Subscribe(tenantID string) (<-chan View, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan View, 1)
	id := t.nextID
	t.nextID++
	if t.subs[tenantID] == nil {
		t.subs[tenantID] = make(map[int]chan View)
	}
	t.subs[tenantID][id] = ch
	if s, ok := t.jobs[tenantID]; ok {
		ch <- t.viewLocked(s)
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs[tenantID], id)
			if len(t.subs[tenantID]) == 0 {
				delete(t.subs, tenantID)
			}
			close(ch)
		})
	}
}

func (t *Tracker) publishLocked(tenantID string, s *Snapshot) {
	subs := t.subs[tenantID]
	if len(subs) == 0 {
		return
	}
	v := t.viewLocked(s)
	for _, ch := range subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}

func (t *Tracker) viewLocked(s *Snapshot) View {
	v := View{
		JobID:       s.JobID,
		Total:       s.Total,
		Sent:        s.Sent,
		Failed:      s.Failed,
		Skipped:     s.Skipped,
		InProgress:  s.InProgress,
		Aborted:     s.Aborted,
		AbortReason: s.AbortReason,
	}
	done := s.Sent + s.Failed
	if s.Total > 0 {
		v.Percentage = int(math.Round(float64(done) / float64(s.Total) * 100))
	}

	end := t.now()
	if !s.InProgress && !s.FinishedAt.IsZero() {
		end = s.FinishedAt
	}
	elapsed := end.Sub(s.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	v.ElapsedSeconds = int(elapsed / time.Second)

	if s.InProgress && done > 0 && done < s.Total {
		perContact := elapsed / time.Duration(done)
		v.ETASeconds = int(perContact * time.Duration(s.Total-done) / time.Second)
	}
	return v
}
