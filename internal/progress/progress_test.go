package progress

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker() (*Tracker, *fakeClock) {
	c := &fakeClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	return New(c.now), c
}

func TestSnapshot_NeverStarted(t *testing.T) {
	tr, _ := newTestTracker()
	if _, ok := tr.Snapshot("t1"); ok {
		t.Error("Snapshot ok = true for a tenant with no job")
	}
}

func TestSnapshot_ZeroWorkJobIsDistinct(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Start("t1", "job", 0)
	tr.Finish("t1", false, "")
	v, ok := tr.Snapshot("t1")
	if !ok {
		t.Fatal("Snapshot ok = false after a finished job")
	}
	if v.Percentage != 0 || v.InProgress {
		t.Errorf("view = %+v", v)
	}
}

func TestUpdate_Monotonic(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Start("t1", "job", 10)
	tr.Update("t1", 3, 1, 0)
	tr.Update("t1", 2, 0, 0)

	v, _ := tr.Snapshot("t1")
	if v.Sent != 3 || v.Failed != 1 {
		t.Errorf("Sent/Failed = %d/%d, want 3/1", v.Sent, v.Failed)
	}
}

func TestUpdate_Clamped(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Start("t1", "job", 4)
	tr.Update("t1", 3, 5, 9)

	v, _ := tr.Snapshot("t1")
	if v.Sent+v.Failed > v.Total {
		t.Errorf("sent+failed = %d exceeds total %d", v.Sent+v.Failed, v.Total)
	}
	if v.Skipped > v.Failed {
		t.Errorf("skipped %d exceeds failed %d", v.Skipped, v.Failed)
	}
	if v.Percentage != 100 {
		t.Errorf("Percentage = %d, want 100", v.Percentage)
	}
}

func TestUpdate_IgnoredAfterFinish(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Start("t1", "job", 5)
	tr.Update("t1", 1, 0, 0)
	tr.Finish("t1", true, "connection lost")
	tr.Update("t1", 5, 0, 0)

	v, _ := tr.Snapshot("t1")
	if v.Sent != 1 {
		t.Errorf("Sent = %d, want 1", v.Sent)
	}
	if !v.Aborted || v.AbortReason != "connection lost" {
		t.Errorf("Aborted/Reason = %v/%q", v.Aborted, v.AbortReason)
	}
}

func TestView_Derived(t *testing.T) {
	tr, clock := newTestTracker()
	tr.Start("t1", "job", 4)
	clock.advance(20 * time.Second)
	tr.Update("t1", 1, 1, 1)

	v, _ := tr.Snapshot("t1")
	if v.Percentage != 50 {
		t.Errorf("Percentage = %d, want 50", v.Percentage)
	}
	if v.ElapsedSeconds != 20 {
		t.Errorf("ElapsedSeconds = %d, want 20", v.ElapsedSeconds)
	}
	// 10s per contact, 2 left.
	if v.ETASeconds != 20 {
		t.Errorf("ETASeconds = %d, want 20", v.ETASeconds)
	}

	tr.Finish("t1", false, "")
	clock.advance(time.Hour)
	v, _ = tr.Snapshot("t1")
	if v.ElapsedSeconds != 20 {
		t.Errorf("ElapsedSeconds after finish = %d, want 20", v.ElapsedSeconds)
	}
	if v.ETASeconds != 0 {
		t.Errorf("ETASeconds after finish = %d, want 0", v.ETASeconds)
	}
}

func TestView_PercentageRounds(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Start("t1", "job", 3)
	tr.Update("t1", 2, 0, 0)
	v, _ := tr.Snapshot("t1")
	if v.Percentage != 67 {
		t.Errorf("Percentage = %d, want 67", v.Percentage)
	}
}

func TestStart_ResetsPreviousJob(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Start("t1", "a", 2)
	tr.Update("t1", 2, 0, 0)
	tr.Finish("t1", false, "")
	tr.Start("t1", "b", 5)

	v, _ := tr.Snapshot("t1")
	if v.JobID != "b" || v.Sent != 0 || !v.InProgress {
		t.Errorf("view = %+v", v)
	}
}

func TestClear(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Start("t1", "a", 2)
	tr.Clear("t1")
	if _, ok := tr.Snapshot("t1"); ok {
		t.Error("Snapshot ok = true after Clear")
	}
}

func TestSubscribe_ReceivesLatest(t *testing.T) {
	tr, _ := newTestTracker()
	ch, cancel := tr.Subscribe("t1")
	defer cancel()

	tr.Start("t1", "job", 3)
	tr.Update("t1", 1, 0, 0)
	tr.Update("t1", 2, 0, 0)

	v := <-ch
	if v.Sent != 2 {
		t.Errorf("latest view Sent = %d, want 2", v.Sent)
	}
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Start("t1", "job", 3)
	ch, cancel := tr.Subscribe("t1")
	<-ch // initial view
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	tr.Update("t1", 1, 0, 0)
}
