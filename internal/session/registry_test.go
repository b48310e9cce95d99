package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestRegistry_GetOrCreateIsSingleton(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})

	var wg sync.WaitGroup
	got := make([]*Instance, 50)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = r.GetOrCreate("t1")
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(got); i++ {
		if got[i] != got[0] {
			t.Fatal("GetOrCreate returned distinct instances for one tenant")
		}
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
	if got[0].State() != Idle {
		t.Errorf("new instance state = %s, want idle", got[0].State())
	}
}

func TestRegistry_GetDoesNotCreate(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	if _, ok := r.Get("nobody"); ok {
		t.Error("Get should not find an unknown tenant")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestRegistry_RemoveRunsHooks(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	var removed []string
	r.OnRemove(func(id string) { removed = append(removed, id) })

	r.GetOrCreate("t1")
	if !r.Remove("t1") {
		t.Fatal("Remove = false")
	}
	if r.Remove("t1") {
		t.Error("second Remove should report false")
	}
	if len(removed) != 1 || removed[0] != "t1" {
		t.Errorf("hooks saw %v, want [t1]", removed)
	}
}

func TestRegistry_List(t *testing.T) {
	r, p := newTestRegistry(t, Options{})
	r.GetOrCreate("b")
	connectReady(t, r, p, "a")

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("List len = %d, want 2", len(list))
	}
	if list[0].TenantID != "a" || !list[0].Ready || !list[0].HasClient {
		t.Errorf("list[0] = %+v", list[0])
	}
	if list[1].TenantID != "b" || list[1].Ready {
		t.Errorf("list[1] = %+v", list[1])
	}
}

func TestRegistry_SweepIdle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	r, p := newTestRegistry(t, Options{Now: clock})

	r.GetOrCreate("idle")
	connectReady(t, r, p, "busy")

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()

	removed := r.SweepIdle(time.Hour)
	if len(removed) != 1 || removed[0] != "idle" {
		t.Errorf("SweepIdle removed %v, want [idle]", removed)
	}
	if _, ok := r.Get("busy"); !ok {
		t.Error("connected instance should survive the sweep")
	}
}

func TestRegistry_RemoveClosesAttachedClient(t *testing.T) {
	r, p := newTestRegistry(t, Options{})
	in, c := connectReady(t, r, p, "t1")

	r.Remove("t1")
	if !c.Closed() {
		t.Error("client left on a removed instance should be closed")
	}
	if c.LogoutCount() != 0 {
		t.Errorf("LogoutCount = %d, want 0", c.LogoutCount())
	}
	if in.Client() != nil {
		t.Error("removed instance still holds a client")
	}
}

func TestRegistry_SweepRacingConnectLeavesNoOrphan(t *testing.T) {
	r, p := newTestRegistry(t, Options{})
	tenants := make([]string, 100)
	for i := range tenants {
		tenants[i] = fmt.Sprintf("t%03d", i)
		r.GetOrCreate(tenants[i])
	}
	time.Sleep(2 * time.Millisecond)

	var wg sync.WaitGroup
	for _, id := range tenants {
		in, _ := r.Get(id)
		wg.Add(1)
		go func() {
			defer wg.Done()
			in.Connect(context.Background())
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 20 {
			r.SweepIdle(0)
		}
	}()
	wg.Wait()

	for _, id := range tenants {
		c := p.LastClient(id)
		if c == nil || c.Closed() {
			continue
		}
		in, ok := r.Get(id)
		if !ok || in.Client() != c {
			t.Errorf("%s: open client has no owning session (registered=%t)", id, ok)
		}
	}
}

func TestRegistry_CloseKeepsCredentials(t *testing.T) {
	r, p := newTestRegistry(t, Options{})
	in := r.GetOrCreate("t1")
	if err := in.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c := p.LastClient("t1")
	r.Close()
	if !c.Closed() {
		t.Error("client should be closed")
	}
	if c.LogoutCount() != 0 {
		t.Error("Close must not log out")
	}
	if len(p.Purged()) != 0 {
		t.Error("Close must not purge credentials")
	}
	if in.State() != Idle {
		t.Errorf("state = %s, want idle", in.State())
	}
}

func TestRegistry_PurgeCredentialsWithoutInstance(t *testing.T) {
	r, p := newTestRegistry(t, Options{})
	if err := r.PurgeCredentials(context.Background(), "t9"); err != nil {
		t.Fatalf("PurgeCredentials: %v", err)
	}
	if got := p.Purged(); len(got) != 1 || got[0] != "t9" {
		t.Errorf("Purged = %v, want [t9]", got)
	}
	if r.Len() != 0 {
		t.Error("purging must not create an instance")
	}
}
