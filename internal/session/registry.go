package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/heraldo/internal/transport"
)

// Options configures a Registry.
type Options struct {
	// BadSessionPurgeDelay is how long after a bad-session disconnect the
	// stored credentials are purged. Zero disables the purge.
	BadSessionPurgeDelay time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Registry owns every tenant's Instance. At most one Instance exists per
// tenant id.
type Registry struct {
	provider transport.Provider
	log      zerolog.Logger
	opts     Options

	mu        sync.RWMutex
	instances map[string]*Instance
	onRemove  []func(tenantID string)
}

// NewRegistry creates an empty Registry backed by provider.
func NewRegistry(provider transport.Provider, log zerolog.Logger, opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		provider:  provider,
		log:       log,
		opts:      opts,
		instances: make(map[string]*Instance),
	}
}

// OnRemove registers fn to run after a tenant's instance is removed. The
// dispatch layer uses it to drop the tenant's progress record.
func (r *Registry) OnRemove(fn func(tenantID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = append(r.onRemove, fn)
}

// GetOrCreate returns the tenant's instance, creating an Idle one if none
// exists. Concurrent callers for the same tenant get the same instance.
func (r *Registry) GetOrCreate(tenantID string) *Instance {
	r.mu.RLock()
	in, ok := r.instances[tenantID]
	r.mu.RUnlock()
	if ok {
		return in
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if in, ok := r.instances[tenantID]; ok {
		return in
	}
	in = newInstance(tenantID, r.provider, r.log, r.opts)
	r.instances[tenantID] = in
	r.log.Debug().Str("tenant", tenantID).Msg("session instance created")
	return in
}

// Get returns the tenant's instance without creating one.
func (r *Registry) Get(tenantID string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.instances[tenantID]
	return in, ok
}

// Remove drops the tenant's instance and cancels its timers and event pump.
// Callers Disconnect first to log out; a client still attached is closed.
func (r *Registry) Remove(tenantID string) bool {
	r.mu.Lock()
	in, ok := r.instances[tenantID]
	delete(r.instances, tenantID)
	hooks := append([]func(string){}, r.onRemove...)
	r.mu.Unlock()
	if !ok {
		return false
	}
	in.detach()
	for _, fn := range hooks {
		fn(tenantID)
	}
	r.log.Debug().Str("tenant", tenantID).Msg("session instance removed")
	return true
}

// PurgeCredentials deletes the tenant's stored pairing even when no
// instance exists, e.g. after a restart.
func (r *Registry) PurgeCredentials(ctx context.Context, tenantID string) error {
	if err := r.provider.PurgeCredentials(ctx, tenantID); err != nil {
		return fmt.Errorf("session: purge credentials: %w", err)
	}
	r.log.Info().Str("tenant", tenantID).Msg("stored credentials purged")
	return nil
}

// List returns a summary of every instance, sorted by tenant id.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	out := make([]Summary, 0, len(r.instances))
	for _, in := range r.instances {
		out = append(out, in.Summary())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

// Len returns the number of live instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// SweepIdle removes instances that hold no client and have been inactive
// for at least maxIdle. It returns the removed tenant ids. Idleness is
// re-checked under the registry lock, so an instance that started
// connecting after the scan is kept.
func (r *Registry) SweepIdle(maxIdle time.Duration) []string {
	cutoff := r.opts.Now().Add(-maxIdle)

	r.mu.Lock()
	var removed []string
	for id, in := range r.instances {
		if in.detachIfIdle(cutoff) {
			delete(r.instances, id)
			removed = append(removed, id)
		}
	}
	hooks := append([]func(string){}, r.onRemove...)
	r.mu.Unlock()

	sort.Strings(removed)
	for _, id := range removed {
		for _, fn := range hooks {
			fn(id)
		}
	}
	if len(removed) > 0 {
		r.log.Info().Int("count", len(removed)).Msg("swept idle sessions")
	}
	return removed
}

// Close releases every instance's client without logging out, so stored
// credentials survive a restart.
func (r *Registry) Close() {
	r.mu.Lock()
	all := make([]*Instance, 0, len(r.instances))
	for _, in := range r.instances {
		all = append(all, in)
	}
	r.mu.Unlock()

	for _, in := range all {
		in.mu.Lock()
		in.stopTimersLocked()
		_, c, _ := in.applyLocked(transport.Event{Kind: EventManualDisconnect, Reason: "shutdown"})
		in.mu.Unlock()
		closeClient(c, in.log)
	}
}
