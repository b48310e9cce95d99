// Package dispatch runs bulk send jobs: one background goroutine per tenant
// that walks a contact list in order, probing, personalizing, retrying and
// pacing each send.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zulandar/heraldo/internal/apperr"
	"github.com/zulandar/heraldo/internal/models"
	"github.com/zulandar/heraldo/internal/notify"
	"github.com/zulandar/heraldo/internal/progress"
	"github.com/zulandar/heraldo/internal/quota"
	"github.com/zulandar/heraldo/internal/session"
	"github.com/zulandar/heraldo/internal/transport"
)

// Sessions looks up a tenant's session.
type Sessions interface {
	Get(tenantID string) (*session.Instance, bool)
}

// QuotaChecker admits jobs against the daily limit.
type QuotaChecker interface {
	CheckAndReserve(ctx context.Context, tenantID string, count int) (quota.Decision, error)
}

// ResultSink persists each contact's outcome as it resolves.
type ResultSink interface {
	RecordSend(ctx context.Context, rec models.SendRecord) error
}

// JobRecorder persists the summary of a finished job.
type JobRecorder interface {
	SaveJob(ctx context.Context, job models.DispatchJob) error
}

// JobNotifier is told when a job ends.
type JobNotifier interface {
	JobFinished(ctx context.Context, s notify.Summary) error
}

// Outcome is the resolution of one contact.
type Outcome string

const (
	Sent    Outcome = "sent"
	Skipped Outcome = "skipped"
	Failed  Outcome = "failed"
)

// Request is a bulk send as submitted by a caller.
type Request struct {
	TenantID    string
	Contacts    []Contact
	Message     string
	ImageBase64 string
}

// Target is a validated contact.
type Target struct {
	Raw     string
	Name    string
	Address string
}

// Job is an accepted bulk request. It is immutable once Submit returns.
type Job struct {
	ID        string
	TenantID  string
	Targets   []Target
	Message   string
	Image     *Image
	CreatedAt time.Time
}

// Result is the outcome of one contact. Err is set iff Outcome is Failed.
type Result struct {
	Target   Target
	Outcome  Outcome
	Address  string
	Text     string
	Err      error
	Attempts int
	At       time.Time
}

// Options configures a Scheduler.
type Options struct {
	Sessions Sessions
	Quota    QuotaChecker
	Results  ResultSink
	Tracker  *progress.Tracker

	// Optional.
	Jobs     JobRecorder
	Notifier JobNotifier
	Sleeper  Sleeper
	Rand     Rand
	Policy   *Policy
	Log      zerolog.Logger
	Now      func() time.Time
}

type run struct {
	job    *Job
	cancel context.CancelFunc
}

// Scheduler admits bulk jobs and runs them. At most one job runs per tenant.
type Scheduler struct {
	sessions Sessions
	quota    QuotaChecker
	results  ResultSink
	jobs     JobRecorder
	notifier JobNotifier
	tracker  *progress.Tracker
	sleeper  Sleeper
	rng      Rand
	log      zerolog.Logger
	now      func() time.Time

	base       context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	policy  Policy
	running map[string]*run
}

// NewScheduler creates a Scheduler.
func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("dispatch: sessions is required")
	}
	if opts.Quota == nil {
		return nil, fmt.Errorf("dispatch: quota is required")
	}
	if opts.Results == nil {
		return nil, fmt.Errorf("dispatch: results sink is required")
	}
	if opts.Tracker == nil {
		return nil, fmt.Errorf("dispatch: tracker is required")
	}
	if opts.Sleeper == nil {
		opts.Sleeper = TimerSleeper{}
	}
	if opts.Rand == nil {
		opts.Rand = NewLockedRand(time.Now().UnixNano())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	pol := DefaultPolicy()
	if opts.Policy != nil {
		pol = *opts.Policy
	}
	if pol.RetryAttempts < 1 {
		pol.RetryAttempts = 1
	}

	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		sessions:   opts.Sessions,
		quota:      opts.Quota,
		results:    opts.Results,
		jobs:       opts.Jobs,
		notifier:   opts.Notifier,
		tracker:    opts.Tracker,
		sleeper:    opts.Sleeper,
		rng:        opts.Rand,
		log:        opts.Log,
		now:        opts.Now,
		base:       base,
		baseCancel: cancel,
		policy:     pol,
		running:    make(map[string]*run),
	}, nil
}

// Policy returns the policy new jobs will use.
func (s *Scheduler) Policy() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// SetPolicy replaces the policy for jobs submitted from now on.
func (s *Scheduler) SetPolicy(p Policy) {
	if p.RetryAttempts < 1 {
		p.RetryAttempts = 1
	}
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
	s.log.Info().Msg("dispatch policy updated")
}

// Running reports whether tenantID has a job in flight.
func (s *Scheduler) Running(tenantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[tenantID]
	return ok
}

// Cancel aborts tenantID's running job. Contacts not yet attempted stay
// unattempted. It reports whether a job was running.
func (s *Scheduler) Cancel(tenantID string) bool {
	s.mu.Lock()
	r, ok := s.running[tenantID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	r.cancel()
	return true
}

// Wait blocks until every running job has finished.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Close cancels all running jobs and waits for them to finish.
func (s *Scheduler) Close() {
	s.baseCancel()
	s.wg.Wait()
}

// Submit validates req, checks the session and quota, and starts the job in
// the background. It returns as soon as the job is accepted. ctx bounds only
// the admission checks, not the job.
func (s *Scheduler) Submit(ctx context.Context, req Request) (*Job, error) {
	pol := s.Policy()
	job, err := s.prepare(req, pol)
	if err != nil {
		return nil, err
	}

	in, ok := s.sessions.Get(req.TenantID)
	if !ok {
		return nil, apperr.New(apperr.SessionNotReady, "dispatch.Submit", "no session for tenant; connect first")
	}
	if st := in.Reconcile(ctx); st != session.Ready {
		return nil, apperr.New(apperr.SessionNotReady, "dispatch.Submit",
			fmt.Sprintf("session is %s, not ready", st))
	}

	jobCtx, cancel := context.WithCancel(s.base)
	r := &run{job: job, cancel: cancel}

	s.mu.Lock()
	if _, busy := s.running[req.TenantID]; busy {
		s.mu.Unlock()
		cancel()
		return nil, apperr.Wrap(apperr.Conflict, "dispatch.Submit", "a bulk job is already running for this tenant", ErrJobRunning)
	}
	s.running[req.TenantID] = r
	s.mu.Unlock()

	if _, err := s.quota.CheckAndReserve(ctx, req.TenantID, len(job.Targets)); err != nil {
		s.release(req.TenantID, r)
		return nil, err
	}

	in.CancelTeardown()
	s.tracker.Start(req.TenantID, job.ID, len(job.Targets))

	s.log.Info().
		Str("tenant", job.TenantID).
		Str("job", job.ID).
		Int("contacts", len(job.Targets)).
		Bool("image", job.Image != nil).
		Msg("bulk job accepted")

	s.wg.Add(1)
	go s.run(jobCtx, in, r, pol)
	return job, nil
}

func (s *Scheduler) release(tenantID string, r *run) {
	s.mu.Lock()
	if s.running[tenantID] == r {
		delete(s.running, tenantID)
	}
	s.mu.Unlock()
	r.cancel()
}

// prepare validates req and builds the Job.
func (s *Scheduler) prepare(req Request, pol Policy) (*Job, error) {
	const op = "dispatch.Submit"
	if strings.TrimSpace(req.TenantID) == "" {
		return nil, apperr.Validationf(op, "tenant id is required")
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, apperr.Validationf(op, "message is required")
	}
	if len(req.Contacts) == 0 {
		return nil, apperr.Validationf(op, "at least one contact is required")
	}

	norm := NewNormalizer(pol.Suffix, pol.CountryCodes)
	targets := make([]Target, 0, len(req.Contacts))
	for i, c := range req.Contacts {
		addr, err := norm.Normalize(c.Number)
		if err != nil {
			return nil, apperr.Validationf(op, "contact %d (%q) is not a valid number", i+1, c.Number)
		}
		targets = append(targets, Target{Raw: c.Number, Name: displayName(c.Name), Address: addr})
	}

	var img *Image
	if strings.TrimSpace(req.ImageBase64) != "" {
		var err error
		img, err = DecodeImage(strings.TrimSpace(req.ImageBase64), pol.MaxImageBytes)
		if err != nil {
			return nil, err
		}
	}

	return &Job{
		ID:        uuid.NewString(),
		TenantID:  req.TenantID,
		Targets:   targets,
		Message:   msg,
		Image:     img,
		CreatedAt: s.now(),
	}, nil
}

// run executes a job and always finishes it, even after a panic.
func (s *Scheduler) run(ctx context.Context, in *session.Instance, r *run, pol Policy) {
	defer s.wg.Done()
	job := r.job
	log := s.log.With().Str("tenant", job.TenantID).Str("job", job.ID).Logger()

	var (
		results []Result
		reason  string
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				log.Error().Interface("panic", p).Msg("bulk job crashed")
				reason = "internal error"
			}
		}()
		reason = s.execute(ctx, in, job, pol, log, &results)
	}()

	s.finish(ctx, in, r, pol, results, reason, log)
}

// execute walks the targets in order and returns a non-empty reason when
// the job ended early. Results are appended to *out as they resolve so a
// panic keeps the partial list.
func (s *Scheduler) execute(ctx context.Context, in *session.Instance, job *Job, pol Policy, log zerolog.Logger, out *[]Result) string {
	pacer := NewPacer(pol.Tiers, pol.JitterMin, pol.JitterMax, s.rng)
	pers := NewPersonalizer(pol.Decorations, s.rng)

	var sent, failed, skipped int
	for i, t := range job.Targets {
		if ctx.Err() != nil {
			return "cancelled"
		}

		res := s.attempt(ctx, in, job, t, pers, pol, log)
		*out = append(*out, res)
		switch res.Outcome {
		case Sent:
			sent++
		case Skipped:
			skipped++
		case Failed:
			failed++
		}
		s.record(job, res, log)
		s.tracker.Update(job.TenantID, sent, failed+skipped, skipped)

		if res.Outcome == Failed {
			if ctx.Err() != nil {
				return "cancelled"
			}
			if transport.IsFatal(res.Err) {
				log.Warn().Err(res.Err).Int("contact", i+1).Msg("connection lost; aborting remaining contacts")
				return "connection lost: " + res.Err.Error()
			}
		}

		if i < len(job.Targets)-1 {
			if err := s.sleeper.Sleep(ctx, pacer.Delay(i+1)); err != nil {
				return "cancelled"
			}
		}
	}
	return ""
}

// attempt resolves one contact: probe, personalize, send with retries.
func (s *Scheduler) attempt(ctx context.Context, in *session.Instance, job *Job, t Target, pers *Personalizer, pol Policy, log zerolog.Logger) Result {
	res := Result{Target: t, Address: t.Address}

	c := in.Client()
	if c == nil {
		res.Outcome, res.Err, res.At = Failed, transport.ErrNoTransport, s.now()
		return res
	}

	if pol.Probe {
		registered, err := c.ProbeRegistered(ctx, t.Address)
		switch {
		case err != nil:
			log.Debug().Err(err).Str("address", t.Address).Msg("existence probe failed; sending anyway")
		case !registered:
			res.Outcome, res.At = Skipped, s.now()
			return res
		}
	}

	res.Text = pers.Personalize(job.Message)
	payload := transport.Payload{Text: res.Text}
	if job.Image != nil {
		payload.Image = job.Image.Data
		payload.MimeType = job.Image.MimeType
	}

	var lastErr error
	for n := 1; n <= pol.RetryAttempts; n++ {
		res.Attempts = n
		lastErr = c.Send(ctx, t.Address, payload)
		if lastErr == nil {
			res.Outcome, res.At = Sent, s.now()
			return res
		}
		log.Debug().Err(lastErr).Str("address", t.Address).Int("attempt", n).Msg("send failed")
		if n == pol.RetryAttempts || ctx.Err() != nil {
			break
		}
		if err := s.sleeper.Sleep(ctx, pol.RetryPause); err != nil {
			break
		}
	}
	res.Outcome, res.Err, res.At = Failed, lastErr, s.now()
	return res
}

// record persists res. Persistence failures are logged; the job goes on.
func (s *Scheduler) record(job *Job, res Result, log zerolog.Logger) {
	rec := models.SendRecord{
		TenantID:    job.TenantID,
		JobID:       job.ID,
		Address:     res.Address,
		ContactName: res.Target.Name,
		Message:     res.Text,
		Status:      string(res.Outcome),
		Success:     res.Outcome == Sent,
		SentAt:      res.At,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	// Not bound to the job context: the row must land even when the job is
	// being cancelled.
	if err := s.results.RecordSend(context.Background(), rec); err != nil {
		log.Error().Err(err).Str("address", res.Address).Msg("record send result")
	}
}

// finish releases the tenant's running slot, persists the summary, notifies
// and schedules the post-job teardown.
func (s *Scheduler) finish(ctx context.Context, in *session.Instance, r *run, pol Policy, results []Result, reason string, log zerolog.Logger) {
	job := r.job
	cancelled := ctx.Err() != nil
	aborted := reason != ""

	sum := notify.Summary{
		TenantID:    job.TenantID,
		JobID:       job.ID,
		Total:       len(job.Targets),
		Aborted:     aborted,
		AbortReason: reason,
		WithImage:   job.Image != nil,
		Duration:    s.now().Sub(job.CreatedAt),
	}
	for _, res := range results {
		switch res.Outcome {
		case Sent:
			sum.Sent++
		case Skipped:
			sum.Skipped++
		case Failed:
			sum.Failed++
		}
	}

	s.mu.Lock()
	s.tracker.Finish(job.TenantID, aborted, reason)
	if s.running[job.TenantID] == r {
		delete(s.running, job.TenantID)
	}
	s.mu.Unlock()
	r.cancel()

	log.Info().
		Int("sent", sum.Sent).
		Int("failed", sum.Failed).
		Int("skipped", sum.Skipped).
		Bool("aborted", aborted).
		Str("reason", reason).
		Dur("took", sum.Duration).
		Msg("bulk job finished")

	bg := context.Background()
	if s.jobs != nil {
		finished := s.now()
		rec := models.DispatchJob{
			ID:          job.ID,
			TenantID:    job.TenantID,
			Total:       sum.Total,
			Sent:        sum.Sent,
			Failed:      sum.Failed,
			Skipped:     sum.Skipped,
			Aborted:     aborted,
			AbortReason: reason,
			WithImage:   sum.WithImage,
			CreatedAt:   job.CreatedAt,
			FinishedAt:  &finished,
		}
		if err := s.jobs.SaveJob(bg, rec); err != nil {
			log.Error().Err(err).Msg("save job summary")
		}
	}
	if s.notifier != nil {
		if err := s.notifier.JobFinished(bg, sum); err != nil {
			log.Warn().Err(err).Msg("job notification")
		}
	}

	if pol.AutoLogout && !cancelled {
		in.ScheduleTeardown(pol.AutoLogoutGrace)
	}
}

// ErrJobRunning is wrapped by the Conflict error Submit returns for a busy
// tenant.
var ErrJobRunning = errors.New("dispatch: job already running")

// lockedRand makes a *rand.Rand safe for the concurrent job goroutines.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewLockedRand returns a Rand safe for concurrent use.
func NewLockedRand(seed int64) Rand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

func (l *lockedRand) Int63n(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int63n(n)
}
