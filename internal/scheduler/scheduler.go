// Package scheduler polls every enabled service on an interval and commits
// each cycle to the cache and history store as one batch.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/janekbaraniewski/apiusage/internal/cache"
	"github.com/janekbaraniewski/apiusage/internal/config"
	"github.com/janekbaraniewski/apiusage/internal/core"
	"github.com/janekbaraniewski/apiusage/internal/metrics"
)

const DefaultFetchTimeout = 10 * time.Second

// Cycle triggers.
const (
	TriggerStartup  = "startup"
	TriggerInterval = "interval"
	TriggerManual   = "manual"
	TriggerConfig   = "config"
)

type State string

const (
	StateIdle    State = "idle"
	StatePolling State = "polling"
)

type ConfigSource interface {
	Current() config.Config
}

type CredentialResolver interface {
	Resolve(ctx context.Context, kind core.ServiceKind, svc config.ServiceConfig) (core.Credential, error)
}

type AdapterSource interface {
	Adapter(kind core.ServiceKind) (core.Adapter, bool)
}

// HistorySink is the part of the history store a cycle writes to.
type HistorySink interface {
	Append(ctx context.Context, points ...core.HistoryPoint) error
	Prune(ctx context.Context, now time.Time) (int64, error)
}

// Cycle is the outcome of one poll over all enabled services.
type Cycle struct {
	ID        string               `json:"cycle_id"`
	Trigger   string               `json:"trigger"`
	Started   time.Time            `json:"started"`
	Finished  time.Time            `json:"finished"`
	Snapshots []core.UsageSnapshot `json:"snapshots"`
}

type Options struct {
	Config       ConfigSource
	Resolver     CredentialResolver
	Adapters     AdapterSource
	Cache        *cache.Cache
	History      HistorySink
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
	FetchTimeout time.Duration
	Now          func() time.Time
}

type flight struct {
	done  chan struct{}
	cycle Cycle
}

type Scheduler struct {
	cfg      ConfigSource
	resolver CredentialResolver
	adapters AdapterSource
	cache    *cache.Cache
	history  HistorySink
	metrics  *metrics.Metrics
	log      *zap.Logger
	timeout  time.Duration
	now      func() time.Time

	wake chan struct{}

	mu       sync.Mutex
	base     context.Context
	inflight *flight
	last     *Cycle
}

func New(opts Options) *Scheduler {
	s := &Scheduler{
		cfg:      opts.Config,
		resolver: opts.Resolver,
		adapters: opts.Adapters,
		cache:    opts.Cache,
		history:  opts.History,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		timeout:  opts.FetchTimeout,
		now:      opts.Now,
		wake:     make(chan struct{}, 1),
		base:     context.Background(),
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.timeout <= 0 {
		s.timeout = DefaultFetchTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.cache == nil {
		s.cache = cache.New(cache.DefaultTTL)
	}
	return s
}

func (s *Scheduler) Cache() *cache.Cache { return s.cache }

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight != nil {
		return StatePolling
	}
	return StateIdle
}

// LastCycle returns the most recently completed cycle.
func (s *Scheduler) LastCycle() (Cycle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Cycle{}, false
	}
	return *s.last, true
}

// Run polls once immediately and then every refresh interval until ctx is
// done. The interval is re-read after each cycle.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.wait(ctx, s.begin(TriggerStartup))
	for {
		timer := time.NewTimer(s.cfg.Current().RefreshInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("poll_loop_stop", zap.String("reason", "context_done"))
			return nil
		case <-timer.C:
			s.wait(ctx, s.begin(TriggerInterval))
		case <-s.wake:
			timer.Stop()
			s.wait(ctx, s.begin(TriggerConfig))
		}
	}
}

// Refresh runs a cycle now and waits for it. A caller arriving while a cycle
// is in flight joins that cycle instead of starting another. Cancelling ctx
// stops the wait, not the cycle.
func (s *Scheduler) Refresh(ctx context.Context) (Cycle, error) {
	f := s.begin(TriggerManual)
	select {
	case <-f.done:
		return f.cycle, nil
	case <-ctx.Done():
		return Cycle{}, ctx.Err()
	}
}

// Notify is a config.Subscriber. Changing the enabled service set polls out
// of band; other changes take effect on the next natural cycle.
func (s *Scheduler) Notify(old, next config.Config) {
	before, after := old.EnabledServices(), next.EnabledServices()
	if slices.Equal(before, after) {
		return
	}
	for _, kind := range before {
		if !slices.Contains(after, kind) {
			s.cache.Delete(kind)
			s.metrics.SetUsage(kind, nil)
		}
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) begin(trigger string) *flight {
	s.mu.Lock()
	if f := s.inflight; f != nil {
		s.mu.Unlock()
		return f
	}
	f := &flight{done: make(chan struct{})}
	s.inflight = f
	ctx := s.base
	s.mu.Unlock()

	go func() {
		f.cycle = s.runCycle(ctx, trigger)
		s.mu.Lock()
		s.inflight = nil
		s.last = &f.cycle
		s.mu.Unlock()
		close(f.done)
	}()
	return f
}

func (s *Scheduler) wait(ctx context.Context, f *flight) {
	select {
	case <-f.done:
	case <-ctx.Done():
	}
}

func (s *Scheduler) runCycle(ctx context.Context, trigger string) Cycle {
	cfg := s.cfg.Current()
	kinds := cfg.EnabledServices()
	cycle := Cycle{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Started:   s.now().UTC(),
		Snapshots: []core.UsageSnapshot{},
	}
	if len(kinds) == 0 {
		s.log.Debug("poll_skipped", zap.String("reason", "no_enabled_services"), zap.String("cycle_id", cycle.ID))
		cycle.Finished = s.now().UTC()
		return cycle
	}

	type result struct {
		index int
		snap  core.UsageSnapshot
	}
	results := make(chan result, len(kinds))
	var wg sync.WaitGroup
	for i, kind := range kinds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- result{index: i, snap: s.poll(ctx, cycle.ID, kind, cfg.Services[kind], cycle.Started)}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	snaps := make([]core.UsageSnapshot, len(kinds))
	errorCount := 0
	for r := range results {
		snaps[r.index] = r.snap
		if r.snap.Failed() {
			errorCount++
		}
	}

	s.commit(ctx, cycle.ID, snaps)
	cycle.Snapshots = snaps
	cycle.Finished = s.now().UTC()

	duration := cycle.Finished.Sub(cycle.Started)
	s.metrics.ObservePollCycle(trigger, duration)
	s.log.Info("poll_cycle",
		zap.String("cycle_id", cycle.ID),
		zap.String("trigger", trigger),
		zap.Int("services", len(kinds)),
		zap.Int("errors", errorCount),
		zap.Duration("duration", duration),
	)
	return cycle
}

type fetchResult struct {
	snap core.UsageSnapshot
	err  error
}

// poll resolves and fetches one service. It returns within the fetch timeout
// even if the adapter ignores its context; a late result is dropped.
func (s *Scheduler) poll(ctx context.Context, cycleID string, kind core.ServiceKind, svc config.ServiceConfig, now time.Time) core.UsageSnapshot {
	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	name := kind.DisplayName(svc.Label)
	started := time.Now()
	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchResult{err: fmt.Errorf("adapter panic: %v", r)}
			}
		}()
		snap, err := s.fetch(fetchCtx, kind, svc, now)
		done <- fetchResult{snap: snap, err: err}
	}()

	var res fetchResult
	outcome := metrics.OutcomeOK
	select {
	case res = <-done:
	case <-fetchCtx.Done():
		res.err = &core.UpstreamError{Message: fmt.Sprintf("timed out after %s", s.timeout), Err: fetchCtx.Err()}
		outcome = metrics.OutcomeTimeout
	}

	snap := res.snap
	if res.err != nil {
		var credErr *core.CredentialError
		switch {
		case outcome == metrics.OutcomeTimeout:
		case errors.As(res.err, &credErr):
			outcome = metrics.OutcomeCredential
		default:
			outcome = metrics.OutcomeError
		}
		s.log.Warn("adapter_error",
			zap.String("cycle_id", cycleID),
			zap.String("service", string(kind)),
			zap.String("outcome", outcome),
			zap.Error(res.err),
		)
		snap = core.NewErrorSnapshot(kind, name, res.err.Error(), now)
	}
	s.metrics.ObserveFetch(kind, outcome, time.Since(started))
	return core.NormalizeSnapshot(snap, kind, name, now)
}

func (s *Scheduler) fetch(ctx context.Context, kind core.ServiceKind, svc config.ServiceConfig, now time.Time) (core.UsageSnapshot, error) {
	adapter, ok := s.adapters.Adapter(kind)
	if !ok {
		return core.UsageSnapshot{}, fmt.Errorf("no adapter registered for %q", kind)
	}
	cred, err := s.resolver.Resolve(ctx, kind, svc)
	if err != nil {
		return core.UsageSnapshot{}, err
	}
	req := core.FetchRequest{
		Kind:       kind,
		Credential: cred,
		Settings:   svc.Settings(kind),
		Now:        now,
	}
	if entry, ok := s.cache.Get(kind); ok {
		prior := entry.Snapshot
		req.Prior = &prior
	}
	return adapter.Fetch(ctx, req)
}

// commit publishes the cycle to the cache, then records it in history.
// History failures are logged and never reach readers.
func (s *Scheduler) commit(ctx context.Context, cycleID string, snaps []core.UsageSnapshot) {
	s.cache.PutBatch(snaps)

	now := s.now()
	points := make([]core.HistoryPoint, 0, len(snaps))
	for _, snap := range snaps {
		point := core.PointFromSnapshot(snap, now)
		known := s.cache.LastKnownPercentage(snap.ID)
		if snap.Failed() {
			point.Percentage = known
		}
		s.metrics.SetUsage(snap.ID, known)
		points = append(points, point)
	}

	if s.history == nil {
		return
	}
	if err := s.history.Append(ctx, points...); err != nil {
		s.metrics.HistoryWriteFailed()
		s.log.Warn("history_store_error", zap.String("cycle_id", cycleID), zap.String("op", "append"), zap.Error(err))
	}
	if _, err := s.history.Prune(ctx, now); err != nil {
		s.log.Warn("history_store_error", zap.String("cycle_id", cycleID), zap.String("op", "prune"), zap.Error(err))
	}
}
