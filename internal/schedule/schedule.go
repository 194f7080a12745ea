// Package schedule is a small wrapper around robfig/cron: named jobs with
// per-job timeouts, skip-if-running overlap handling, and upsert-by-name so
// config hot-reloads can re-register jobs without duplicates.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "steamnewsbot/pkg/logx"
)

type Service struct {
	mu      sync.Mutex
	c       *cron.Cron
	entries map[string]cron.EntryID
	ctx     context.Context
	started bool

	log logx.Logger
}

// New creates a scheduler in the given IANA timezone (empty = local).
func New(timezone string, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if tz := strings.TrimSpace(timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("schedule timezone: invalid %q: %w", tz, err)
		}
		loc = l
	}
	return &Service{
		c:       cron.New(cron.WithLocation(loc)),
		entries: make(map[string]cron.EntryID),
		log:     log,
	}, nil
}

// ValidateSpec checks a cron spec without registering anything.
func ValidateSpec(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return errors.New("empty schedule spec")
	}
	_, err := cron.ParseStandard(spec)
	return err
}

// Add registers (or replaces) a named job. Specs accept standard cron fields
// plus descriptors like "@daily" and "@every 10m". A run that overlaps a
// still-active previous run is skipped; timeout bounds each run (0 = none).
func (s *Service) Add(name, spec string, timeout time.Duration, job func(ctx context.Context) error) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("job name required")
	}
	if job == nil {
		return errors.New("job func required")
	}

	var inFlight atomic.Bool
	wrapped := func() {
		if !inFlight.CompareAndSwap(false, true) {
			s.log.Debug("job still running, skipping", logx.String("job", name))
			return
		}
		defer inFlight.Store(false)

		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		if ctx.Err() != nil {
			return
		}

		runCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		started := time.Now()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("job panicked", logx.String("job", name), logx.Any("panic", r))
			}
		}()
		if err := job(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("job failed",
				logx.String("job", name),
				logx.Duration("took", time.Since(started)),
				logx.Err(err))
			return
		}
		s.log.Debug("job finished", logx.String("job", name), logx.Duration("took", time.Since(started)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[name]; ok {
		s.c.Remove(old)
		delete(s.entries, name)
	}
	id, err := s.c.AddFunc(spec, wrapped)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.entries[name] = id
	s.log.Debug("job registered", logx.String("job", name), logx.String("spec", spec))
	return nil
}

// AddInterval registers a fixed-interval job.
func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, job func(ctx context.Context) error) error {
	if every <= 0 {
		return fmt.Errorf("schedule %s: interval must be > 0", name)
	}
	return s.Add(name, "@every "+every.String(), timeout, job)
}

// Remove unregisters a job by name. Removing an unknown name is a no-op.
func (s *Service) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.c.Remove(id)
		delete(s.entries, name)
	}
}

// Start begins firing jobs. Jobs observe ctx as their parent context.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx = ctx
	s.started = true
	s.c.Start()
}

// Stop halts scheduling and waits for in-flight jobs, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	done := s.c.Stop().Done()
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out")
	}
}
