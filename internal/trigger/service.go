package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"schedd/internal/eventbus"
	logx "schedd/pkg/logx"
)

const BusEventRun = "trigger.run"

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	// base is cancelled on Stop so in-flight jobs see shutdown.
	base   context.Context
	cancel context.CancelFunc

	entries map[string]*entry
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "trigger")),
		bus:     bus,
		parser:  specParser,
		entries: map[string]*entry{},
	}
}

// Ensure registers job under name unless an entry with that name exists.
// Entries registered before Start are scheduled when Start runs.
func (s *Service) Ensure(name, schedule string, job func(ctx context.Context)) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, errors.New("name required")
	}
	if job == nil {
		return false, errors.New("job required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return false, nil
	}
	ps, err := ValidateSchedule(schedule)
	if err != nil {
		return false, err
	}
	spec := ps.CronSpec()

	e := &entry{name: name, spec: spec, job: job}
	if s.c != nil {
		if err := s.addLocked(e); err != nil {
			return false, err
		}
		s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.Time("next", s.c.Entry(e.entryID).Next))
	}
	s.entries[name] = e
	return true, nil
}

// Remove unregisters name. It reports whether something was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	if s.c != nil && e.entryID != 0 {
		s.c.Remove(e.entryID)
	}
	delete(s.entries, name)
	s.log.Debug("schedule removed", logx.String("name", name))
	return true
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg

	if s.c == nil {
		return
	}
	if oldTZ != newTZ {
		s.restartLocked()
	}
}

// Start starts cron triggering. Calling it twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.base, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.startLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.entries)))
}

// Stop stops triggering and waits for running jobs until ctx is done.
// Registered entries are kept and resume on the next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	for _, e := range s.entries {
		e.entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		// best-effort
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Running: s.c != nil, Timezone: s.loadLocationLocked().String()}
	for _, e := range s.entries {
		info := EntryInfo{Name: e.name, Spec: e.spec}
		if s.c != nil && e.entryID != 0 {
			ce := s.c.Entry(e.entryID)
			info.Next = ce.Next
			info.Prev = ce.Prev
		}
		snap.Entries = append(snap.Entries, info)
	}
	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].Name < snap.Entries[j].Name })
	return snap
}

func (s *Service) startLocked() {
	s.loc = s.loadLocationLocked()
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, e := range s.entries {
		if err := s.addLocked(e); err != nil {
			s.log.Error("schedule register failed", logx.String("name", e.name), logx.String("spec", e.spec), logx.Err(err))
		}
	}
	s.c.Start()
}

// restartLocked does not wait for running jobs: a job may call Ensure, which
// needs s.mu.
func (s *Service) restartLocked() {
	if s.c != nil {
		s.c.Stop()
	}
	s.startLocked()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.entries)))
}

func (s *Service) addLocked(e *entry) error {
	name, job := e.name, e.job
	base := s.base
	if base == nil {
		base = context.Background()
	}
	eid, err := s.c.AddFunc(e.spec, func() {
		s.mu.Lock()
		timeout := s.cfg.JobTimeout
		s.mu.Unlock()

		ctx := base
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		start := time.Now()
		job(ctx)
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: BusEventRun, Data: map[string]any{"name": name, "took_ms": time.Since(start).Milliseconds()}})
		}
	})
	if err != nil {
		return err
	}
	e.entryID = eid
	return nil
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, using UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}

// cronLogger adapts logx to cron.Logger for the job wrappers.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
