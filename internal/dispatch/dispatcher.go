package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"schedd/internal/eventbus"
	"schedd/internal/hooks"
	"schedd/internal/recurrence"
	"schedd/internal/schedule"
	"schedd/internal/storage"
	logx "schedd/pkg/logx"
)

type Options struct {
	Store     Store
	Evaluator *schedule.Evaluator
	Hooks     *hooks.Registry[schedule.Fire]
	Bus       eventbus.Bus
	Waker     Waker
	Log       logx.Logger
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

type Dispatcher struct {
	mu   sync.Mutex
	cfg  Config
	last *Report

	// runMu serializes runs inside this process. Cross-process overlap is
	// handled by the store's DayClaimer.
	runMu sync.Mutex

	store   Store
	claimer storage.DayClaimer
	runs    RunRecorder
	ev      *schedule.Evaluator
	hooks   *hooks.Registry[schedule.Fire]
	bus     eventbus.Bus
	waker   Waker
	log     logx.Logger
	now     func() time.Time
}

func New(cfg Config, opts Options) *Dispatcher {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	ev := opts.Evaluator
	if ev == nil {
		ev = schedule.NewEvaluator(nil)
	}
	hk := opts.Hooks
	if hk == nil {
		hk = hooks.New[schedule.Fire]()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	d := &Dispatcher{
		cfg:   cfg.withDefaults(),
		store: opts.Store,
		ev:    ev,
		hooks: hk,
		bus:   opts.Bus,
		waker: opts.Waker,
		log:   log.With(logx.String("comp", "dispatch")),
		now:   now,
	}
	if c, ok := opts.Store.(storage.DayClaimer); ok {
		d.claimer = c
	}
	if r, ok := opts.Store.(RunRecorder); ok {
		d.runs = r
	}
	return d
}

// Apply swaps the runtime config (hot reload).
func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.cfg = cfg.withDefaults()
	d.mu.Unlock()
}

func (d *Dispatcher) config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// LastReport is the report of the most recent run in this process.
func (d *Dispatcher) LastReport() (Report, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return Report{}, false
	}
	return *d.last, true
}

func (d *Dispatcher) Hooks() *hooks.Registry[schedule.Fire] { return d.hooks }

// TriggerName is the wake-up entry name EnsureDailyTrigger registers.
func (d *Dispatcher) TriggerName() string { return d.config().TriggerName }

// Today is the current calendar date in the configured location.
func (d *Dispatcher) Today() recurrence.Date {
	return recurrence.Today(d.now(), d.config().Location)
}

// RunToday runs the loop for Today.
func (d *Dispatcher) RunToday(ctx context.Context) (Report, error) {
	return d.Run(ctx, d.Today())
}

// RunUnit is one unit of work for the wake-up facility: a run bounded by
// RunTimeout, followed by EnsureDailyTrigger even when the run failed.
func (d *Dispatcher) RunUnit(ctx context.Context) {
	defer func() {
		if err := d.EnsureDailyTrigger(); err != nil {
			d.log.Error("ensure trigger failed", logx.Err(err))
		}
	}()

	if t := d.config().RunTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	rep, err := d.RunToday(ctx)
	if err != nil {
		d.log.Warn("dispatch run finished with errors", logx.Stringer("report", rep), logx.Err(err))
		return
	}
	d.log.Debug("dispatch run finished", logx.Stringer("report", rep))
}

// EnsureDailyTrigger registers the hourly wake-up unless it already exists.
func (d *Dispatcher) EnsureDailyTrigger() error {
	if d.waker == nil {
		return nil
	}
	cfg := d.config()
	added, err := d.waker.Ensure(cfg.TriggerName, cfg.Cadence, d.RunUnit)
	if err != nil {
		return fmt.Errorf("ensure trigger %q: %w", cfg.TriggerName, err)
	}
	if added {
		d.log.Info("wake-up registered", logx.String("name", cfg.TriggerName), logx.String("cadence", cfg.Cadence))
	}
	return nil
}

// Run evaluates every pending item for today.
//
// Invalid items are counted and still marked checked. Persistence failures
// are collected, the affected item stays pending, and the batch continues;
// the returned error joins them and matches ErrPersistence.
func (d *Dispatcher) Run(ctx context.Context, today recurrence.Date) (Report, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	cfg := d.config()
	rep := Report{RunID: uuid.NewString(), Date: today, Started: d.now()}
	log := d.log.With(logx.String("run", rep.RunID), logx.Stringer("date", today))

	if d.store == nil {
		return rep, errors.New("dispatch: no store configured")
	}
	if today.IsZero() {
		return rep, errors.New("dispatch: date required")
	}

	var errs []error
	after := ""
	seen := 0
pages:
	for {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		limit := cfg.PageSize
		if cfg.MaxItemsPerRun > 0 && cfg.MaxItemsPerRun-seen < limit {
			limit = cfg.MaxItemsPerRun - seen
		}
		page, err := d.store.ListItems(ctx, storage.ListQuery{
			PendingFor:    today,
			PublishedOnly: true,
			After:         after,
			Limit:         limit,
		})
		if err != nil {
			rep.Failed++
			errs = append(errs, fmt.Errorf("%w: list items: %w", ErrPersistence, err))
			log.Error("list items failed", logx.Err(err))
			break
		}
		for _, it := range page {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break pages
			}
			if err := d.process(ctx, log, it, today, &rep); err != nil {
				errs = append(errs, err)
			}
			after = it.ID
			seen++
		}
		if len(page) < limit {
			break
		}
		if cfg.MaxItemsPerRun > 0 && seen >= cfg.MaxItemsPerRun {
			rep.Truncated = true
			log.Info("run truncated", logx.Int("max_items_per_run", cfg.MaxItemsPerRun))
			break
		}
	}

	rep.Took = time.Since(rep.Started)
	err := errors.Join(errs...)
	d.mu.Lock()
	last := rep
	d.last = &last
	d.mu.Unlock()
	d.record(log, rep, err)
	d.publish(BusEventRun, rep)
	return rep, err
}

func (d *Dispatcher) process(ctx context.Context, log logx.Logger, it schedule.Item, today recurrence.Date, rep *Report) error {
	log = log.With(logx.String("item", it.ID))

	var prev recurrence.Date
	claimed := false
	if d.claimer != nil {
		p, ok, err := d.claimer.ClaimDay(ctx, it.ID, today)
		if err != nil {
			rep.Failed++
			log.Error("claim failed", logx.Err(err))
			return fmt.Errorf("%w: %s: claim: %w", ErrPersistence, it.ID, err)
		}
		if !ok {
			rep.Skipped++
			return nil
		}
		prev, claimed = p, true
	} else if it.CheckedOn(today) {
		rep.Skipped++
		return nil
	}
	rep.Checked++

	if err := d.ev.Validate(it); err != nil {
		rep.Invalid++
		log.Warn("invalid item skipped", logx.Err(err))
		return d.markChecked(ctx, log, it.ID, today, claimed, rep)
	}

	if d.ev.OccursOn(it, today) {
		if it.FiredOn(today) {
			// History already has today; a previous run died before
			// recording the check.
			log.Debug("already fired today")
		} else if err := d.store.AppendFireHistory(ctx, it.ID, today); err != nil {
			rep.Failed++
			log.Error("append fire history failed", logx.Err(err))
			if claimed {
				if rerr := d.claimer.ReleaseDay(ctx, it.ID, today, prev); rerr != nil {
					log.Error("release claim failed", logx.Err(rerr))
					err = errors.Join(err, rerr)
				}
			}
			return fmt.Errorf("%w: %s: append fire history: %w", ErrPersistence, it.ID, err)
		} else {
			d.fire(ctx, log, it, today, rep)
		}
	}

	return d.markChecked(ctx, log, it.ID, today, claimed, rep)
}

func (d *Dispatcher) markChecked(ctx context.Context, log logx.Logger, id string, today recurrence.Date, claimed bool, rep *Report) error {
	if claimed {
		return nil
	}
	if err := d.store.MarkChecked(ctx, id, today); err != nil {
		rep.Failed++
		log.Error("mark checked failed", logx.Err(err))
		return fmt.Errorf("%w: %s: mark checked: %w", ErrPersistence, id, err)
	}
	return nil
}

func (d *Dispatcher) fire(ctx context.Context, log logx.Logger, it schedule.Item, today recurrence.Date, rep *Report) {
	f := schedule.Fire{ItemID: it.ID, Title: it.Title, Date: today}
	rep.Fired++
	rep.FiredIDs = append(rep.FiredIDs, it.ID)
	log.Info("item fired", logx.String("title", it.Title))

	// Hook failures are reported but never undo the fire.
	if err := d.hooks.Emit(ctx, EventFire, f); err != nil {
		log.Warn("fire hook failed", logx.Err(err))
	}
	d.publish(BusEventFired, f)
}

func (d *Dispatcher) record(log logx.Logger, rep Report, runErr error) {
	if d.runs == nil {
		return
	}
	r := storage.RunRecord{
		ID:        rep.RunID,
		Date:      rep.Date,
		StartedAt: rep.Started,
		TookMS:    rep.Took.Milliseconds(),
		Checked:   rep.Checked,
		Fired:     rep.Fired,
		Invalid:   rep.Invalid,
		Failed:    rep.Failed,
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	// Best effort; use a fresh context so a timed-out run still gets a record.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.runs.AppendRun(ctx, r); err != nil {
		log.Warn("append run record failed", logx.Err(err))
	}
}

func (d *Dispatcher) publish(typ string, data any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: d.now(), Data: data})
}
