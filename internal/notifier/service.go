package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"schedd/internal/eventbus"
	rtsup "schedd/internal/runtime/supervisor"
	"schedd/internal/schedule"
	logx "schedd/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const historyLimit = 300

type job struct {
	fire schedule.Fire
	text string
}

// Service implements an async notification pipeline:
// queue + worker + rate limit + retry.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if sender == nil {
		sender = LogSender{Log: log}
	}
	s := &Service{sender: sender, log: log, bus: bus}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps config and sender. Queue size and worker count take effect on
// the next Start.
func (s *Service) Apply(cfg Config, sender Sender) {
	s.mu.Lock()
	s.applyLocked(cfg)
	if sender != nil {
		s.sender = sender
	}
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if strings.TrimSpace(cfg.Template) == "" {
		cfg.Template = DefaultTemplate
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent. A disabled service does not start.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		// delivery is best-effort; a failing worker must not cancel siblings.
		rtsup.WithCancelOnError(false),
	)
	sup, q, workers := s.sup, s.queue, s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("notifier worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
}

// Stop stops intake and drains the queue until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// HandleFire is the fire hook. It never blocks on delivery.
func (s *Service) HandleFire(ctx context.Context, f schedule.Fire) error {
	err := s.Notify(ctx, f)
	if errors.Is(err, ErrDisabled) {
		return nil
	}
	return err
}

// Notify renders f and enqueues it.
func (s *Service) Notify(ctx context.Context, f schedule.Fire) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	text := Render(s.cfg.Template, f)
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- job{fire: f, text: text}:
		s.publish("notifier.queued", f, nil)
		return nil
	default:
		s.publish("notifier.dropped", f, ErrQueueFull)
		s.log.Warn("notification dropped", logx.String("item", f.ItemID), logx.Stringer("date", f.Date))
		return ErrQueueFull
	}
}

// Render substitutes {id}, {title} and {date} in tmpl.
func Render(tmpl string, f schedule.Fire) string {
	title := f.Title
	if title == "" {
		title = f.ItemID
	}
	return strings.NewReplacer(
		"{id}", f.ItemID,
		"{title}", title,
		"{date}", f.Date.String(),
	).Replace(tmpl)
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(itemID, text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), ItemID: itemID, Text: text})
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim, sender, log := s.cfg, s.limiter, s.sender, s.log
	s.mu.Unlock()

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := sender.Send(callCtx, j.text)
		cancel()
		if err == nil {
			s.appendHistory(j.fire.ItemID, j.text)
			s.publish("notifier.sent", j.fire, nil)
			return
		}
		lastErr = err
		log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	log.Warn("notification failed", logx.String("item", j.fire.ItemID), logx.Err(lastErr))
	s.publish("notifier.failed", j.fire, lastErr)
}

func (s *Service) publish(typ string, f schedule.Fire, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := Event{ItemID: f.ItemID, Date: f.Date.String(), At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

// retryDelay is the wait before attempt+1: exponential from RetryBase,
// capped at RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
