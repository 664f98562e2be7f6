// Package taskloop drives the review queue: navigate to the queue, open the
// next work item window, hand it to the processor, and recover from errors
// until stopped.
package taskloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labelbot/labelbot/pkg/browser"
	"github.com/labelbot/labelbot/pkg/processor"
	"github.com/labelbot/labelbot/pkg/status"
)

var (
	// ErrNoItemWindow means the review button did not open a new window in time.
	ErrNoItemWindow = errors.New("work item window did not appear")
	// ErrRecoveryFailed means the primary window could not be restored.
	ErrRecoveryFailed = errors.New("could not recover browser state")
	// ErrTooManyFailures means MaxConsecutiveFailures was exceeded.
	ErrTooManyFailures = errors.New("too many consecutive failures")
)

type State string

const (
	StateIdle           State = "idle"
	StateNavigated      State = "navigated"
	StateItemWindowOpen State = "item-window-open"
	StateProcessing     State = "processing"
	StateRecovering     State = "error-recovering"
)

// Strategy decides what happens to the item window after a cycle.
type Strategy string

const (
	// StrategyStay keeps the item window and processes whatever the site
	// loads into it next.
	StrategyStay Strategy = "stay"
	// StrategyReopen closes the item window and starts again from the queue.
	StrategyReopen Strategy = "reopen"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyStay:
		return StrategyStay, nil
	case StrategyReopen:
		return StrategyReopen, nil
	}
	return "", fmt.Errorf("unknown loop strategy %q (want stay or reopen)", s)
}

// Stop reasons reported in Summary.
const (
	ReasonStopped         = "stopped"
	ReasonCancelled       = "cancelled"
	ReasonLimit           = "item limit reached"
	ReasonSessionLost     = "browser session lost"
	ReasonRecoveryFailed  = "recovery failed"
	ReasonTooManyFailures = "too many consecutive failures"
)

// ItemProcessor handles the item in the focused window.
type ItemProcessor interface {
	Process(ctx context.Context) (processor.Outcome, error)
}

type Config struct {
	QueueURL    string
	ReviewStart string
	Strategy    Strategy

	StartTimeout  time.Duration
	WindowTimeout time.Duration
	WindowPoll    time.Duration
	NextItemPause time.Duration
	RecoveryPause time.Duration
	RetryPause    time.Duration

	// MaxConsecutiveFailures bounds back-to-back recoveries; 0 = unlimited.
	MaxConsecutiveFailures int
	// MaxItems stops the loop after that many processed items; 0 = unlimited.
	MaxItems int
}

func DefaultConfig() Config {
	return Config{
		ReviewStart:   "#reviewStart",
		Strategy:      StrategyStay,
		StartTimeout:  15 * time.Second,
		WindowTimeout: 15 * time.Second,
		WindowPoll:    250 * time.Millisecond,
		NextItemPause: 2 * time.Second,
		RecoveryPause: 5 * time.Second,
		RetryPause:    time.Second,
	}
}

// Summary describes a finished run.
type Summary struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Processed  int
	Approved   int
	Deferred   int
	Failed     int
	// StepFailures counts items with at least one failed step, whatever
	// their final action.
	StepFailures int
	LogErrors    int
	Recoveries   int
	StopReason   string
}

func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Loop owns the browser session while it runs. Stop may be called from any
// goroutine; everything else belongs to the goroutine calling Run.
type Loop struct {
	session browser.Session
	proc    ItemProcessor
	cfg     Config
	log     status.Logger
	notify  *status.Notifier

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  atomic.Bool

	mu    sync.Mutex
	state State

	primary string
	summary Summary
	now     func() time.Time
}

// New returns a loop. notify may be nil.
func New(s browser.Session, p ItemProcessor, cfg Config, log status.Logger, notify *status.Notifier) *Loop {
	if cfg.WindowPoll <= 0 {
		cfg.WindowPoll = 250 * time.Millisecond
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyStay
	}
	return &Loop{
		session: s,
		proc:    p,
		cfg:     cfg,
		log:     status.OrNop(log),
		notify:  notify,
		stopCh:  make(chan struct{}),
		state:   StateIdle,
		now:     time.Now,
	}
}

// Stop asks the loop to finish after the in-flight cycle.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.stopped.Store(true)
		close(l.stopCh)
	})
}

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	prev := l.state
	l.state = s
	l.mu.Unlock()
	if prev != s {
		l.log.Debugf("Loop state %s -> %s", prev, s)
	}
}

// Run processes items until Stop, ctx cancellation, the item limit or a
// fatal error. The summary is valid in every case.
func (l *Loop) Run(ctx context.Context) (Summary, error) {
	l.summary = Summary{StartedAt: l.now()}
	l.primary = l.session.CurrentWindow()
	l.setState(StateIdle)

	err := l.run(ctx)
	l.summary.FinishedAt = l.now()
	l.log.Infof("Loop finished (%s): %d processed, %d approved, %d deferred, %d failed",
		l.summary.StopReason, l.summary.Processed, l.summary.Approved, l.summary.Deferred, l.summary.Failed)
	return l.summary, err
}

func (l *Loop) run(ctx context.Context) error {
	failures := 0
	for {
		if l.stopped.Load() {
			l.summary.StopReason = ReasonStopped
			return nil
		}
		if err := ctx.Err(); err != nil {
			l.summary.StopReason = ReasonCancelled
			return err
		}

		var err error
		switch l.State() {
		case StateIdle:
			l.notify.Status("Opening review queue")
			if err = l.session.Open(ctx, l.cfg.QueueURL); err == nil {
				l.setState(StateNavigated)
			}

		case StateNavigated:
			l.notify.Status("Starting review")
			err = l.openItemWindow(ctx)
			if errors.Is(err, ErrNoItemWindow) {
				failures++
				if l.tooMany(failures) {
					return fmt.Errorf("%w: %d in a row, last: %w", ErrTooManyFailures, failures, err)
				}
				l.log.Warnf("%v, retrying", err)
				l.notify.Warning("Work item window did not appear, retrying", err)
				l.setState(StateIdle)
				err = l.pause(ctx, l.cfg.RetryPause)
			} else if err == nil {
				l.setState(StateItemWindowOpen)
			}

		case StateItemWindowOpen:
			if !l.itemWindowAlive(ctx) {
				l.log.Infof("Work item window is gone, returning to the queue")
				if err = l.session.SwitchToWindow(ctx, l.primary); err == nil {
					l.setState(StateIdle)
				}
				break
			}
			l.setState(StateProcessing)
			var out processor.Outcome
			out, err = l.proc.Process(ctx)
			l.count(out)
			if err != nil {
				break
			}
			failures = 0
			if l.cfg.MaxItems > 0 && l.summary.Processed >= l.cfg.MaxItems {
				l.summary.StopReason = ReasonLimit
				return nil
			}
			err = l.next(ctx)
		}

		if err == nil {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			l.summary.StopReason = ReasonCancelled
			return ctxErr
		}
		if errors.Is(err, browser.ErrSessionLost) {
			l.summary.StopReason = ReasonSessionLost
			l.log.Errorf("Browser session lost: %v", err)
			return err
		}

		failures++
		if l.tooMany(failures) {
			return fmt.Errorf("%w: %d in a row, last: %w", ErrTooManyFailures, failures, err)
		}
		if rerr := l.recover(ctx, err); rerr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				l.summary.StopReason = ReasonCancelled
				return ctxErr
			}
			l.summary.StopReason = ReasonRecoveryFailed
			return rerr
		}
	}
}

func (l *Loop) tooMany(failures int) bool {
	if l.cfg.MaxConsecutiveFailures > 0 && failures > l.cfg.MaxConsecutiveFailures {
		l.summary.StopReason = ReasonTooManyFailures
		return true
	}
	return false
}

// next applies the strategy after a processed item.
func (l *Loop) next(ctx context.Context) error {
	if l.cfg.Strategy == StrategyReopen {
		if err := l.closeItemWindow(ctx); err != nil {
			return err
		}
		l.setState(StateIdle)
	} else {
		l.setState(StateItemWindowOpen)
	}
	return l.pause(ctx, l.cfg.NextItemPause)
}

func (l *Loop) count(out processor.Outcome) {
	if out.Match == "" && out.Action == "" {
		return
	}
	s := &l.summary
	s.Processed++
	// Totals follow the recorded action, as the run history does.
	switch {
	case out.Approved():
		s.Approved++
	case out.Deferred():
		s.Deferred++
	default:
		s.Failed++
	}
	if out.Failed() {
		s.StepFailures++
	}
	if out.LogErr != nil {
		s.LogErrors++
		l.notify.Warning("Could not write activity record", out.LogErr)
	}
	l.notify.Send(status.Update{
		Kind:   status.KindItem,
		Count:  s.Processed,
		Link:   out.Link,
		Match:  out.Match,
		Action: out.Action,
	})
}

// openItemWindow clicks the review button and switches to the window it opens.
func (l *Loop) openItemWindow(ctx context.Context) error {
	before, err := l.session.WindowHandles(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(before))
	for _, h := range before {
		known[h] = true
	}

	btn, err := l.session.WaitClickable(ctx, l.cfg.ReviewStart, l.cfg.StartTimeout)
	if err != nil {
		return fmt.Errorf("review button: %w", err)
	}
	if err := btn.Click(ctx); err != nil {
		return fmt.Errorf("review button: %w", err)
	}

	handle, err := l.waitNewWindow(ctx, known)
	if err != nil {
		return err
	}
	if err := l.session.SwitchToWindow(ctx, handle); err != nil {
		return err
	}
	l.log.Debugf("Switched to work item window %s", handle)
	return nil
}

func (l *Loop) waitNewWindow(ctx context.Context, known map[string]bool) (string, error) {
	deadline := time.NewTimer(l.cfg.WindowTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(l.cfg.WindowPoll)
	defer tick.Stop()

	for {
		handles, err := l.session.WindowHandles(ctx)
		if err != nil {
			return "", err
		}
		for _, h := range handles {
			if h != l.primary && !known[h] {
				return h, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", fmt.Errorf("%w after %s", ErrNoItemWindow, l.cfg.WindowTimeout)
		case <-tick.C:
		}
	}
}

func (l *Loop) itemWindowAlive(ctx context.Context) bool {
	cur := l.session.CurrentWindow()
	if cur == "" || cur == l.primary {
		return false
	}
	handles, err := l.session.WindowHandles(ctx)
	if err != nil {
		return false
	}
	for _, h := range handles {
		if h == cur {
			return true
		}
	}
	return false
}

func (l *Loop) closeItemWindow(ctx context.Context) error {
	if cur := l.session.CurrentWindow(); cur != "" && cur != l.primary {
		if err := l.session.CloseCurrentWindow(ctx); err != nil {
			return err
		}
	}
	return l.session.SwitchToWindow(ctx, l.primary)
}

// recover closes every window except the primary one, focuses it and waits
// before the loop starts over from the queue.
func (l *Loop) recover(ctx context.Context, cause error) error {
	l.setState(StateRecovering)
	l.summary.Recoveries++
	l.log.Warnf("Recovering from error: %v", cause)
	l.notify.Warning("Error during review, recovering", cause)

	handles, err := l.session.WindowHandles(ctx)
	if err != nil {
		return fmt.Errorf("%w: list windows: %w", ErrRecoveryFailed, err)
	}
	for _, h := range handles {
		if h == l.primary {
			continue
		}
		if err := l.session.SwitchToWindow(ctx, h); err != nil {
			l.log.Warnf("Could not switch to stray window %s: %v", h, err)
			continue
		}
		if err := l.session.CloseCurrentWindow(ctx); err != nil {
			l.log.Warnf("Could not close stray window %s: %v", h, err)
		}
	}
	if err := l.session.SwitchToWindow(ctx, l.primary); err != nil {
		return fmt.Errorf("%w: %w", ErrRecoveryFailed, err)
	}
	if err := l.pause(ctx, l.cfg.RecoveryPause); err != nil {
		return err
	}
	l.setState(StateIdle)
	return nil
}

// pause waits for d. Stop cuts it short; cancellation is returned.
func (l *Loop) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopCh:
		return nil
	case <-t.C:
		return nil
	}
}
