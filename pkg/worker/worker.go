// Package worker runs one automation session end to end: load patterns,
// start the browser, log in, open the activity logs and drive the task loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labelbot/labelbot/pkg/activity"
	"github.com/labelbot/labelbot/pkg/browser"
	"github.com/labelbot/labelbot/pkg/classifier"
	"github.com/labelbot/labelbot/pkg/patterns"
	"github.com/labelbot/labelbot/pkg/platforms"
	"github.com/labelbot/labelbot/pkg/processor"
	"github.com/labelbot/labelbot/pkg/status"
	"github.com/labelbot/labelbot/pkg/storage"
	"github.com/labelbot/labelbot/pkg/taskloop"
)

var (
	// ErrStartup marks failures before the first item: patterns, browser,
	// login or activity log.
	ErrStartup = errors.New("startup failed")
)

// LaunchFunc starts a browser session.
type LaunchFunc func(ctx context.Context, cfg browser.Config) (browser.Session, error)

// RodLauncher launches the go-rod session.
func RodLauncher(ctx context.Context, cfg browser.Config) (browser.Session, error) {
	return browser.Launch(ctx, cfg)
}

type Config struct {
	Auth      platforms.AuthConfig
	Queue     int
	Suffixes  []string
	Browser   browser.Config
	Processor processor.Config
	// Loop timings and strategy. QueueURL and ReviewStart are filled from
	// the platform.
	Loop taskloop.Config
	// OutputDir receives the per-run activity spreadsheet.
	OutputDir string
	// HistoryDB is an optional SQLite path for run history.
	HistoryDB string
}

// Result describes a finished run.
type Result struct {
	RunID       string
	Patterns    int
	ActivityLog string
	Summary     taskloop.Summary
}

type Worker struct {
	cfg    Config
	site   platforms.Platform
	source patterns.Source
	log    status.Logger
	notify *status.Notifier

	// Launch defaults to RodLauncher.
	Launch LaunchFunc

	mu      sync.Mutex
	loop    *taskloop.Loop
	stopped bool
	now     func() time.Time
}

// New returns a worker. notify may be nil.
func New(cfg Config, site platforms.Platform, src patterns.Source, log status.Logger, notify *status.Notifier) *Worker {
	return &Worker{
		cfg:    cfg,
		site:   site,
		source: src,
		log:    status.OrNop(log),
		notify: notify,
		Launch: RodLauncher,
		now:    time.Now,
	}
}

// Stop asks the run to end after the current item. Safe from any goroutine.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.loop != nil {
		w.loop.Stop()
	}
}

func (w *Worker) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

// Run blocks until the run ends. A finished update is always sent last.
func (w *Worker) Run(ctx context.Context) (res Result, err error) {
	started := w.now()
	res.RunID = uuid.NewString()
	res.Summary.StartedAt = started

	defer func() {
		msg := fmt.Sprintf("Finished: %d processed (%d approved, %d deferred, %d failed)",
			res.Summary.Processed, res.Summary.Approved, res.Summary.Deferred, res.Summary.Failed)
		if err != nil {
			msg = "Stopped with error"
		}
		w.notify.Send(status.Update{Kind: status.KindFinished, Message: msg, Count: res.Summary.Processed, Err: err})
	}()

	w.notify.Status("Loading patterns from " + w.source.Name())
	pats, err := patterns.Load(ctx, w.source)
	if err != nil {
		w.log.Errorf("Could not load patterns: %v", err)
		return res, fmt.Errorf("%w: load patterns: %w", ErrStartup, err)
	}
	res.Patterns = len(pats)
	w.log.Infof("Loaded %d patterns from %s", len(pats), w.source.Name())
	cls := classifier.New(pats, w.cfg.Suffixes)

	w.notify.Status("Starting browser")
	sess, err := w.Launch(ctx, w.cfg.Browser)
	if err != nil {
		w.log.Errorf("Could not start browser: %v", err)
		return res, fmt.Errorf("%w: start browser: %w", ErrStartup, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			w.log.Warnf("Could not close browser: %v", cerr)
		}
	}()

	w.notify.Status("Logging in to " + w.site.Name())
	if err := w.site.Authenticate(ctx, sess, w.cfg.Auth); err != nil {
		w.log.Errorf("Login failed: %v", err)
		w.notify.Send(status.Update{Kind: status.KindLogin, Message: "Login failed", Err: err})
		return res, fmt.Errorf("%w: %w", ErrStartup, err)
	}
	w.log.Infof("Logged in as %s", w.cfg.Auth.Username)
	w.notify.Send(status.Update{Kind: status.KindLogin, Message: "Logged in"})

	rec, history, err := w.openRecorders(ctx, &res, started)
	if err != nil {
		w.log.Errorf("Could not open activity log: %v", err)
		return res, fmt.Errorf("%w: %w", ErrStartup, err)
	}
	defer func() {
		if cerr := rec.Close(); cerr != nil {
			w.log.Warnf("Could not close activity log: %v", cerr)
		}
		if history != nil {
			if ferr := history.FinishRun(context.WithoutCancel(ctx), res.RunID, w.now(), res.Summary.StopReason); ferr != nil {
				w.log.Warnf("Could not finish run in history: %v", ferr)
			}
			history.Close()
		}
	}()

	sel := w.site.Selectors()
	proc := processor.New(sess, cls, rec, sel, w.cfg.Processor, w.log)
	loopCfg := w.cfg.Loop
	loopCfg.QueueURL = w.site.QueueURL(w.cfg.Queue)
	loopCfg.ReviewStart = sel.ReviewStart

	w.mu.Lock()
	w.loop = taskloop.New(sess, proc, loopCfg, w.log, w.notify)
	if w.stopped {
		w.loop.Stop()
	}
	loop := w.loop
	w.mu.Unlock()

	w.log.Infof("Processing queue %s with strategy %s", loopCfg.QueueURL, loopCfg.Strategy)
	sum, err := loop.Run(ctx)
	sum.StartedAt = started
	res.Summary = sum
	if err != nil && !errors.Is(err, context.Canceled) {
		return res, err
	}
	// A cancelled run is a hard stop requested by the operator.
	return res, nil
}

func (w *Worker) openRecorders(ctx context.Context, res *Result, started time.Time) (activity.Recorder, *storage.DB, error) {
	dir := w.cfg.OutputDir
	if dir == "" {
		dir = "save"
	}
	xl, err := activity.OpenXLSX(filepath.Join(dir, activity.FileName(started)))
	if err != nil {
		return nil, nil, err
	}
	res.ActivityLog = xl.Path()
	w.log.Infof("Recording activity to %s", xl.Path())
	if w.cfg.HistoryDB == "" {
		return xl, nil, nil
	}

	db, err := storage.Open(w.cfg.HistoryDB)
	if err != nil {
		xl.Close()
		return nil, nil, fmt.Errorf("open history %s: %w", w.cfg.HistoryDB, err)
	}
	run := storage.Run{
		ID:          res.RunID,
		StartedAt:   started,
		Username:    w.cfg.Auth.Username,
		Queue:       w.cfg.Queue,
		Strategy:    string(w.cfg.Loop.Strategy),
		ActivityLog: xl.Path(),
	}
	if err := db.StartRun(ctx, run); err != nil {
		xl.Close()
		db.Close()
		return nil, nil, fmt.Errorf("record run start: %w", err)
	}
	return activity.Multi{xl, activity.NewDBLog(db, res.RunID)}, db, nil
}
