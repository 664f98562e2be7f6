package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/labelbot/labelbot/pkg/browser"
	"github.com/labelbot/labelbot/pkg/browser/browsertest"
	"github.com/labelbot/labelbot/pkg/patterns"
	"github.com/labelbot/labelbot/pkg/platforms"
	"github.com/labelbot/labelbot/pkg/platforms/labelcraft"
	"github.com/labelbot/labelbot/pkg/status"
	"github.com/labelbot/labelbot/pkg/storage"
	"github.com/labelbot/labelbot/pkg/taskloop"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// fakeSite serves the login form and a queue whose review button opens an
// item window, alternating a matching and a non-matching link.
func fakeSite(acceptLogin bool) *browsertest.Session {
	sel := labelcraft.DefaultSelectors()
	sess := browsertest.New()
	w := sess.Current()
	w.Add(sel.LoginUser, &browsertest.Element{})
	w.Add(sel.LoginPassword, &browsertest.Element{})
	sess.OnKey = func(win *browsertest.Window, key string) {
		if key == "enter" && acceptLogin {
			win.Add(sel.LoginSuccess, &browsertest.Element{})
		}
	}

	links := []string{"https://write88721.tistory.com/", "https://salvla123.tistory.com/"}
	n := 0
	btn := w.Add(sel.ReviewStart, &browsertest.Element{})
	btn.OnClick = func() {
		iw := sess.NewWindow()
		iw.Add(sel.Link, browsertest.Link(links[n%len(links)]))
		iw.Add(sel.Defer, &browsertest.Element{})
		iw.Add(sel.AssignAnyone, &browsertest.Element{})
		n++
	}
	return sess
}

func writePatterns(t *testing.T, body string) patterns.Source {
	t.Helper()
	path := filepath.Join(t.TempDir(), "patterns.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return &patterns.CSVSource{Path: path, Column: 2, SkipHeader: true}
}

func testConfig(t *testing.T) Config {
	dir := t.TempDir()
	return Config{
		Auth:  platforms.AuthConfig{Username: "op@example.com", Password: "pw"},
		Queue: 45,
		Loop: taskloop.Config{
			Strategy:      taskloop.StrategyReopen,
			StartTimeout:  time.Second,
			WindowTimeout: 50 * time.Millisecond,
			WindowPoll:    time.Millisecond,
			MaxItems:      2,
		},
		OutputDir: filepath.Join(dir, "save"),
		HistoryDB: filepath.Join(dir, "history.db"),
	}
}

func newWorker(cfg Config, src patterns.Source, sess *browsertest.Session, notify *status.Notifier) (*Worker, *int) {
	w := New(cfg, labelcraft.New("http://lc.test", platforms.Selectors{}), src, nil, notify)
	launches := 0
	w.Launch = func(ctx context.Context, _ browser.Config) (browser.Session, error) {
		launches++
		return sess, nil
	}
	return w, &launches
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	sess := fakeSite(true)
	notify := status.NewNotifier(128)
	w, _ := newWorker(cfg, writePatterns(t, "no,,pattern\n1,,write\n"), sess, notify)

	res, err := w.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Patterns)
	require.Equal(t, 2, res.Summary.Processed)
	require.Equal(t, 1, res.Summary.Approved)
	require.Equal(t, 1, res.Summary.Deferred)
	require.Equal(t, taskloop.ReasonLimit, res.Summary.StopReason)
	require.Nil(t, sess.Current(), "browser must be closed at the end of the run")

	f, err := excelize.OpenFile(res.ActivityLog)
	require.NoError(t, err)
	rows, err := f.GetRows("activity")
	require.NoError(t, err)
	f.Close()
	require.Len(t, rows, 3)
	require.Equal(t, []string{"matched:write", "approve"}, rows[1][2:])
	require.Equal(t, []string{"no-match", "defer"}, rows[2][2:])

	db, err := storage.Open(cfg.HistoryDB)
	require.NoError(t, err)
	defer db.Close()
	run, err := db.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Equal(t, 2, run.Processed)
	require.Equal(t, taskloop.ReasonLimit, run.StopReason)
	require.False(t, run.FinishedAt.IsZero())

	notify.Close()
	var kinds []status.Kind
	for u := range notify.Updates() {
		kinds = append(kinds, u.Kind)
	}
	require.Contains(t, kinds, status.KindLogin)
	require.Contains(t, kinds, status.KindItem)
	require.Equal(t, status.KindFinished, kinds[len(kinds)-1])
}

func TestPatternFailureIsFatalBeforeLaunch(t *testing.T) {
	sess := fakeSite(true)
	w, launches := newWorker(testConfig(t), writePatterns(t, "header\n"), sess, nil)

	_, err := w.Run(context.Background())
	require.ErrorIs(t, err, ErrStartup)
	require.ErrorIs(t, err, patterns.ErrNoPatterns)
	require.Zero(t, *launches)
}

func TestLoginFailureClosesBrowser(t *testing.T) {
	cfg := testConfig(t)
	sess := fakeSite(false)
	notify := status.NewNotifier(16)
	w, _ := newWorker(cfg, writePatterns(t, "h,,p\n1,,write\n"), sess, notify)

	_, err := w.Run(context.Background())
	require.ErrorIs(t, err, ErrStartup)
	require.ErrorIs(t, err, platforms.ErrLoginFailed)
	require.Nil(t, sess.Current())

	_, statErr := os.Stat(cfg.OutputDir)
	require.True(t, os.IsNotExist(statErr), "no activity log before a successful login")

	notify.Close()
	var last status.Update
	for u := range notify.Updates() {
		last = u
	}
	require.Equal(t, status.KindFinished, last.Kind)
	require.Error(t, last.Err)
}

func TestLaunchFailure(t *testing.T) {
	w := New(testConfig(t), labelcraft.New("", platforms.Selectors{}), writePatterns(t, "h,,p\n1,,write\n"), nil, nil)
	w.Launch = func(context.Context, browser.Config) (browser.Session, error) {
		return nil, errors.New("no chrome")
	}
	_, err := w.Run(context.Background())
	require.ErrorIs(t, err, ErrStartup)
}

func TestStopBeforeLoop(t *testing.T) {
	cfg := testConfig(t)
	cfg.HistoryDB = ""
	sess := fakeSite(true)
	w, _ := newWorker(cfg, writePatterns(t, "h,,p\n1,,write\n"), sess, nil)
	w.Stop()

	res, err := w.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.Summary.Processed)
	require.Equal(t, taskloop.ReasonStopped, res.Summary.StopReason)
	require.FileExists(t, res.ActivityLog)
}
