package taskloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/labelbot/labelbot/pkg/activity"
	"github.com/labelbot/labelbot/pkg/browser"
	"github.com/labelbot/labelbot/pkg/browser/browsertest"
	"github.com/labelbot/labelbot/pkg/classifier"
	"github.com/labelbot/labelbot/pkg/platforms"
	"github.com/labelbot/labelbot/pkg/processor"
	"github.com/labelbot/labelbot/pkg/status"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const queueURL = "http://lc.example.com/tasks/45/"

func testConfig(strategy Strategy) Config {
	return Config{
		QueueURL:      queueURL,
		ReviewStart:   "#reviewStart",
		Strategy:      strategy,
		StartTimeout:  time.Second,
		WindowTimeout: 20 * time.Millisecond,
		WindowPoll:    time.Millisecond,
	}
}

// queue returns a session whose review button opens a fresh item window per
// click when opens is true.
func queue(opens bool) *browsertest.Session {
	sess := browsertest.New()
	btn := sess.Current().Add("#reviewStart", &browsertest.Element{})
	if opens {
		btn.OnClick = func() {
			w := sess.NewWindow()
			w.Add("a.link", browsertest.Link("https://salvla123.tistory.com/"))
			w.Add("#defer", &browsertest.Element{})
			w.Add("#assign", &browsertest.Element{})
		}
	}
	return sess
}

type scripted struct {
	calls   int
	windows []string
	sess    browser.Session
	fn      func(n int) (processor.Outcome, error)
}

func (s *scripted) Process(ctx context.Context) (processor.Outcome, error) {
	s.calls++
	s.windows = append(s.windows, s.sess.CurrentWindow())
	return s.fn(s.calls)
}

var deferred = processor.Outcome{Link: "l", Match: "no-match", Action: processor.ActionDefer}

func failedOutcome() processor.Outcome {
	out := processor.Outcome{Match: "no-match", Action: string(processor.UnknownError)}
	out.Steps = []processor.StepResult{{Step: processor.StepUnknown, Kind: processor.UnknownError}}
	return out
}

func drain(n *status.Notifier) []status.Update {
	n.Close()
	var out []status.Update
	for u := range n.Updates() {
		out = append(out, u)
	}
	return out
}

func TestStayStrategyKeepsItemWindow(t *testing.T) {
	sess := queue(true)
	proc := &scripted{sess: sess}
	notify := status.NewNotifier(64)
	loop := New(sess, proc, testConfig(StrategyStay), nil, notify)
	proc.fn = func(n int) (processor.Outcome, error) {
		if n == 3 {
			loop.Stop()
		}
		return deferred, nil
	}

	sum, err := loop.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ReasonStopped, sum.StopReason)
	require.Equal(t, 3, sum.Processed)
	require.Equal(t, 3, sum.Deferred)
	require.Equal(t, []string{queueURL}, sess.Opened, "stay strategy navigates once")
	require.Equal(t, []string{"w2", "w2", "w2"}, proc.windows)
	require.Empty(t, sess.Closed)

	var items int
	for _, u := range drain(notify) {
		if u.Kind == status.KindItem {
			items++
			require.Equal(t, items, u.Count)
		}
	}
	require.Equal(t, 3, items)
}

func TestReopenStrategyClosesItemWindow(t *testing.T) {
	sess := queue(true)
	proc := &scripted{sess: sess, fn: func(int) (processor.Outcome, error) { return deferred, nil }}
	cfg := testConfig(StrategyReopen)
	cfg.MaxItems = 2
	loop := New(sess, proc, cfg, nil, nil)

	sum, err := loop.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ReasonLimit, sum.StopReason)
	require.Equal(t, 2, sum.Processed)
	require.Equal(t, []string{queueURL, queueURL}, sess.Opened)
	require.Equal(t, []string{"w2", "w3"}, proc.windows)
	require.Equal(t, []string{"w2"}, sess.Closed, "window of the last item is left for the caller")
	require.Equal(t, "w3", sess.CurrentWindow())
}

func TestNoSecondWindowRetries(t *testing.T) {
	sess := queue(false)
	proc := &scripted{sess: sess, fn: func(int) (processor.Outcome, error) { return deferred, nil }}
	notify := status.NewNotifier(64)
	loop := New(sess, proc, testConfig(StrategyStay), nil, notify)
	sess.OnOpen = func(w *browsertest.Window, url string) {
		if len(sess.Opened) == 3 {
			loop.Stop()
		}
	}

	sum, err := loop.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, proc.calls, "processor must not run without an item window")
	require.Zero(t, sum.Processed)
	require.Len(t, sess.Opened, 3, "loop returns to the queue after each missing window")
	require.Equal(t, "w1", sess.CurrentWindow())

	var warnings int
	for _, u := range drain(notify) {
		if u.Kind == status.KindWarning {
			warnings++
			require.ErrorIs(t, u.Err, ErrNoItemWindow)
		}
	}
	require.GreaterOrEqual(t, warnings, 2)
}

func TestRecoveryClosesStrayWindows(t *testing.T) {
	sess := queue(true)
	proc := &scripted{sess: sess}
	loop := New(sess, proc, testConfig(StrategyStay), nil, nil)
	proc.fn = func(n int) (processor.Outcome, error) {
		if n == 1 {
			return failedOutcome(), processor.ErrUnexpected
		}
		loop.Stop()
		return deferred, nil
	}

	sum, err := loop.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sum.Recoveries)
	require.Equal(t, 2, sum.Processed)
	require.Equal(t, 1, sum.Failed)
	require.Equal(t, []string{"w2"}, sess.Closed)
	require.Equal(t, []string{"w2", "w3"}, proc.windows)
	require.Len(t, sess.Opened, 2, "recovery restarts from the queue")
}

func TestSessionLostIsFatal(t *testing.T) {
	sess := queue(true)
	proc := &scripted{sess: sess, fn: func(int) (processor.Outcome, error) {
		return failedOutcome(), browser.ErrSessionLost
	}}
	loop := New(sess, proc, testConfig(StrategyStay), nil, nil)

	sum, err := loop.Run(context.Background())
	require.ErrorIs(t, err, browser.ErrSessionLost)
	require.Equal(t, ReasonSessionLost, sum.StopReason)
	require.Equal(t, 1, proc.calls)
	require.Zero(t, sum.Recoveries)
}

func TestMaxConsecutiveFailures(t *testing.T) {
	sess := queue(true)
	proc := &scripted{sess: sess, fn: func(int) (processor.Outcome, error) {
		return failedOutcome(), processor.ErrUnexpected
	}}
	cfg := testConfig(StrategyStay)
	cfg.MaxConsecutiveFailures = 2
	loop := New(sess, proc, cfg, nil, nil)

	sum, err := loop.Run(context.Background())
	require.ErrorIs(t, err, ErrTooManyFailures)
	require.ErrorIs(t, err, processor.ErrUnexpected)
	require.Equal(t, ReasonTooManyFailures, sum.StopReason)
	require.Equal(t, 3, proc.calls)
	require.Equal(t, 2, sum.Recoveries)
}

func TestRecoveryFailure(t *testing.T) {
	sess := queue(true)
	proc := &scripted{sess: sess, fn: func(int) (processor.Outcome, error) {
		sess.SwitchErr = errors.New("window switch refused")
		return failedOutcome(), processor.ErrUnexpected
	}}
	loop := New(sess, proc, testConfig(StrategyStay), nil, nil)

	sum, err := loop.Run(context.Background())
	require.ErrorIs(t, err, ErrRecoveryFailed)
	require.Equal(t, ReasonRecoveryFailed, sum.StopReason)
}

func TestCancellationAborts(t *testing.T) {
	sess := queue(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc := &scripted{sess: sess, fn: func(int) (processor.Outcome, error) {
		cancel()
		return deferred, nil
	}}
	cfg := testConfig(StrategyStay)
	cfg.NextItemPause = time.Hour
	loop := New(sess, proc, cfg, nil, nil)

	sum, err := loop.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, ReasonCancelled, sum.StopReason)
	require.Equal(t, 1, sum.Processed)
}

func TestStopCutsPauseShort(t *testing.T) {
	sess := queue(true)
	proc := &scripted{sess: sess}
	cfg := testConfig(StrategyStay)
	cfg.NextItemPause = time.Hour
	loop := New(sess, proc, cfg, nil, nil)
	proc.fn = func(int) (processor.Outcome, error) {
		loop.Stop()
		return deferred, nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = loop.Run(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Stop did not interrupt the pause between items")
	}
}

func TestLoopWithProcessor(t *testing.T) {
	sess := queue(true)
	mem := &activity.Memory{}
	sel := platforms.Selectors{Link: "a.link", Defer: "#defer", AssignAnyone: "#assign", ApproveKey: "e"}
	proc := processor.New(sess, classifier.New([]string{"write"}, nil), mem, sel, processor.Config{}, nil)
	cfg := testConfig(StrategyReopen)
	cfg.MaxItems = 3
	loop := New(sess, proc, cfg, nil, nil)

	sum, err := loop.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, sum.Deferred)
	recs := mem.Records()
	require.Len(t, recs, 3)
	for _, r := range recs {
		require.Equal(t, "no-match", r.Match)
		require.Equal(t, processor.ActionDefer, r.Action)
	}
}

func TestDeferredAfterStepFailureCountsAsDeferred(t *testing.T) {
	sess := queue(true)
	out := processor.Outcome{Match: string(processor.LinkNotFound), Action: processor.ActionDefer}
	out.Steps = []processor.StepResult{{Step: processor.StepLink, Kind: processor.LinkNotFound, Err: browser.ErrTimeout}}
	proc := &scripted{sess: sess, fn: func(int) (processor.Outcome, error) { return out, nil }}
	cfg := testConfig(StrategyStay)
	cfg.MaxItems = 2
	loop := New(sess, proc, cfg, nil, nil)

	sum, err := loop.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, sum.Processed)
	require.Equal(t, 2, sum.Deferred)
	require.Zero(t, sum.Failed)
	require.Equal(t, 2, sum.StepFailures)
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{"": StrategyStay, "stay": StrategyStay, " Reopen ": StrategyReopen} {
		got, err := ParseStrategy(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseStrategy("close")
	require.Error(t, err)
}
