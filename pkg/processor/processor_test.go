package processor

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
	"github.com/stretchr/testify/require"
)

var sel = platforms.Selectors{
	Link:         "a.link",
	Defer:        "#defer",
	AssignAnyone: "#assign",
	ApproveKey:   "e",
}

type fixture struct {
	sess     *browsertest.Session
	win      *browsertest.Window
	postpone *browsertest.Element
	assign   *browsertest.Element
	mem      *activity.Memory
	proc     *Processor
}

func newFixture(t *testing.T, link string) *fixture {
	t.Helper()
	sess := browsertest.New()
	w := sess.Current()
	if link != "" {
		w.Add(sel.Link, browsertest.Link(link))
	}
	f := &fixture{
		sess:     sess,
		win:      w,
		postpone: w.Add(sel.Defer, &browsertest.Element{}),
		assign:   w.Add(sel.AssignAnyone, &browsertest.Element{}),
		mem:      &activity.Memory{},
	}
	c := classifier.New([]string{"write", "salvla"}, nil)
	f.proc = New(sess, c, f.mem, sel, Config{}, nil)
	return f
}

func (f *fixture) onlyRecord(t *testing.T) activity.Record {
	t.Helper()
	recs := f.mem.Records()
	require.Len(t, recs, 1, "exactly one record per processed item")
	return recs[0]
}

func TestApproveMatchedLink(t *testing.T) {
	f := newFixture(t, "https://write88721.tistory.com/")

	out, err := f.proc.Process(context.Background())
	require.NoError(t, err)
	require.True(t, out.Approved())
	require.False(t, out.Failed())
	require.Equal(t, "matched:write", out.Match)
	require.Equal(t, []string{"e"}, f.win.Keys)
	require.Zero(t, f.postpone.Clicks)

	rec := f.onlyRecord(t)
	require.Equal(t, "https://write88721.tistory.com/", rec.Link)
	require.Equal(t, "matched:write", rec.Match)
	require.Equal(t, ActionApprove, rec.Action)
	require.Equal(t, "write", rec.Pattern)
}

func TestDeferUnmatchedLink(t *testing.T) {
	f := newFixture(t, "https://salvla123.tistory.com/")

	out, err := f.proc.Process(context.Background())
	require.NoError(t, err)
	require.True(t, out.Deferred())
	require.Equal(t, "no-match", out.Match)
	require.Equal(t, 1, f.postpone.Clicks)
	require.Equal(t, 1, f.assign.Clicks)
	require.Empty(t, f.win.Keys)

	rec := f.onlyRecord(t)
	require.Equal(t, "no-match", rec.Match)
	require.Equal(t, ActionDefer, rec.Action)
}

func TestUsesLastLink(t *testing.T) {
	f := newFixture(t, "https://salvla123.tistory.com/")
	f.win.Add(sel.Link, browsertest.Link("https://write12345.tistory.com/"))

	out, err := f.proc.Process(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://write12345.tistory.com/", out.Link)
	require.True(t, out.Approved())
}

func TestLinkTimeoutDefers(t *testing.T) {
	f := newFixture(t, "")

	out, err := f.proc.Process(context.Background())
	require.NoError(t, err)
	require.Equal(t, string(LinkNotFound), out.Match)
	require.Equal(t, ActionDefer, out.Action)
	require.Equal(t, 1, f.postpone.Clicks)

	failures := out.Failures()
	require.Len(t, failures, 1)
	require.Equal(t, StepLink, failures[0].Step)
	require.ErrorIs(t, failures[0].Err, browser.ErrTimeout)

	rec := f.onlyRecord(t)
	require.Equal(t, activity.NoLinkPlaceholder, rec.LinkOrPlaceholder())
	require.Equal(t, string(LinkNotFound), rec.Match)
}

func TestLinkExtractionError(t *testing.T) {
	tests := []struct {
		name string
		el   *browsertest.Element
	}{
		{"no href", &browsertest.Element{}},
		{"blank href", browsertest.Link("  ")},
		{"attribute error", &browsertest.Element{AttrErr: errors.New("node detached")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "")
			f.win.Add(sel.Link, tt.el)

			out, err := f.proc.Process(context.Background())
			require.NoError(t, err)
			require.Equal(t, string(LinkExtractionError), out.Match)
			require.Equal(t, ActionDefer, out.Action)
			require.Equal(t, string(LinkExtractionError), f.onlyRecord(t).Match)
		})
	}
}

func TestClassificationErrorDefers(t *testing.T) {
	f := newFixture(t, "https:///path-only")

	out, err := f.proc.Process(context.Background())
	require.NoError(t, err)
	require.Equal(t, string(ClassificationError), out.Match)
	require.Equal(t, ActionDefer, out.Action)
	require.Equal(t, 1, f.postpone.Clicks)
	require.Len(t, f.mem.Records(), 1)
}

func TestApproveFailureIsNotRetried(t *testing.T) {
	f := newFixture(t, "https://write88721.tistory.com/")
	f.sess.KeyErr = errors.New("keyboard unavailable")

	out, err := f.proc.Process(context.Background())
	require.NoError(t, err)
	require.Equal(t, string(ApproveActionError), out.Action)
	require.Empty(t, f.win.Keys)
	require.Zero(t, f.postpone.Clicks)
	require.Equal(t, string(ApproveActionError), f.onlyRecord(t).Action)
}

func TestDeferClickError(t *testing.T) {
	f := newFixture(t, "https://salvla123.tistory.com/")
	f.win.Remove(sel.Defer)

	out, err := f.proc.Process(context.Background())
	require.NoError(t, err)
	require.Equal(t, string(DeferClickError), out.Action)
	require.Zero(t, f.assign.Clicks, "assign must not be attempted when defer failed")
	require.Equal(t, string(DeferClickError), f.onlyRecord(t).Action)
}

func TestAssignClickError(t *testing.T) {
	f := newFixture(t, "https://salvla123.tistory.com/")
	f.assign.ClickErr = errors.New("element not interactable")

	out, err := f.proc.Process(context.Background())
	require.NoError(t, err)
	require.Equal(t, string(AssignClickError), out.Action)
	require.Equal(t, 1, f.postpone.Clicks)
	require.Equal(t, string(AssignClickError), f.onlyRecord(t).Action)
}

func TestSessionLostIsReturnedAfterRecording(t *testing.T) {
	f := newFixture(t, "https://salvla123.tistory.com/")
	f.sess.Lost = true

	_, err := f.proc.Process(context.Background())
	require.ErrorIs(t, err, browser.ErrSessionLost)
	rec := f.onlyRecord(t)
	require.Equal(t, string(LinkExtractionError), rec.Match)
	require.Equal(t, string(DeferClickError), rec.Action)
}

func TestLogFailureDoesNotBlock(t *testing.T) {
	f := newFixture(t, "https://write88721.tistory.com/")
	f.mem.Err = activity.ErrLogLocked

	out, err := f.proc.Process(context.Background())
	require.NoError(t, err)
	require.True(t, out.Approved())
	require.ErrorIs(t, out.LogErr, activity.ErrLogLocked)
}

func TestPanicIsRecoveredAndRecorded(t *testing.T) {
	f := newFixture(t, "https://salvla123.tistory.com/")
	f.postpone.OnClick = func() { panic("boom") }

	out, err := f.proc.Process(context.Background())
	require.ErrorIs(t, err, ErrUnexpected)
	require.Equal(t, "no-match", out.Match)
	require.Equal(t, string(UnknownError), out.Action)

	rec := f.onlyRecord(t)
	require.Equal(t, string(UnknownError), rec.Action)
}

func TestCancelledContextStillRecords(t *testing.T) {
	f := newFixture(t, "https://write88721.tistory.com/")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.proc.Process(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, f.mem.Records(), 1)
}

type panickingRecorder struct{}

func (panickingRecorder) Append(context.Context, activity.Record) error { panic("disk gone") }
func (panickingRecorder) Close() error                                  { return nil }

func TestPanickingRecorderIsALogError(t *testing.T) {
	f := newFixture(t, "https://write88721.tistory.com/")
	f.proc.recorder = panickingRecorder{}

	out, err := f.proc.Process(context.Background())
	require.NoError(t, err, "a broken log must not trigger item recovery")
	require.True(t, out.Approved())
	require.ErrorIs(t, out.LogErr, activity.ErrLogWrite)
	require.Equal(t, []string{"e"}, f.win.Keys)
}

func TestSettleWaitsBeforeReturning(t *testing.T) {
	f := newFixture(t, "https://write88721.tistory.com/")
	f.proc.cfg.Settle = 150 * time.Millisecond

	start := time.Now()
	_, err := f.proc.Process(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestCancelCutsSettleShort(t *testing.T) {
	f := newFixture(t, "https://write88721.tistory.com/")
	f.proc.cfg.Settle = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	out, err := f.proc.Process(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 10*time.Second)
	require.True(t, out.Approved())
	require.Len(t, f.mem.Records(), 1)
	require.Equal(t, StepSettle, out.Steps[len(out.Steps)-1].Step)
}
