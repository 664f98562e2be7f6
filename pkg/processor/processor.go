// Package processor runs one classify-and-act cycle on the focused work item
// window: read the item link, decide approve or defer, perform the action
// and record exactly one activity row.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/labelbot/labelbot/pkg/activity"
	"github.com/labelbot/labelbot/pkg/browser"
	"github.com/labelbot/labelbot/pkg/classifier"
	"github.com/labelbot/labelbot/pkg/platforms"
	"github.com/labelbot/labelbot/pkg/status"
)

// ErrUnexpected wraps a panic recovered while processing an item.
var ErrUnexpected = errors.New("unexpected processing error")

// Kind names a failure. It doubles as the match or action description that
// is logged for the item.
type Kind string

const (
	LinkNotFound        Kind = "link-not-found"
	LinkExtractionError Kind = "link-extraction-error"
	ClassificationError Kind = "classification-error"
	ApproveActionError  Kind = "approve-action-error"
	DeferClickError     Kind = "defer-click-error"
	AssignClickError    Kind = "assign-click-error"
	UnknownError        Kind = "unknown-error"
)

// Successful action descriptions.
const (
	ActionApprove = "approve"
	ActionDefer   = "defer"
)

type Step string

const (
	StepLink     Step = "link"
	StepClassify Step = "classify"
	StepApprove  Step = "approve"
	StepDefer    Step = "defer"
	StepAssign   Step = "assign"
	StepRecord   Step = "record"
	StepSettle   Step = "settle"
	StepUnknown  Step = "unknown"
)

// StepResult is the result of one step. Kind is empty on success.
type StepResult struct {
	Step Step
	Kind Kind
	Err  error
}

// Outcome aggregates the steps of one Process call.
type Outcome struct {
	Link   string
	Result classifier.Result
	Match  string
	Action string
	Steps  []StepResult
	// LogErr is set when the activity record could not be written.
	LogErr error

	recorded bool
}

func (o *Outcome) add(step Step, kind Kind, err error) {
	o.Steps = append(o.Steps, StepResult{Step: step, Kind: kind, Err: err})
}

// Failures returns every step that did not succeed, in order.
func (o Outcome) Failures() []StepResult {
	var out []StepResult
	for _, s := range o.Steps {
		if s.Kind != "" {
			out = append(out, s)
		}
	}
	return out
}

// Failed reports whether any step failed.
func (o Outcome) Failed() bool {
	return len(o.Failures()) > 0
}

func (o Outcome) Approved() bool { return o.Action == ActionApprove }
func (o Outcome) Deferred() bool { return o.Action == ActionDefer }

func (o Outcome) sessionLost() error {
	for _, s := range o.Steps {
		if errors.Is(s.Err, browser.ErrSessionLost) {
			return s.Err
		}
	}
	return nil
}

type Config struct {
	LinkTimeout   time.Duration `mapstructure:"link_timeout"`
	DeferTimeout  time.Duration `mapstructure:"defer_timeout"`
	AssignTimeout time.Duration `mapstructure:"assign_timeout"`
	Settle        time.Duration `mapstructure:"settle"`
}

func DefaultConfig() Config {
	return Config{
		LinkTimeout:   10 * time.Second,
		DeferTimeout:  10 * time.Second,
		AssignTimeout: 10 * time.Second,
		Settle:        time.Second,
	}
}

// Processor is bound to one session for the lifetime of a run.
type Processor struct {
	session    browser.Session
	classifier *classifier.Classifier
	recorder   activity.Recorder
	sel        platforms.Selectors
	cfg        Config
	log        status.Logger
	now        func() time.Time
}

// New binds a processor to a session. Zero timeouts take their defaults;
// a zero settle pause is kept.
func New(s browser.Session, c *classifier.Classifier, rec activity.Recorder, sel platforms.Selectors, cfg Config, log status.Logger) *Processor {
	def := DefaultConfig()
	if cfg.LinkTimeout <= 0 {
		cfg.LinkTimeout = def.LinkTimeout
	}
	if cfg.DeferTimeout <= 0 {
		cfg.DeferTimeout = def.DeferTimeout
	}
	if cfg.AssignTimeout <= 0 {
		cfg.AssignTimeout = def.AssignTimeout
	}
	return &Processor{
		session:    s,
		classifier: c,
		recorder:   rec,
		sel:        sel,
		cfg:        cfg,
		log:        status.OrNop(log),
		now:        time.Now,
	}
}

// Process handles the item shown in the focused window. UI failures are
// downgraded into the outcome; only a lost session, a recovered panic or the
// caller's cancellation are returned, always after the record was written.
func (p *Processor) Process(ctx context.Context) (out Outcome, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err = fmt.Errorf("%w: %v", ErrUnexpected, r)
		out.add(StepUnknown, UnknownError, err)
		if out.Match == "" {
			out.Match = string(UnknownError)
		}
		if out.Action == "" {
			out.Action = string(UnknownError)
		}
		p.log.Errorf("Unexpected error while processing %q: %v", out.Link, r)
		if !out.recorded {
			p.safeRecord(ctx, &out)
		}
	}()

	deferItem := true
	link, kind, linkErr := p.readLink(ctx)
	out.Link = link
	out.add(StepLink, kind, linkErr)
	if kind != "" {
		out.Match = string(kind)
		p.log.Warnf("Could not read item link: %v", linkErr)
	} else {
		res, cerr := p.classifier.Classify(link)
		if cerr != nil {
			out.Match = string(ClassificationError)
			out.add(StepClassify, ClassificationError, cerr)
			p.log.Warnf("Could not classify %s: %v", link, cerr)
		} else {
			out.Result = res
			out.Match = res.Description()
			out.add(StepClassify, "", nil)
			deferItem = !res.Matched
		}
	}

	if deferItem {
		p.deferItem(ctx, &out)
	} else {
		p.approve(ctx, &out)
	}

	p.record(ctx, &out)

	if lost := out.sessionLost(); lost != nil {
		return out, lost
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	if err := browser.Sleep(ctx, p.cfg.Settle); err != nil {
		out.add(StepSettle, "", err)
		return out, err
	}
	return out, nil
}

// readLink reads the href of the last element matching the link selector.
func (p *Processor) readLink(ctx context.Context) (string, Kind, error) {
	els, err := p.session.WaitPresent(ctx, p.sel.Link, p.cfg.LinkTimeout)
	if err != nil {
		if errors.Is(err, browser.ErrTimeout) {
			return "", LinkNotFound, err
		}
		return "", LinkExtractionError, err
	}
	if len(els) == 0 {
		return "", LinkNotFound, fmt.Errorf("%w: %s", browser.ErrTimeout, p.sel.Link)
	}
	href, ok, err := els[len(els)-1].Attribute(ctx, "href")
	if err != nil {
		return "", LinkExtractionError, err
	}
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return "", LinkExtractionError, fmt.Errorf("%s has no href", p.sel.Link)
	}
	return href, "", nil
}

func (p *Processor) approve(ctx context.Context, out *Outcome) {
	if err := p.session.PressKey(ctx, p.sel.ApproveKey); err != nil {
		out.Action = string(ApproveActionError)
		out.add(StepApprove, ApproveActionError, err)
		p.log.Warnf("Approve failed for %s: %v", out.Link, err)
		return
	}
	out.Action = ActionApprove
	out.add(StepApprove, "", nil)
	p.log.Infof("Approved %s (pattern %q)", out.Link, out.Result.Pattern)
}

func (p *Processor) deferItem(ctx context.Context, out *Outcome) {
	if err := p.click(ctx, p.sel.Defer, p.cfg.DeferTimeout); err != nil {
		out.Action = string(DeferClickError)
		out.add(StepDefer, DeferClickError, err)
		p.log.Warnf("Defer failed for %s: %v", out.Link, err)
		return
	}
	out.add(StepDefer, "", nil)

	if err := p.click(ctx, p.sel.AssignAnyone, p.cfg.AssignTimeout); err != nil {
		out.Action = string(AssignClickError)
		out.add(StepAssign, AssignClickError, err)
		p.log.Warnf("Assign to anyone failed for %s: %v", out.Link, err)
		return
	}
	out.Action = ActionDefer
	out.add(StepAssign, "", nil)
	p.log.Infof("Deferred %s (%s)", activity.Record{Link: out.Link}.LinkOrPlaceholder(), out.Match)
}

func (p *Processor) click(ctx context.Context, selector string, timeout time.Duration) error {
	el, err := p.session.WaitClickable(ctx, selector, timeout)
	if err != nil {
		return err
	}
	return el.Click(ctx)
}

func (p *Processor) record(ctx context.Context, out *Outcome) {
	rec := activity.Record{
		Timestamp: p.now(),
		Link:      out.Link,
		Match:     out.Match,
		Action:    out.Action,
		Pattern:   out.Result.Pattern,
		Platform:  out.Result.Platform,
	}
	// A cancelled run still gets its last row.
	err := p.appendRecord(context.WithoutCancel(ctx), rec)
	out.recorded = true
	if err != nil {
		out.LogErr = err
		out.add(StepRecord, "", err)
		p.log.Warnf("Could not write activity record: %v", err)
		return
	}
	out.add(StepRecord, "", nil)
}

// appendRecord reports a panicking recorder as activity.ErrLogWrite.
func (p *Processor) appendRecord(ctx context.Context, rec activity.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", activity.ErrLogWrite, r)
		}
	}()
	return p.recorder.Append(ctx, rec)
}

func (p *Processor) safeRecord(ctx context.Context, out *Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out.LogErr = fmt.Errorf("%w: %v", ErrUnexpected, r)
		}
	}()
	p.record(ctx, out)
}
