package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// RodSession drives a Chrome instance over CDP. Window handles are target IDs.
type RodSession struct {
	cfg      Config
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

// Launch starts a browser (downloading one when no binary is configured),
// opens the primary window and returns a session focused on it.
func Launch(ctx context.Context, cfg Config) (*RodSession, error) {
	l := launcher.New().Headless(cfg.Headless)
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}
	// The review button opens the work item in a popup.
	l = l.Set(flags.Flag("disable-popup-blocking"))
	if cfg.Headless {
		l = l.Set(flags.Flag("window-size"), fmt.Sprintf("%d,%d", cfg.GetViewportWidth(), cfg.GetViewportHeight()))
		l = l.Set(flags.Flag("disable-gpu"))
	} else {
		l = l.Set(flags.Flag("start-maximized"))
	}
	for _, rawFlag := range cfg.Flags {
		flagStr := strings.TrimLeft(rawFlag, "-")
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}

	controlURL, err := l.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		l.Kill()
		return nil, fmt.Errorf("create page: %w", err)
	}
	if cfg.Headless {
		_ = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             cfg.GetViewportWidth(),
			Height:            cfg.GetViewportHeight(),
			DeviceScaleFactor: 1.0,
		})
	}

	return &RodSession{cfg: cfg, launcher: l, browser: b, page: page}, nil
}

func (s *RodSession) current() (*rod.Page, error) {
	if s.page == nil {
		return nil, ErrNoWindow
	}
	return s.page, nil
}

func (s *RodSession) Open(ctx context.Context, url string) error {
	page, err := s.current()
	if err != nil {
		return err
	}
	p := page.Context(ctx).Timeout(s.cfg.GetNavigationTimeout())
	defer p.CancelTimeout()
	if err := p.Navigate(url); err != nil {
		return classify(ctx, fmt.Errorf("navigate %s: %w", url, err))
	}
	if err := p.WaitLoad(); err != nil {
		return classify(ctx, fmt.Errorf("wait load %s: %w", url, err))
	}
	return nil
}

func (s *RodSession) WaitPresent(ctx context.Context, selector string, timeout time.Duration) ([]Element, error) {
	page, err := s.current()
	if err != nil {
		return nil, err
	}
	waiter := page.Context(ctx).Timeout(timeout)
	_, err = waiter.Element(selector)
	waiter.CancelTimeout()
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("%s: %w", selector, err))
	}
	els, err := page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("%s: %w", selector, err))
	}
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el})
	}
	return out, nil
}

func (s *RodSession) WaitClickable(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	page, err := s.current()
	if err != nil {
		return nil, err
	}
	waiter := page.Context(ctx).Timeout(timeout)
	defer waiter.CancelTimeout()
	el, err := waiter.Element(selector)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("%s: %w", selector, err))
	}
	if err := el.WaitVisible(); err != nil {
		return nil, classify(ctx, fmt.Errorf("%s not visible: %w", selector, err))
	}
	// Detach the element from the wait deadline.
	return &rodElement{el: el.Context(ctx)}, nil
}

func (s *RodSession) PressKey(ctx context.Context, key string) error {
	page, err := s.current()
	if err != nil {
		return err
	}
	k, err := parseKey(key)
	if err != nil {
		return err
	}
	if err := page.Context(ctx).KeyActions().Type(k).Do(); err != nil {
		return classify(ctx, fmt.Errorf("press %s: %w", key, err))
	}
	return nil
}

func (s *RodSession) WindowHandles(ctx context.Context) ([]string, error) {
	pages, err := s.browser.Context(ctx).Pages()
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("list windows: %w", err))
	}
	handles := make([]string, 0, len(pages))
	for _, p := range pages {
		handles = append(handles, string(p.TargetID))
	}
	return handles, nil
}

func (s *RodSession) CurrentWindow() string {
	if s.page == nil {
		return ""
	}
	return string(s.page.TargetID)
}

func (s *RodSession) SwitchToWindow(ctx context.Context, handle string) error {
	page, err := s.browser.Context(ctx).PageFromTarget(proto.TargetTargetID(handle))
	if err != nil {
		return classify(ctx, fmt.Errorf("switch to window %s: %w", handle, err))
	}
	if _, err := page.Context(ctx).Activate(); err != nil {
		return classify(ctx, fmt.Errorf("activate window %s: %w", handle, err))
	}
	s.page = page.Context(context.Background())
	return nil
}

func (s *RodSession) CloseCurrentWindow(ctx context.Context) error {
	page, err := s.current()
	if err != nil {
		return err
	}
	s.page = nil
	if err := page.Context(ctx).Close(); err != nil {
		return classify(ctx, fmt.Errorf("close window: %w", err))
	}
	return nil
}

// Close shuts the browser down and kills the launched process.
func (s *RodSession) Close() error {
	var err error
	if s.browser != nil {
		err = s.browser.Close()
		s.browser = nil
	}
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
		s.launcher = nil
	}
	s.page = nil
	return err
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Click(ctx context.Context) error {
	if err := e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return classify(ctx, fmt.Errorf("click: %w", err))
	}
	return nil
}

func (e *rodElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, classify(ctx, fmt.Errorf("attribute %s: %w", name, err))
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *rodElement) Input(ctx context.Context, text string) error {
	if err := e.el.Context(ctx).Input(text); err != nil {
		return classify(ctx, fmt.Errorf("input: %w", err))
	}
	return nil
}

// classify maps driver errors onto ErrTimeout and ErrSessionLost. The
// caller's own cancellation is passed through untouched.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range sessionLostMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrSessionLost, err)
		}
	}
	return err
}

var sessionLostMarkers = []string{
	"target closed",
	"no target with given id",
	"session with given id not found",
	"websocket: close",
	"use of closed network connection",
	"broken pipe",
	"connection refused",
}

var namedKeys = map[string]input.Key{
	"enter":     input.Enter,
	"return":    input.Enter,
	"tab":       input.Tab,
	"escape":    input.Escape,
	"esc":       input.Escape,
	"backspace": input.Backspace,
}

var letterKeys = []input.Key{
	input.KeyA, input.KeyB, input.KeyC, input.KeyD, input.KeyE, input.KeyF, input.KeyG,
	input.KeyH, input.KeyI, input.KeyJ, input.KeyK, input.KeyL, input.KeyM, input.KeyN,
	input.KeyO, input.KeyP, input.KeyQ, input.KeyR, input.KeyS, input.KeyT, input.KeyU,
	input.KeyV, input.KeyW, input.KeyX, input.KeyY, input.KeyZ,
}

var digitKeys = []input.Key{
	input.Digit0, input.Digit1, input.Digit2, input.Digit3, input.Digit4,
	input.Digit5, input.Digit6, input.Digit7, input.Digit8, input.Digit9,
}

// parseKey accepts a single letter or digit (case-insensitive) or a key name.
func parseKey(key string) (input.Key, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	if named, ok := namedKeys[k]; ok {
		return named, nil
	}
	if len(k) == 1 {
		switch c := k[0]; {
		case c >= 'a' && c <= 'z':
			return letterKeys[c-'a'], nil
		case c >= '0' && c <= '9':
			return digitKeys[c-'0'], nil
		}
	}
	return 0, fmt.Errorf("unsupported key %s", strconv.Quote(key))
}
