// Package browsertest provides an in-memory browser.Session for tests.
package browsertest

import (
	"context"
	"fmt"
	"time"

	"github.com/labelbot/labelbot/pkg/browser"
)

// Element is a scripted DOM element.
type Element struct {
	Attrs    map[string]string
	ClickErr error
	AttrErr  error
	InputErr error
	OnClick  func()

	Clicks int
	Inputs []string
}

func (e *Element) Click(ctx context.Context) error {
	if e.ClickErr != nil {
		return e.ClickErr
	}
	e.Clicks++
	if e.OnClick != nil {
		e.OnClick()
	}
	return nil
}

func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	if e.AttrErr != nil {
		return "", false, e.AttrErr
	}
	v, ok := e.Attrs[name]
	return v, ok, nil
}

func (e *Element) Input(ctx context.Context, text string) error {
	if e.InputErr != nil {
		return e.InputErr
	}
	e.Inputs = append(e.Inputs, text)
	return nil
}

// Link returns an element with an href attribute.
func Link(href string) *Element {
	return &Element{Attrs: map[string]string{"href": href}}
}

// Window is one browser window/tab.
type Window struct {
	Handle   string
	URL      string
	Elements map[string][]*Element
	Keys     []string
}

// Add registers el under selector.
func (w *Window) Add(selector string, el *Element) *Element {
	w.Elements[selector] = append(w.Elements[selector], el)
	return el
}

// Remove drops every element registered under selector.
func (w *Window) Remove(selector string) {
	delete(w.Elements, selector)
}

// Session implements browser.Session without a browser.
type Session struct {
	windows []*Window
	current string
	seq     int

	// Lost makes every call fail with browser.ErrSessionLost.
	Lost    bool
	OpenErr error
	KeyErr  error
	// OnOpen runs after Open navigated the current window.
	OnOpen func(w *Window, url string)
	// OnKey runs after a keystroke was delivered.
	OnKey func(w *Window, key string)
	// SwitchErr makes SwitchToWindow fail.
	SwitchErr error

	Opened []string
	Closed []string
	Waits  []string
}

var _ browser.Session = (*Session)(nil)

// New returns a session with a single primary window "w1".
func New() *Session {
	s := &Session{}
	w := s.NewWindow()
	s.current = w.Handle
	return s
}

// NewWindow opens a window without focusing it, as a popup would.
func (s *Session) NewWindow() *Window {
	s.seq++
	w := &Window{Handle: fmt.Sprintf("w%d", s.seq), Elements: map[string][]*Element{}}
	s.windows = append(s.windows, w)
	return w
}

// Window returns the window with handle, or nil.
func (s *Session) Window(handle string) *Window {
	for _, w := range s.windows {
		if w.Handle == handle {
			return w
		}
	}
	return nil
}

// Current returns the focused window, or nil after it was closed.
func (s *Session) Current() *Window {
	return s.Window(s.current)
}

func (s *Session) check() error {
	if s.Lost {
		return browser.ErrSessionLost
	}
	return nil
}

func (s *Session) focused() (*Window, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	w := s.Current()
	if w == nil {
		return nil, browser.ErrNoWindow
	}
	return w, nil
}

func (s *Session) Open(ctx context.Context, url string) error {
	w, err := s.focused()
	if err != nil {
		return err
	}
	if s.OpenErr != nil {
		return s.OpenErr
	}
	w.URL = url
	s.Opened = append(s.Opened, url)
	if s.OnOpen != nil {
		s.OnOpen(w, url)
	}
	return nil
}

func (s *Session) WaitPresent(ctx context.Context, selector string, timeout time.Duration) ([]browser.Element, error) {
	w, err := s.focused()
	if err != nil {
		return nil, err
	}
	s.Waits = append(s.Waits, selector)
	els := w.Elements[selector]
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", browser.ErrTimeout, selector)
	}
	out := make([]browser.Element, 0, len(els))
	for _, el := range els {
		out = append(out, el)
	}
	return out, nil
}

func (s *Session) WaitClickable(ctx context.Context, selector string, timeout time.Duration) (browser.Element, error) {
	els, err := s.WaitPresent(ctx, selector, timeout)
	if err != nil {
		return nil, err
	}
	return els[0], nil
}

func (s *Session) PressKey(ctx context.Context, key string) error {
	w, err := s.focused()
	if err != nil {
		return err
	}
	if s.KeyErr != nil {
		return s.KeyErr
	}
	w.Keys = append(w.Keys, key)
	if s.OnKey != nil {
		s.OnKey(w, key)
	}
	return nil
}

func (s *Session) WindowHandles(ctx context.Context) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	handles := make([]string, 0, len(s.windows))
	for _, w := range s.windows {
		handles = append(handles, w.Handle)
	}
	return handles, nil
}

func (s *Session) CurrentWindow() string {
	return s.current
}

func (s *Session) SwitchToWindow(ctx context.Context, handle string) error {
	if err := s.check(); err != nil {
		return err
	}
	if s.SwitchErr != nil {
		return s.SwitchErr
	}
	if s.Window(handle) == nil {
		return fmt.Errorf("%w: unknown window %s", browser.ErrSessionLost, handle)
	}
	s.current = handle
	return nil
}

func (s *Session) CloseCurrentWindow(ctx context.Context) error {
	w, err := s.focused()
	if err != nil {
		return err
	}
	for i, cand := range s.windows {
		if cand == w {
			s.windows = append(s.windows[:i], s.windows[i+1:]...)
			break
		}
	}
	s.Closed = append(s.Closed, w.Handle)
	s.current = ""
	return nil
}

func (s *Session) Close() error {
	s.windows = nil
	s.current = ""
	return nil
}
