// Package labelcraft drives the LabelCraft labeling web application.
package labelcraft

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/labelbot/labelbot/pkg/browser"
	"github.com/labelbot/labelbot/pkg/platforms"
)

const (
	DefaultBaseURL = "http://label-craft.is.kakaocorp.com"
	DefaultQueue   = 45

	defaultInputTimeout   = 15 * time.Second
	defaultSuccessTimeout = 60 * time.Second
)

// DefaultSelectors returns the selectors of the production site. The item
// page selectors can be overridden from the config file.
func DefaultSelectors() platforms.Selectors {
	return platforms.Selectors{
		LoginUser:     "#exampleInputEmail",
		LoginPassword: "#exampleInputPassword",
		LoginSuccess:  "#accordionSidebar > a > img",
		ReviewStart:   "#reviewStart",
		Link:          "#contentsArea a[href]",
		Defer:         "#btnPostpone",
		AssignAnyone:  "#btnAssignAnyone",
		ApproveKey:    "e",
	}
}

// Site implements platforms.Platform for LabelCraft.
type Site struct {
	baseURL        string
	sel            platforms.Selectors
	InputTimeout   time.Duration
	SuccessTimeout time.Duration
}

var _ platforms.Platform = (*Site)(nil)

// New returns a site rooted at baseURL. Empty arguments fall back to the
// production defaults.
func New(baseURL string, sel platforms.Selectors) *Site {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Site{
		baseURL:        strings.TrimRight(baseURL, "/"),
		sel:            sel.WithDefaults(DefaultSelectors()),
		InputTimeout:   defaultInputTimeout,
		SuccessTimeout: defaultSuccessTimeout,
	}
}

func (s *Site) Name() string { return "labelcraft" }

func (s *Site) Selectors() platforms.Selectors { return s.sel }

func (s *Site) LoginURL() string {
	return s.baseURL + "/login"
}

func (s *Site) QueueURL(queue int) string {
	if queue <= 0 {
		queue = DefaultQueue
	}
	return fmt.Sprintf("%s/tasks/%d/", s.baseURL, queue)
}

// Authenticate fills the login form, submits it with Enter and waits for the
// sidebar logo that only a logged-in page shows.
func (s *Site) Authenticate(ctx context.Context, sess browser.Session, cfg platforms.AuthConfig) error {
	if cfg.Username == "" || cfg.Password == "" {
		return fmt.Errorf("%w: username and password are required", platforms.ErrLoginFailed)
	}
	if err := sess.Open(ctx, s.LoginURL()); err != nil {
		return fmt.Errorf("%w: open login page: %w", platforms.ErrLoginFailed, err)
	}
	if err := s.fill(ctx, sess, s.sel.LoginUser, cfg.Username); err != nil {
		return err
	}
	if err := s.fill(ctx, sess, s.sel.LoginPassword, cfg.Password); err != nil {
		return err
	}
	if err := sess.PressKey(ctx, "enter"); err != nil {
		return fmt.Errorf("%w: submit: %w", platforms.ErrLoginFailed, err)
	}
	if _, err := sess.WaitPresent(ctx, s.sel.LoginSuccess, s.SuccessTimeout); err != nil {
		return fmt.Errorf("%w: logged-in page not shown: %w", platforms.ErrLoginFailed, err)
	}
	return nil
}

func (s *Site) fill(ctx context.Context, sess browser.Session, selector, value string) error {
	els, err := sess.WaitPresent(ctx, selector, s.InputTimeout)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", platforms.ErrLoginFailed, selector, err)
	}
	if err := els[0].Input(ctx, value); err != nil {
		return fmt.Errorf("%w: %s: %w", platforms.ErrLoginFailed, selector, err)
	}
	return nil
}
