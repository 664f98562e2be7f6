package platforms

import (
	"context"
	"errors"

	"github.com/labelbot/labelbot/pkg/browser"
)

// ErrLoginFailed is returned by Authenticate when the site did not accept
// the credentials or never showed the logged-in page.
var ErrLoginFailed = errors.New("login failed")

// AuthConfig carries authentication inputs.
type AuthConfig struct {
	Username string
	Password string
}

// Selectors are the CSS selectors and keys the automation relies on.
type Selectors struct {
	LoginUser     string `mapstructure:"login_user"`
	LoginPassword string `mapstructure:"login_password"`
	LoginSuccess  string `mapstructure:"login_success"`
	ReviewStart   string `mapstructure:"review_start"`
	Link          string `mapstructure:"link"`
	Defer         string `mapstructure:"defer"`
	AssignAnyone  string `mapstructure:"assign_anyone"`
	ApproveKey    string `mapstructure:"approve_key"`
}

// WithDefaults returns s with every empty field taken from def.
func (s Selectors) WithDefaults(def Selectors) Selectors {
	pick := func(v, d string) string {
		if v == "" {
			return d
		}
		return v
	}
	return Selectors{
		LoginUser:     pick(s.LoginUser, def.LoginUser),
		LoginPassword: pick(s.LoginPassword, def.LoginPassword),
		LoginSuccess:  pick(s.LoginSuccess, def.LoginSuccess),
		ReviewStart:   pick(s.ReviewStart, def.ReviewStart),
		Link:          pick(s.Link, def.Link),
		Defer:         pick(s.Defer, def.Defer),
		AssignAnyone:  pick(s.AssignAnyone, def.AssignAnyone),
		ApproveKey:    pick(s.ApproveKey, def.ApproveKey),
	}
}

// Platform abstracts the labeling site: how to log in, where a queue lives
// and which elements drive a review.
type Platform interface {
	Name() string
	// Authenticate logs the session in and returns once the logged-in page
	// is visible.
	Authenticate(ctx context.Context, s browser.Session, cfg AuthConfig) error
	QueueURL(queue int) string
	Selectors() Selectors
}
