// Package browser defines the browser session the automation drives and a
// go-rod implementation of it.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout marks a bounded wait that expired. Callers downgrade it.
	ErrTimeout = errors.New("timed out waiting for element")
	// ErrSessionLost marks a browser or window that is no longer usable.
	ErrSessionLost = errors.New("browser session lost")
	// ErrNoWindow is returned when the focused window was closed and no
	// other window has been switched to yet.
	ErrNoWindow = errors.New("no current window")
)

// Session is a single-threaded handle on a browser with one focused window.
// Implementations are not safe for concurrent use.
type Session interface {
	Open(ctx context.Context, url string) error
	// WaitPresent waits until at least one element matches selector and
	// returns every match in document order.
	WaitPresent(ctx context.Context, selector string, timeout time.Duration) ([]Element, error)
	WaitClickable(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	// PressKey sends a keystroke to the focused window's active element.
	PressKey(ctx context.Context, key string) error
	WindowHandles(ctx context.Context) ([]string, error)
	CurrentWindow() string
	SwitchToWindow(ctx context.Context, handle string) error
	CloseCurrentWindow(ctx context.Context) error
	Close() error
}

// Element is a DOM element found in the focused window.
type Element interface {
	Click(ctx context.Context) error
	Attribute(ctx context.Context, name string) (string, bool, error)
	Input(ctx context.Context, text string) error
}

// Config holds browser launch configuration.
type Config struct {
	Bin               string        `mapstructure:"bin"`
	Headless          bool          `mapstructure:"headless"`
	ViewportWidth     int           `mapstructure:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	Flags             []string      `mapstructure:"flags"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:          false,
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		NavigationTimeout: 30 * time.Second,
	}
}

// GetViewportWidth returns viewport width.
func (c Config) GetViewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1920
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c Config) GetViewportHeight() int {
	if c.ViewportHeight == 0 {
		return 1080
	}
	return c.ViewportHeight
}

// GetNavigationTimeout returns the navigation timeout.
func (c Config) GetNavigationTimeout() time.Duration {
	if c.NavigationTimeout == 0 {
		return 30 * time.Second
	}
	return c.NavigationTimeout
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
