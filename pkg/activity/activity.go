// Package activity records one row per processed work item.
package activity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// NoLinkPlaceholder is logged in place of a link that could not be read.
const NoLinkPlaceholder = "no link found"

// TimestampLayout is the layout of the timestamp column.
const TimestampLayout = "2006-01-02 15:04:05"

var (
	// ErrLogLocked means another process holds the log file.
	ErrLogLocked = errors.New("activity log is locked by another process")
	// ErrLogModified means the log file changed on disk since our last save.
	ErrLogModified = errors.New("activity log was modified externally")
	// ErrLogWrite wraps any failure to persist a record.
	ErrLogWrite = errors.New("failed to write activity record")
)

// Header is the first row of a new spreadsheet log.
var Header = []string{"timestamp", "link", "match", "action"}

// Record is a single log row.
type Record struct {
	Timestamp time.Time
	Link      string
	Match     string
	Action    string

	// Not part of the spreadsheet row.
	Pattern  string
	Platform string
}

// LinkOrPlaceholder returns the link, or NoLinkPlaceholder when it is blank.
func (r Record) LinkOrPlaceholder() string {
	if strings.TrimSpace(r.Link) == "" {
		return NoLinkPlaceholder
	}
	return r.Link
}

// Row returns the spreadsheet cells in Header order.
func (r Record) Row() []interface{} {
	return []interface{}{r.Timestamp.Format(TimestampLayout), r.LinkOrPlaceholder(), r.Match, r.Action}
}

// Recorder persists records. Append must not be retried by callers; a failed
// append is reported and processing continues.
type Recorder interface {
	Append(ctx context.Context, rec Record) error
	Close() error
}

// Multi fans a record out to every recorder and joins their errors.
type Multi []Recorder

func (m Multi) Append(ctx context.Context, rec Record) error {
	var errs []error
	for _, r := range m {
		if err := r.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, r := range m {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps records in memory. Err, when set, is returned by Append after
// the record was kept.
type Memory struct {
	mu      sync.Mutex
	records []Record
	Err     error
}

func (m *Memory) Append(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return m.Err
}

func (m *Memory) Close() error { return nil }

// Records returns a copy of everything appended so far.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}
