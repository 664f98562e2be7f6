package activity

import (
	"context"
	"fmt"

	"github.com/labelbot/labelbot/pkg/storage"
)

// DBLog writes records into the run history database under one run id.
// The database is owned by the caller.
type DBLog struct {
	db    *storage.DB
	runID string
}

var _ Recorder = (*DBLog)(nil)

func NewDBLog(db *storage.DB, runID string) *DBLog {
	return &DBLog{db: db, runID: runID}
}

func (l *DBLog) Append(ctx context.Context, rec Record) error {
	_, err := l.db.InsertRecord(ctx, storage.Record{
		RunID:      l.runID,
		OccurredAt: rec.Timestamp,
		Link:       rec.LinkOrPlaceholder(),
		Match:      rec.Match,
		Action:     rec.Action,
		Pattern:    rec.Pattern,
		Platform:   rec.Platform,
	})
	if err != nil {
		return fmt.Errorf("%w: history: %v", ErrLogWrite, err)
	}
	return nil
}

func (l *DBLog) Close() error { return nil }
