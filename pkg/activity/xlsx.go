package activity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/labelbot/labelbot/internal/utils"
	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet rows are appended to.
const SheetName = "activity"

// FileName returns the per-run log file name for a run started at t.
func FileName(t time.Time) string {
	return "activity_" + utils.RunStamp(t) + ".xlsx"
}

// XLSXLog appends records to a spreadsheet. It holds a lock file for its
// lifetime and refuses to overwrite a file that changed behind its back.
type XLSXLog struct {
	path  string
	file  *excelize.File
	lock  *utils.FileLock
	next  int
	size  int64
	mtime time.Time
}

var _ Recorder = (*XLSXLog)(nil)

// OpenXLSX opens path for appending, creating it with a header row when it
// does not exist yet.
func OpenXLSX(path string) (*XLSXLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	lock, err := utils.NewFileLock(path)
	if err != nil {
		return nil, err
	}
	if err := lock.TryLock(); err != nil {
		if errors.Is(err, utils.ErrLocked) {
			return nil, fmt.Errorf("%w: %v", ErrLogLocked, err)
		}
		return nil, err
	}

	l := &XLSXLog{path: path, lock: lock}
	if _, statErr := os.Stat(path); statErr == nil {
		err = l.load()
	} else if os.IsNotExist(statErr) {
		err = l.create()
	} else {
		err = statErr
	}
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return l, nil
}

// Path returns the spreadsheet path.
func (l *XLSXLog) Path() string {
	return l.path
}

func (l *XLSXLog) create() error {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		f.Close()
		return err
	}
	header := make([]interface{}, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		f.Close()
		return err
	}
	if err := f.SaveAs(l.path); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", ErrLogWrite, err)
	}
	l.file = f
	l.next = 2
	return l.remember()
}

func (l *XLSXLog) load() error {
	f, err := excelize.OpenFile(l.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", l.path, err)
	}
	if idx, _ := f.GetSheetIndex(SheetName); idx < 0 {
		if _, err := f.NewSheet(SheetName); err != nil {
			f.Close()
			return err
		}
	}
	rows, err := f.GetRows(SheetName)
	if err != nil {
		f.Close()
		return err
	}
	if l.file != nil {
		l.file.Close()
	}
	l.file = f
	l.next = len(rows) + 1
	return l.remember()
}

func (l *XLSXLog) remember() error {
	fi, err := os.Stat(l.path)
	if err != nil {
		return err
	}
	l.size = fi.Size()
	l.mtime = fi.ModTime()
	return nil
}

func (l *XLSXLog) modified() bool {
	fi, err := os.Stat(l.path)
	if err != nil {
		return true
	}
	return fi.Size() != l.size || !fi.ModTime().Equal(l.mtime)
}

// Append writes rec as the next row and saves the file. When the file was
// edited externally the record is rejected with ErrLogModified and the
// workbook is reloaded so later appends keep those edits.
func (l *XLSXLog) Append(ctx context.Context, rec Record) error {
	if l.file == nil {
		return fmt.Errorf("%w: log is closed", ErrLogWrite)
	}
	if l.modified() {
		if err := l.load(); err != nil {
			return fmt.Errorf("%w: %s: reload failed: %v", ErrLogModified, l.path, err)
		}
		return fmt.Errorf("%w: %s", ErrLogModified, l.path)
	}

	cell, err := excelize.CoordinatesToCellName(1, l.next)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLogWrite, err)
	}
	row := rec.Row()
	if err := l.file.SetSheetRow(SheetName, cell, &row); err != nil {
		return fmt.Errorf("%w: %v", ErrLogWrite, err)
	}
	if err := l.file.SaveAs(l.path); err != nil {
		_ = l.file.RemoveRow(SheetName, l.next)
		return fmt.Errorf("%w: %v", ErrLogWrite, err)
	}
	l.next++
	return l.remember()
}

// Close releases the workbook and the lock file.
func (l *XLSXLog) Close() error {
	var errs []error
	if l.file != nil {
		errs = append(errs, l.file.Close())
		l.file = nil
	}
	if l.lock != nil {
		errs = append(errs, l.lock.Unlock())
		l.lock = nil
	}
	return errors.Join(errs...)
}
