// Package report prints processed-item records as delimited lines.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/labelbot/labelbot/pkg/storage"
)

// DefaultFlags prints timestamp, link, match and action.
const DefaultFlags = "tlma"

// ValidateFlags checks every output flag before anything is printed.
//
//	t  timestamp      l  link       m  match     a  action
//	o  outcome        p  pattern    d  platform  r  run id
func ValidateFlags(outputFlags string) error {
	if outputFlags == "" {
		return fmt.Errorf("no output flags given")
	}
	for _, f := range outputFlags {
		if !strings.ContainsRune("tlmaopdr", f) {
			return fmt.Errorf("invalid output flag %q", f)
		}
	}
	return nil
}

// PrintRecords writes one line per record.
func PrintRecords(w io.Writer, records []storage.Record, outputFlags, delimiter string) error {
	if err := ValidateFlags(outputFlags); err != nil {
		return err
	}
	for _, rec := range records {
		if line := createLine(rec, outputFlags, delimiter); len(line) > 0 {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}

func createLine(rec storage.Record, outputFlags, delimiter string) string {
	var line string
	for _, f := range outputFlags {
		switch f {
		case 't':
			line += rec.OccurredAt.Local().Format(time.DateTime) + delimiter
		case 'l':
			line += rec.Link + delimiter
		case 'm':
			line += rec.Match + delimiter
		case 'a':
			line += rec.Action + delimiter
		case 'o':
			line += Outcome(rec.Action) + delimiter
		case 'p':
			line += rec.Pattern + delimiter
		case 'd':
			line += rec.Platform + delimiter
		case 'r':
			line += rec.RunID + delimiter
		}
	}
	return strings.TrimSuffix(line, delimiter)
}

// outcomeMap groups action descriptions under the outcome they represent.
var outcomeMap = map[string][]string{
	"approved": {"approve"},
	"deferred": {"defer"},
	"failed":   {"approve-action-error", "defer-click-error", "assign-click-error", "unknown-error"},
}

// actionOutcome is a reverse map generated from outcomeMap.
var actionOutcome map[string]string

func init() {
	actionOutcome = make(map[string]string)
	for outcome, actions := range outcomeMap {
		for _, a := range actions {
			actionOutcome[a] = outcome
		}
	}
}

// Outcome maps an action description to approved, deferred or failed.
func Outcome(action string) string {
	if o, ok := actionOutcome[strings.ToLower(action)]; ok {
		return o
	}
	return "failed"
}
