package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/labelbot/labelbot/pkg/processor"
	"github.com/labelbot/labelbot/pkg/status"
	"github.com/labelbot/labelbot/pkg/worker"
)

// printUpdates writes one coloured line per status update until the
// channel is closed.
func printUpdates(w io.Writer, updates <-chan status.Update) {
	for u := range updates {
		if line := formatUpdate(u); line != "" {
			fmt.Fprintln(w, line)
		}
	}
}

func formatUpdate(u status.Update) string {
	ts := u.At
	if ts.IsZero() {
		ts = time.Now()
	}
	prefix := color.HiBlackString(ts.Format("15:04:05"))

	switch u.Kind {
	case status.KindItem:
		link := u.Link
		if link == "" {
			link = "(no link)"
		}
		return fmt.Sprintf("%s #%d %s %s %s", prefix, u.Count, actionString(u.Action), link, color.HiBlackString(u.Match))
	case status.KindWarning:
		msg := u.Message
		if u.Err != nil {
			msg += ": " + u.Err.Error()
		}
		return fmt.Sprintf("%s %s", prefix, color.YellowString("[!] "+msg))
	case status.KindLogin, status.KindFinished:
		if u.Err != nil {
			return fmt.Sprintf("%s %s", prefix, color.RedString("[x] %s: %v", u.Message, u.Err))
		}
		return fmt.Sprintf("%s %s", prefix, color.GreenString("[+] "+u.Message))
	default:
		if u.Message == "" {
			return ""
		}
		return fmt.Sprintf("%s %s", prefix, color.CyanString("[*] "+u.Message))
	}
}

func actionString(action string) string {
	switch action {
	case processor.ActionApprove:
		return color.GreenString("%-8s", "APPROVE")
	case processor.ActionDefer:
		return color.YellowString("%-8s", "DEFER")
	default:
		return color.RedString("%-8s", strings.ToUpper(action))
	}
}

func printSummary(w io.Writer, res worker.Result, runLog string) {
	sum := res.Summary
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run\t%s\n", res.RunID)
	if !sum.FinishedAt.IsZero() {
		fmt.Fprintf(tw, "Duration\t%s\n", sum.Duration().Round(time.Second))
	}
	fmt.Fprintf(tw, "Patterns\t%d\n", res.Patterns)
	fmt.Fprintf(tw, "Processed\t%d\n", sum.Processed)
	fmt.Fprintf(tw, "Approved\t%s\n", color.GreenString("%d", sum.Approved))
	fmt.Fprintf(tw, "Deferred\t%s\n", color.YellowString("%d", sum.Deferred))
	fmt.Fprintf(tw, "Failed\t%s\n", color.RedString("%d", sum.Failed))
	if sum.StepFailures > 0 {
		fmt.Fprintf(tw, "Step failures\t%s\n", color.YellowString("%d", sum.StepFailures))
	}
	if sum.Recoveries > 0 {
		fmt.Fprintf(tw, "Recoveries\t%d\n", sum.Recoveries)
	}
	if sum.LogErrors > 0 {
		fmt.Fprintf(tw, "Log errors\t%s\n", color.RedString("%d", sum.LogErrors))
	}
	if sum.StopReason != "" {
		fmt.Fprintf(tw, "Stop reason\t%s\n", sum.StopReason)
	}
	if res.ActivityLog != "" {
		fmt.Fprintf(tw, "Activity log\t%s\n", res.ActivityLog)
	}
	fmt.Fprintf(tw, "Run log\t%s\n", runLog)
	tw.Flush()
}
