package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/labelbot/labelbot/internal/config"
	"github.com/labelbot/labelbot/internal/tui"
	"github.com/labelbot/labelbot/internal/utils"
	"github.com/labelbot/labelbot/pkg/patterns"
	"github.com/labelbot/labelbot/pkg/platforms"
	"github.com/labelbot/labelbot/pkg/platforms/labelcraft"
	"github.com/labelbot/labelbot/pkg/status"
	"github.com/labelbot/labelbot/pkg/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Log in and process the moderation queue",
	Long: `Logs in to LabelCraft, opens the review queue and processes items until stopped.

Press Ctrl+C once to finish the current item and stop, twice to abort immediately.
With --tui, press "s" to stop after the current item and "q" to abort.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		useTUI, _ := cmd.Flags().GetBool("tui")
		verbose, _ := cmd.Flags().GetBool("verbose")

		auth := cfg.Auth()
		if err := promptCredentials(&auth); err != nil {
			return err
		}
		return runAutomation(cfg, auth, useTUI, verbose)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("username", "u", "", "LabelCraft username (password is read from config, env or prompt)")
	runCmd.Flags().Bool("headless", false, "Run the browser without a window")
	runCmd.Flags().IntP("queue", "q", labelcraft.DefaultQueue, "Task queue number")
	runCmd.Flags().String("strategy", "stay", "What to do after an item: stay (keep the item window) or reopen")
	runCmd.Flags().Int("max-items", 0, "Stop after this many items (0 = no limit)")
	runCmd.Flags().StringP("output-dir", "o", "save", "Directory for activity spreadsheets and run logs")
	runCmd.Flags().String("db", "labelbot.sqlite", "SQLite run history (empty to disable)")
	runCmd.Flags().Bool("tui", false, "Show the interactive dashboard")
	runCmd.Flags().BoolP("verbose", "v", false, "Also write the run log to stderr (ignored with --tui)")

	viper.BindPFlag("labelcraft.username", runCmd.Flags().Lookup("username"))
	viper.BindPFlag("browser.headless", runCmd.Flags().Lookup("headless"))
	viper.BindPFlag("labelcraft.queue", runCmd.Flags().Lookup("queue"))
	viper.BindPFlag("loop.strategy", runCmd.Flags().Lookup("strategy"))
	viper.BindPFlag("loop.max_items", runCmd.Flags().Lookup("max-items"))
	viper.BindPFlag("output.dir", runCmd.Flags().Lookup("output-dir"))
	viper.BindPFlag("output.history_db", runCmd.Flags().Lookup("db"))
}

// promptCredentials asks for whatever is missing when stdin is a terminal.
func promptCredentials(auth *platforms.AuthConfig) error {
	fd := int(os.Stdin.Fd())
	interactive := term.IsTerminal(fd)

	if auth.Username == "" {
		if !interactive {
			return fmt.Errorf("no username: set labelcraft.username, LABELBOT_LABELCRAFT_USERNAME or --username")
		}
		fmt.Fprint(os.Stderr, "LabelCraft username: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("read username: %w", err)
		}
		auth.Username = strings.TrimSpace(line)
	}
	if auth.Password == "" {
		if !interactive {
			return fmt.Errorf("no password: set labelcraft.password or LABELBOT_LABELCRAFT_PASSWORD")
		}
		fmt.Fprint(os.Stderr, "LabelCraft password: ")
		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		auth.Password = string(pw)
	}
	if auth.Username == "" || auth.Password == "" {
		return fmt.Errorf("username and password are required")
	}
	return nil
}

type runOutcome struct {
	res worker.Result
	err error
}

func runAutomation(cfg config.Config, auth platforms.AuthConfig, useTUI, verbose bool) error {
	src, err := patterns.New(cfg.Patterns)
	if err != nil {
		return err
	}

	started := time.Now()
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	level, _ := utils.ParseLevel(levelString)
	var console io.Writer
	if verbose && !useTUI {
		console = os.Stderr
	}
	runLog, err := utils.NewRunLogger(cfg.Output.Dir, started, level, console)
	if err != nil {
		return err
	}
	defer runLog.Close()
	utils.Log.Debugf("Run log: %s", runLog.Path)

	notify := status.NewNotifier(256)
	site := labelcraft.New(cfg.LabelCraft.BaseURL, cfg.LabelCraft.Selectors)
	w := worker.New(worker.Config{
		Auth:      auth,
		Queue:     cfg.LabelCraft.Queue,
		Suffixes:  cfg.Classifier.Suffixes,
		Browser:   cfg.Browser,
		Processor: cfg.Processor,
		Loop:      cfg.LoopConfig(),
		OutputDir: cfg.Output.Dir,
		HistoryDB: cfg.Output.HistoryDB,
	}, site, src, runLog, notify)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		n := 0
		for {
			select {
			case <-sigs:
				n++
				if n == 1 {
					color.Yellow("Stopping after the current item. Press Ctrl+C again to abort.")
					w.Stop()
					continue
				}
				cancel()
			case <-ctx.Done():
				return
			}
		}
	}()

	done := make(chan runOutcome, 1)
	go func() {
		res, err := w.Run(ctx)
		notify.Close()
		done <- runOutcome{res, err}
	}()

	if useTUI {
		p := tea.NewProgram(tui.New(notify.Updates(), started, w.Stop, cancel), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			utils.Log.Warnf("Dashboard exited: %v", err)
			w.Stop()
		}
	} else {
		printUpdates(os.Stdout, notify.Updates())
	}

	out := <-done
	printSummary(os.Stdout, out.res, runLog.Path)
	if dropped := notify.Dropped(); dropped > 0 {
		utils.Log.Debugf("%d status updates were dropped", dropped)
	}
	return out.err
}
