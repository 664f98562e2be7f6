package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/labelbot/labelbot/pkg/classifier"
	"github.com/labelbot/labelbot/pkg/patterns"
	"github.com/spf13/cobra"
)

// classifyCmd represents the classify command
var classifyCmd = &cobra.Command{
	Use:   "classify <link>...",
	Short: "Classify links offline",
	Long: `Prints the domain token and match result for each link, using the same rules as the queue run.
Patterns come from --pattern when given, otherwise from the configured source.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		pats, _ := cmd.Flags().GetStringSlice("pattern")
		if len(pats) == 0 {
			src, err := patterns.New(cfg.Patterns)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if pats, err = patterns.Load(ctx, src); err != nil {
				return err
			}
		}
		c := classifier.New(pats, cfg.Classifier.Suffixes)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "LINK\tTOKEN\tPLATFORM\tMATCH\tACTION")
		for _, link := range args {
			res, err := c.Classify(link)
			if err != nil {
				fmt.Fprintf(w, "%s\t-\t-\t%s\t%s\n", link, color.RedString("error: %v", err), color.YellowString("defer"))
				continue
			}
			action := color.YellowString("defer")
			if res.Matched {
				action = color.GreenString("approve")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", link, res.Token, res.Platform, res.Description(), action)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
	classifyCmd.Flags().StringSliceP("pattern", "p", nil, "Pattern to match (repeatable); skips loading the configured source")
}
