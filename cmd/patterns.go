package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/labelbot/labelbot/pkg/patterns"
	"github.com/spf13/cobra"
)

// patternsCmd represents the patterns command
var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Download and print the pattern list",
	Long:  "Loads the pattern list from the configured source (Google Sheet, xlsx or csv) and prints one pattern per line.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if path, _ := cmd.Flags().GetString("file"); path != "" {
			cfg.Patterns.Path = path
			cfg.Patterns.Kind = "xlsx"
			if strings.HasSuffix(strings.ToLower(path), ".csv") {
				cfg.Patterns.Kind = "csv"
			}
		}
		src, err := patterns.New(cfg.Patterns)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		pats, err := patterns.Load(ctx, src)
		if err != nil {
			return err
		}

		if countOnly, _ := cmd.Flags().GetBool("count"); !countOnly {
			for _, p := range pats {
				fmt.Println(p)
			}
		}
		fmt.Fprintln(os.Stderr, color.GreenString("[+] %d patterns from %s", len(pats), src.Name()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(patternsCmd)
	patternsCmd.Flags().StringP("file", "f", "", "Read patterns from a local .xlsx or .csv file instead")
	patternsCmd.Flags().BoolP("count", "c", false, "Only print the number of patterns")
}
