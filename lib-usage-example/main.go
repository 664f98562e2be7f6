package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/labelbot/labelbot/pkg/classifier"
	"github.com/labelbot/labelbot/pkg/patterns"
)

func main() {
	// Usage: go run *.go -patterns patterns.csv https://write88721.tistory.com/ ...
	// Without -patterns the public default sheet is downloaded.

	fileFlag := flag.String("patterns", "", "Local .csv or .xlsx pattern file (column C, header row skipped)")
	sheetFlag := flag.String("sheet-id", "1FrJNlluakEjYkoqpvaftM056YLbR1gw9u3XvtRlSLXY", "Google Sheet ID")

	// Parse the command-line flags
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Println("At least one link is required.")
		return
	}

	cfg := patterns.Config{SheetID: *sheetFlag, Column: patterns.DefaultColumn, SkipHeader: true}
	if *fileFlag != "" {
		cfg.Path = *fileFlag
		cfg.Kind = "xlsx"
		if strings.HasSuffix(*fileFlag, ".csv") {
			cfg.Kind = "csv"
		}
	}
	src, err := patterns.New(cfg)
	if err != nil {
		fmt.Println(err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pats, err := patterns.Load(ctx, src)
	if err != nil {
		fmt.Println(err)
		return
	}

	c := classifier.New(pats, classifier.DefaultSuffixes)
	for _, link := range flag.Args() {
		res, err := c.Classify(link)
		if err != nil {
			fmt.Println(link, "error:", err)
			continue
		}
		fmt.Println(link, res.Token, res.Description())
	}
}
