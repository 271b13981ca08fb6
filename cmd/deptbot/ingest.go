package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"github.com/xhad/deptbot/pkg/ingest"
)

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Partition, summarize and index PDF files or crawled web pages",
		ArgsUsage: "<file.pdf|url> [...]",
		Action:    ingestAction,
	}
}

func isURL(target string) bool {
	return strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://")
}

func ingestAction(c *cli.Context) error {
	targets := c.Args().Slice()
	if len(targets) == 0 {
		return fmt.Errorf("at least one PDF file or URL is required")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	bar := getProgressBar(len(targets), " Ingesting")
	onProgress := func(p ingest.Progress) {
		bar.Describe(color.BlueString(" %s: %s (%d)", truncate(p.Source, 30), p.Stage, p.Count))
	}

	rt, err := newRuntime(c.Context, cfg, onProgress)
	if err != nil {
		return err
	}
	defer rt.Close()

	var reports []*ingest.Report
	var failed int
	for _, target := range targets {
		report, err := ingestTarget(c, rt, target)
		_ = bar.Add(1)
		switch {
		case errors.Is(err, ingest.ErrAlreadyIngested):
			color.Yellow("\n%s already ingested, skipping", target)
		case err != nil:
			failed++
			color.Red("\nFailed to ingest %s: %v", target, err)
		default:
			reports = append(reports, report)
		}
	}
	_ = bar.Finish()
	fmt.Println()

	for _, r := range reports {
		color.Green("✓ %s: %d tables, %d texts", r.Source, r.Tables, r.Texts)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d targets failed", failed, len(targets))
	}
	return nil
}

func ingestTarget(c *cli.Context, rt *runtime, target string) (*ingest.Report, error) {
	if isURL(target) {
		return rt.pipeline.IngestURL(c.Context, target)
	}

	if rt.pipeline.Exists(target) {
		return nil, ingest.ErrAlreadyIngested
	}
	f, err := os.Open(target)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return rt.pipeline.IngestFile(c.Context, filepath.Base(target), f)
}
