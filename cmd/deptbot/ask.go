package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"github.com/xhad/deptbot/pkg/rag"
)

func askCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer probe questions from retrieved context only",
		ArgsUsage: "[question]",
		Description: "Without a question the default probe set is run: " +
			strings.Join(rag.DefaultProbeQuestions, ", "),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "show-context",
				Usage: "Print the retrieved originals",
			},
		},
		Action: askAction,
	}
}

func askAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	rt, err := newRuntime(c.Context, cfg, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	var questions []string
	if q := strings.TrimSpace(strings.Join(c.Args().Slice(), " ")); q != "" {
		questions = []string{q}
	}

	spinner := getSpinner(" Probing knowledge base...")
	results, err := rt.prober.ProbeAll(c.Context, questions)
	_ = spinner.Finish()
	fmt.Println()

	for _, res := range results {
		printProbe(res, c.Bool("show-context"))
	}
	return err
}

func printProbe(res rag.ProbeResult, showContext bool) {
	color.Green("Q: %s", res.Question)
	if len(res.Context) == 0 {
		color.Yellow("   no context found")
		return
	}
	if showContext {
		for i, doc := range res.Context {
			color.HiBlack("   [%d] %s", i+1, truncate(doc.Content, 160))
		}
	}
	color.Cyan("A: %s\n", res.Answer)
}
