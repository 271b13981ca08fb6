package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"github.com/xhad/deptbot/internal/models"
	"github.com/xhad/deptbot/pkg/store"
)

func docsCommand() *cli.Command {
	return &cli.Command{
		Name:  "docs",
		Usage: "Inspect and edit indexed summaries",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List indexed summaries",
				Action: docsListAction,
			},
			{
				Name:      "update",
				Usage:     "Replace the content of a summary",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "content",
						Usage:    "New summary text",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "doc-id",
						Usage: "Original document the summary points to",
					},
				},
				Action: docsUpdateAction,
			},
			{
				Name:      "delete",
				Usage:     "Delete summaries by id",
				ArgsUsage: "<id> [...]",
				Action:    docsDeleteAction,
			},
		},
	}
}

func withRuntime(c *cli.Context, fn func(rt *runtime) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	rt, err := newRuntime(c.Context, cfg, nil)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func docsListAction(c *cli.Context) error {
	return withRuntime(c, func(rt *runtime) error {
		rows, err := rt.vectors.List(c.Context)
		if err != nil {
			return err
		}
		keys, err := rt.docstore.YieldKeys(c.Context, "")
		if err != nil {
			return err
		}

		for _, row := range rows {
			docID, _ := row.Metadata[models.IDKey].(string)
			fmt.Printf("%s  %s  %s\n", color.CyanString(row.ID), color.HiBlackString(docID), truncate(row.Content, 80))
		}
		color.Green("%d summaries, %d originals", len(rows), len(keys))
		return nil
	})
}

func docsUpdateAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one id is required")
	}
	id := c.Args().First()

	return withRuntime(c, func(rt *runtime) error {
		doc := models.Document{Content: c.String("content")}
		if docID := c.String("doc-id"); docID != "" {
			doc.Metadata = map[string]interface{}{models.IDKey: docID}
		}
		err := rt.vectors.UpdateDocument(c.Context, id, doc)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("summary %s not found", id)
		}
		if err != nil {
			return err
		}
		color.Green("✓ Updated %s", id)
		return nil
	})
}

func docsDeleteAction(c *cli.Context) error {
	ids := c.Args().Slice()
	if len(ids) == 0 {
		return fmt.Errorf("at least one id is required")
	}

	return withRuntime(c, func(rt *runtime) error {
		if err := rt.vectors.Delete(c.Context, ids); err != nil {
			return err
		}
		color.Green("✓ Deleted %d summaries", len(ids))
		return nil
	})
}
