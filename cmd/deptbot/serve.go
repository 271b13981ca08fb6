package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"github.com/xhad/deptbot/pkg/rag"
	"github.com/xhad/deptbot/server"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the chat UI, websocket chat and document API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Listen port (overrides server.port)",
			},
			&cli.BoolFlag{
				Name:  "release",
				Usage: "Run gin in release mode",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if port := c.String("port"); port != "" {
		cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	typing, err := rag.NewTypewriter(cfg.Server.TypingMode, cfg.Server.TypingDelay)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		Typing:      typing,
		ReleaseMode: c.Bool("release"),
	}, server.Dependencies{
		Chain:    rt.chain,
		Prober:   rt.prober,
		Pipeline: rt.pipeline,
		Vectors:  rt.vectors,
	})
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
