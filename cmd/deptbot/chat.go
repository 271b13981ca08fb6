package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"github.com/xhad/deptbot/internal/models"
	"github.com/xhad/deptbot/pkg/llm"
	"github.com/xhad/deptbot/pkg/rag"
)

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Chat with the knowledge base in the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "profile",
				Usage: "Prompt profile (groq, local)",
			},
			&cli.BoolFlag{
				Name:  "stream",
				Usage: "Stream responses as they are generated",
				Value: true,
			},
			&cli.BoolFlag{
				Name:  "sources",
				Usage: "Print the retrieved context after each answer",
			},
		},
		Action: chatAction,
	}
}

func chatAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if p := c.String("profile"); p != "" {
		if p != "groq" && p != "local" {
			return fmt.Errorf("profile must be groq or local")
		}
		cfg.LLM.Profile = p
	}

	rt, err := newRuntime(c.Context, cfg, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	color.Cyan("\nChatbot Teknik Elektro UNRAM (type 'exit' to quit, 'reset' to clear history)")

	session := rag.NewSession()
	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(query) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "reset":
			session.Reset()
			color.Yellow("History cleared")
			continue
		}

		var docs []models.Document
		if c.Bool("stream") {
			docs, err = streamTurn(c, rt, session, query, assistantPrompt)
		} else {
			spinner := getSpinner(" Generating response...")
			var answer *models.Answer
			answer, err = rt.chain.Converse(c.Context, session, query)
			_ = spinner.Finish()
			if err == nil {
				assistantPrompt("\nAssistant: %s\n", answer.Answer)
				docs = answer.Context
			}
		}
		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}

		if c.Bool("sources") && len(docs) > 0 {
			color.HiBlack("\n%s", llm.FormatSources(docs))
		}
	}

	return scanner.Err()
}

func streamTurn(c *cli.Context, rt *runtime, session *rag.Session, query string, assistantPrompt func(string, ...interface{})) ([]models.Document, error) {
	spinner := getSpinner(" Searching documents...")
	stream, err := rt.chain.Stream(c.Context, query, session.History())
	_ = spinner.Finish()
	if err != nil {
		return nil, err
	}

	fmt.Print("\n")
	assistantPrompt("Assistant: ")

	var answer strings.Builder
	for chunk := range stream.Chunks {
		if chunk.Err != nil {
			fmt.Print("\n")
			return nil, chunk.Err
		}
		fmt.Print(chunk.Text)
		answer.WriteString(chunk.Text)
	}
	fmt.Print("\n")

	session.Append(models.RoleUser, stream.Input)
	session.Append(models.RoleAssistant, answer.String())
	return stream.Context, nil
}
