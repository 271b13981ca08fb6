// Package rag joins retrieval and generation into the chat and probe flows.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xhad/deptbot/internal/logger"
	"github.com/xhad/deptbot/internal/models"
	"github.com/xhad/deptbot/internal/types"
	"github.com/xhad/deptbot/pkg/llm"
)

// Chain answers a chat turn from retrieved originals and the history.
type Chain struct {
	retriever types.Retriever
	engine    *llm.ChatEngine
	logger    *slog.Logger
}

// Stream is a chat turn in progress. Context is known before the first
// chunk arrives.
type Stream struct {
	Input   string
	Context []models.Document
	Chunks  <-chan llm.Chunk
}

func NewChain(retriever types.Retriever, engine *llm.ChatEngine) (*Chain, error) {
	if retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if engine == nil {
		return nil, errors.New("chat engine is required")
	}
	return &Chain{
		retriever: retriever,
		engine:    engine,
		logger:    logger.Component("rag"),
	}, nil
}

// Invoke retrieves context for input and generates the full answer.
func (c *Chain) Invoke(ctx context.Context, input string, history []models.ChatMessage) (*models.Answer, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, errors.New("input is empty")
	}

	docs, err := c.retriever.Retrieve(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	answer, err := c.engine.Chat(ctx, input, history, docs)
	if err != nil {
		return nil, err
	}

	c.logger.Info("answered", "context", len(docs), "history", len(history))
	return &models.Answer{Input: input, Answer: answer, Context: docs}, nil
}

// Stream retrieves context and starts streaming the answer.
func (c *Chain) Stream(ctx context.Context, input string, history []models.ChatMessage) (*Stream, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, errors.New("input is empty")
	}

	docs, err := c.retriever.Retrieve(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	chunks, err := c.engine.ChatStream(ctx, input, history, docs)
	if err != nil {
		return nil, err
	}

	return &Stream{Input: input, Context: docs, Chunks: chunks}, nil
}

// Converse runs one turn against the session history and records both
// sides once the answer is complete.
func (c *Chain) Converse(ctx context.Context, session *Session, input string) (*models.Answer, error) {
	answer, err := c.Invoke(ctx, input, session.History())
	if err != nil {
		return nil, err
	}
	session.Append(models.RoleUser, answer.Input)
	session.Append(models.RoleAssistant, answer.Answer)
	return answer, nil
}
