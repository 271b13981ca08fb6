package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/xhad/deptbot/internal/models"
	"github.com/xhad/deptbot/pkg/llm"
	"github.com/xhad/deptbot/pkg/rag"
)

// Message types on the chat socket.
const (
	MsgChat    = "chat"
	MsgReset   = "reset"
	MsgStatus  = "status"
	MsgContext = "context"
	MsgStream  = "stream"
	MsgDone    = "done"
	MsgError   = "error"
)

type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) send(msgType, content string, data interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(Message{Type: msgType, Content: content, Data: data})
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.CORSOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	// Same-origin page.
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ws := &wsConn{conn: conn}
	session := rag.NewSession()
	ctx := c.Request.Context()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			_ = ws.send(MsgError, "invalid message", nil)
			continue
		}

		switch msg.Type {
		case MsgChat:
			if err := s.chatTurn(ctx, ws, session, msg.Content); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		case MsgReset:
			session.Reset()
			_ = ws.send(MsgStatus, "Percakapan direset", nil)
		default:
			_ = ws.send(MsgError, "unknown message type: "+msg.Type, nil)
		}
	}
}

// chatTurn streams one answer. The returned error is a failed socket write;
// chain failures are reported to the client.
func (s *Server) chatTurn(parent context.Context, ws *wsConn, session *rag.Session, input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return ws.send(MsgError, "pesan kosong", nil)
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if err := ws.send(MsgStatus, "Mencari informasi...", nil); err != nil {
		return err
	}

	stream, err := s.chain.Stream(ctx, input, session.History())
	if err != nil {
		s.logger.Error("chat failed", "error", err)
		return ws.send(MsgError, userMessage(err), nil)
	}

	docs := stream.Context
	if docs == nil {
		docs = []models.Document{}
	}
	if err := ws.send(MsgContext, "", docs); err != nil {
		return err
	}

	// Model chunks split words and runes anywhere; the streamer re-cuts them.
	typing := s.config.Typing.NewStreamer(func(piece, _ string) error {
		return ws.send(MsgStream, piece, nil)
	})
	var answer strings.Builder
	for chunk := range stream.Chunks {
		if chunk.Err != nil {
			s.logger.Error("chat stream failed", "error", chunk.Err)
			return ws.send(MsgError, userMessage(chunk.Err), nil)
		}
		if err := typing.Write(ctx, chunk.Text); err != nil {
			return err
		}
		answer.WriteString(chunk.Text)
	}
	if err := typing.Flush(ctx); err != nil {
		return err
	}

	full := answer.String()
	session.Append(models.RoleUser, input)
	session.Append(models.RoleAssistant, full)
	return ws.send(MsgDone, full, nil)
}

func userMessage(err error) string {
	if errors.Is(err, llm.ErrUnavailable) {
		return "Layanan LLM sedang tidak tersedia, coba lagi nanti."
	}
	return "Terjadi kesalahan: " + err.Error()
}
