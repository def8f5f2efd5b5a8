package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"quizthread/internal/middleware"
	"quizthread/internal/models"
	"quizthread/internal/observability"
	"quizthread/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// LiveMessage is sent on the live thread socket for every published view.
type LiveMessage struct {
	Type      string                `json:"type"`
	ThreadKey string                `json:"threadKey"`
	Source    service.ViewSource    `json:"source"`
	Comments  []*models.CommentNode `json:"comments"`
	Count     int                   `json:"count"`
	Error     string                `json:"error,omitempty"`
}

// ClientMessage is what a live thread client may send.
type ClientMessage struct {
	Type string `json:"type"`
}

const (
	messageThread  = "thread"
	messageRefresh = "refresh"
)

// UpgradeRequired rejects plain HTTP requests to WebSocket routes.
func (s *Server) UpgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// liveWriter serializes writes to a socket and drops them once the handler
// has returned.
type liveWriter struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (w *liveWriter) send(msg LiveMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.conn.WriteMessage(websocket.TextMessage, payload)
}

func (w *liveWriter) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// LiveThreadHandler streams a thread over a WebSocket. Each connection owns
// one ThreadSync; a {"type":"refresh"} message triggers a one-shot re-read.
func (s *Server) LiveThreadHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		middleware.ActiveWebSockets.Inc()
		defer middleware.ActiveWebSockets.Dec()

		threadKey := conn.Params("threadKey")
		ctx, cancel := context.WithCancel(observability.EnsureCorrelationID(context.Background()))
		defer cancel()

		out := &liveWriter{conn: conn}
		ts := service.NewThreadSync(s.comments, threadKey, func(v service.View) {
			msg := LiveMessage{
				Type:      messageThread,
				ThreadKey: threadKey,
				Source:    v.Source,
				Comments:  v.Tree,
				Count:     service.CountNodes(v.Tree),
			}
			if v.Err != nil {
				msg.Error = v.Err.Error()
			}
			if err := out.send(msg); err != nil {
				middleware.Logger.WarnContext(ctx, "live thread write failed",
					slog.String("thread_key", threadKey), slog.String("error", err.Error()))
			}
		}, s.syncOptions()...)
		defer func() {
			ts.Stop()
			out.close()
		}()

		// A failed subscribe has already been reported to the client; the
		// fallback fetch and refresh still work.
		if err := ts.Start(ctx); err != nil {
			middleware.Logger.WarnContext(ctx, "live thread subscribe failed",
				slog.String("thread_key", threadKey), slog.String("error", err.Error()))
		}

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg ClientMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				continue
			}
			if msg.Type == messageRefresh {
				_ = ts.Refresh(ctx)
			}
		}
	})
}

func (s *Server) syncOptions() []service.SyncOption {
	return []service.SyncOption{
		service.WithFallbackTimeout(s.config.FallbackTimeout),
		service.WithFetchTimeout(s.config.FetchTimeout),
	}
}
