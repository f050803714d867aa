package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/michaelbrown/runbox/internal/runner"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsIncoming is a message from the client.
type wsIncoming struct {
	Type      string  `json:"type"`
	Code      *string `json:"code"`
	SessionID string  `json:"session_id,omitempty"`
}

// wsResult reports a finished execution.
type wsResult struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Output    string `json:"output"`
	Errors    string `json:"errors"`
}

// wsError reports a request that did not run.
type wsError struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	// Cancelled on disconnect or server shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	ac := s.conns.Add(func() {
		cancel()
		conn.Close()
	})
	defer s.conns.Remove(ac)

	for {
		var msg wsIncoming
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || ctx.Err() != nil {
				return
			}
			s.logger.Debug("websocket read ended", slog.String("conn_id", ac.ID), slog.Any("error", err))
			return
		}

		if msg.Type != "execute" || msg.Code == nil {
			s.wsWriteJSON(conn, wsError{Type: "error", Content: "invalid message"})
			continue
		}

		s.processWebSocketMessage(ctx, conn, msg)
	}
}

func (s *Server) processWebSocketMessage(ctx context.Context, conn *websocket.Conn, msg wsIncoming) {
	res, err := s.runner.Execute(ctx, runner.Request{Code: *msg.Code, SessionID: msg.SessionID})
	if err != nil {
		content := "Execution failed: " + err.Error()
		if _, detail, ok := executeErrorStatus(err, msg.SessionID); ok {
			content = detail
		}
		s.wsWriteJSON(conn, wsError{Type: "error", Content: content})
		return
	}

	status := "success"
	if res.Failed() {
		status = "error"
	}
	s.wsWriteJSON(conn, wsResult{
		Type:      "result",
		SessionID: res.SessionID,
		Status:    status,
		Output:    res.Stdout,
		Errors:    res.Stderr,
	})
}

func (s *Server) wsWriteJSON(conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("websocket marshal error", slog.Any("error", err))
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("websocket write error", slog.Any("error", err))
	}
}
