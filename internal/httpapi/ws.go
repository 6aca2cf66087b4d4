package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/storai/internal/chat"
	"github.com/antoniostano/storai/internal/logging"
	"github.com/antoniostano/storai/internal/protocol"
)

// handleChatWS serves the chat protocol for one user. Requests on a
// connection are handled in arrival order, one full reply each.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "query parameter user_id is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ctx = logging.With(ctx, logging.From(ctx).With("user_id", userID, "transport", "ws"))

	inbound := make(chan any, 16)
	outbound := make(chan any, 16)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		defer close(outbound)
		s.runConnection(ctx, userID, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()

		broken := false
		for {
			select {
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				if broken {
					// keep draining so runConnection never blocks
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					logging.From(ctx).Warn("websocket write failed", "error", err)
					broken = true
					cancel()
					continue
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.ObserveWSMessage("outbound", string(t))
				}
			case <-ticker.C:
				if broken {
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					logging.From(ctx).Warn("websocket ping failed", "error", err)
					broken = true
					cancel()
				}
			}
		}
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			parsed = protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			}
		} else if t, ok := messageTypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}

		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
}

// runConnection executes inbound requests sequentially and queues replies.
func (s *Server) runConnection(ctx context.Context, userID string, inbound <-chan any, outbound chan<- any) {
	for msg := range inbound {
		out := s.dispatchWS(ctx, userID, msg)
		if out == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case outbound <- out:
		}
	}
}

func (s *Server) dispatchWS(ctx context.Context, userID string, msg any) any {
	switch m := msg.(type) {
	case protocol.ErrorEvent:
		// parse failures are echoed back as-is
		return m
	case protocol.Introduce:
		reply, err := s.chat.Introduce(ctx, userID, m.Persona)
		if err != nil {
			return s.errorEvent(ctx, m.RequestID, err)
		}
		return protocol.AssistantReply{
			Type:      protocol.TypeAssistantReply,
			RequestID: m.RequestID,
			Persona:   m.Persona,
			Text:      reply,
		}
	case protocol.Converse:
		reply, err := s.chat.Converse(ctx, userID, m.Persona, m.Message)
		if err != nil {
			return s.errorEvent(ctx, m.RequestID, err)
		}
		return protocol.AssistantReply{
			Type:      protocol.TypeAssistantReply,
			RequestID: m.RequestID,
			Persona:   m.Persona,
			TurnID:    reply.TurnID,
			Text:      reply.Text,
		}
	case protocol.Purge:
		if err := s.chat.Purge(ctx, userID); err != nil {
			return s.errorEvent(ctx, m.RequestID, err)
		}
		return protocol.Purged{Type: protocol.TypePurged, RequestID: m.RequestID}
	default:
		return nil
	}
}

func (s *Server) errorEvent(ctx context.Context, requestID string, err error) protocol.ErrorEvent {
	status, code := classify(err)
	detail := err.Error()
	if status >= http.StatusInternalServerError {
		logging.From(ctx).Error("websocket request failed", "code", code, "error", err)
		detail = http.StatusText(status)
	}
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		RequestID: requestID,
		Code:      code,
		Retryable: errors.Is(err, chat.ErrGeneration),
		Detail:    detail,
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.Introduce:
		return m.Type, true
	case protocol.Converse:
		return m.Type, true
	case protocol.Purge:
		return m.Type, true
	case protocol.AssistantReply:
		return m.Type, true
	case protocol.Purged:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
