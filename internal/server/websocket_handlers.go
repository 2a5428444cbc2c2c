package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/trustroute/internal/decision"
	"github.com/MeKo-Tech/trustroute/internal/pipeline"
	"github.com/MeKo-Tech/trustroute/internal/utils"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketScoreRequest is one message from a streaming client. Type
// "score" routes Input; type "region" runs OCR on Image.
type WebSocketScoreRequest struct {
	Type      string          `json:"type"`
	Input     *decision.Input `json:"input,omitempty"`
	Image     []byte          `json:"image,omitempty"`
	FieldType string          `json:"field_type,omitempty"`
	Domain    string          `json:"domain,omitempty"`
	RegionID  string          `json:"region_id,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketScoreResponse answers one request.
type WebSocketScoreResponse struct {
	Type      string `json:"type"`
	Status    string `json:"status"` // "completed", "error"
	RequestID string `json:"request_id,omitempty"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}

// scoreWebSocketHandler streams routing decisions over one connection.
func (s *Server) scoreWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection to websocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	s.logger.Info("websocket connection established", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(r.Context(), conn)
}

func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(ctx, conn, data)
		}
	}
}

func (s *Server) handleWebSocketMessage(ctx context.Context, conn WebSocketConnWriter, data []byte) {
	var req WebSocketScoreRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, "", "invalid_request", fmt.Sprintf("failed to parse request: %v", err))
		return
	}
	requestID := uuid.NewString()

	switch req.Type {
	case "score", "":
		s.scoreWebSocketRequest(conn, req, requestID)
	case "region":
		s.processWebSocketRegion(ctx, conn, req, requestID)
	default:
		s.sendWebSocketError(conn, requestID, "invalid_request", "unsupported request type: "+req.Type)
	}
}

func (s *Server) scoreWebSocketRequest(conn WebSocketConnWriter, req WebSocketScoreRequest, requestID string) {
	if req.Input == nil {
		s.sendWebSocketError(conn, requestID, "invalid_request", "no input provided")
		return
	}
	d, err := s.decisions.ScoreAndRoute(*req.Input)
	if err != nil {
		s.sendWebSocketError(conn, requestID, "validation_error", err.Error())
		return
	}
	recordDecision(d)
	s.sendWebSocketResponse(conn, WebSocketScoreResponse{
		Type:      "score_response",
		Status:    "completed",
		RequestID: requestID,
		Result:    d,
	})
}

func (s *Server) processWebSocketRegion(ctx context.Context, conn WebSocketConnWriter, req WebSocketScoreRequest, requestID string) {
	if s.pipeline == nil {
		s.sendWebSocketError(conn, requestID, "unavailable", "region pipeline not initialized")
		return
	}
	if len(req.Image) == 0 {
		s.sendWebSocketError(conn, requestID, "invalid_request", "no image data provided")
		return
	}
	img, _, err := utils.DecodeImage(bytes.NewReader(req.Image))
	if err != nil {
		s.sendWebSocketError(conn, requestID, "invalid_request", fmt.Sprintf("failed to decode image: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeoutSec)*time.Second)
	defer cancel()

	start := time.Now()
	res, err := s.pipeline.ProcessRegion(ctx, pipeline.RegionInput{
		ID:        req.RegionID,
		Image:     img,
		FieldType: req.FieldType,
		Domain:    req.Domain,
	})
	if err != nil {
		s.sendWebSocketError(conn, requestID, "processing_error", err.Error())
		return
	}
	regionProcessingDuration.Observe(time.Since(start).Seconds())
	regionsProcessed.WithLabelValues(string(res.ReviewAction), string(res.ModelUsed)).Inc()

	s.sendWebSocketResponse(conn, WebSocketScoreResponse{
		Type:      "region_response",
		Status:    "completed",
		RequestID: requestID,
		Result:    res,
	})
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketScoreResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("failed to marshal websocket response", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Error("failed to send websocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketScoreResponse{
		Type:      "error",
		Status:    "error",
		RequestID: requestID,
		Error:     message,
		ErrorType: errorType,
	})
}
