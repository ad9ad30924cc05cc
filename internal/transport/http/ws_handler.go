package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"trivia-arena-engine/internal/app"
	"trivia-arena-engine/internal/domain"
)

// WSHandler exposes the engine operations over a websocket, one message type
// per operation. It carries no auth; identities arrive as query parameters.
type WSHandler struct {
	manager  *app.SessionManager
	upgrader websocket.Upgrader
}

func NewWSHandler(manager *app.SessionManager) *WSHandler {
	return &WSHandler{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	PeriodID   string `json:"periodId"`
	DeviceID   string `json:"deviceId"`
	Platform   string `json:"platform"`
	AppVersion string `json:"appVersion"`
}

type batchPayload struct {
	SessionID string `json:"sessionId"`
	Size      int    `json:"size"`
}

type answerPayload struct {
	SessionID      string `json:"sessionId"`
	QuestionID     string `json:"questionId"`
	SelectedAnswer string `json:"selectedAnswer"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
	IsSkipped      bool   `json:"isSkipped"`
}

type sessionPayload struct {
	SessionID string `json:"sessionId"`
}

type joinedPayload struct {
	SessionID string `json:"sessionId"`
}

type resumedPayload struct {
	NextQuestionIndex int `json:"nextQuestionIndex"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Amount  int64  `json:"amount,omitempty"`
}

// ServeWS upgrades the request and serves engine operations until the client
// disconnects. On disconnect the last joined session is paused so it can be
// resumed later.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	clientIP := r.RemoteAddr
	var activeSessionID string

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "join":
			var payload joinPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				h.writeError(conn, errors.New("invalid join payload"))
				continue
			}
			device := domain.DeviceInfo{
				DeviceID:   payload.DeviceID,
				Platform:   payload.Platform,
				AppVersion: payload.AppVersion,
				IPAddress:  clientIP,
			}
			sessionID, err := h.manager.Join(r.Context(), userID, payload.PeriodID, device)
			if err != nil {
				h.writeError(conn, err)
				continue
			}
			activeSessionID = sessionID
			h.write(conn, "joined", joinedPayload{SessionID: sessionID})
		case "batch":
			var payload batchPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				h.writeError(conn, errors.New("invalid batch payload"))
				continue
			}
			questions, err := h.manager.GetQuestionBatch(r.Context(), payload.SessionID, payload.Size)
			if err != nil {
				h.writeError(conn, err)
				continue
			}
			h.write(conn, "questions", questions)
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				h.writeError(conn, errors.New("invalid answer payload"))
				continue
			}
			result, err := h.manager.SubmitAnswer(r.Context(), payload.SessionID, payload.QuestionID,
				payload.SelectedAnswer, payload.ResponseTimeMs, payload.IsSkipped)
			if err != nil {
				h.writeError(conn, err)
				continue
			}
			h.write(conn, "answerResult", result)
		case "resume":
			var payload sessionPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				h.writeError(conn, errors.New("invalid resume payload"))
				continue
			}
			next, err := h.manager.Resume(r.Context(), payload.SessionID)
			if err != nil {
				h.writeError(conn, err)
				continue
			}
			activeSessionID = payload.SessionID
			h.write(conn, "resumed", resumedPayload{NextQuestionIndex: next})
		default:
			h.writeError(conn, errors.New("unsupported message type"))
		}
	}

	if activeSessionID != "" {
		if err := h.manager.Pause(r.Context(), activeSessionID); err != nil &&
			!errors.Is(err, domain.ErrSessionNotActive) && !errors.Is(err, domain.ErrSessionNotFound) {
			log.Printf("pause on disconnect for session %s failed: %v", activeSessionID, err)
		}
	}
}

func (h *WSHandler) write(conn *websocket.Conn, msgType string, payload any) {
	if err := conn.WriteJSON(outboundMessage[any]{Type: msgType, Payload: payload}); err != nil {
		log.Printf("ws write error: %v", err)
	}
}

func (h *WSHandler) writeError(conn *websocket.Conn, err error) {
	payload := errorPayload{Code: errorCode(err), Message: err.Error()}
	var paymentErr *domain.PaymentRequiredError
	if errors.As(err, &paymentErr) {
		payload.Amount = paymentErr.Amount
	}
	if werr := conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: payload}); werr != nil {
		log.Printf("ws write error: %v", werr)
	}
}

func errorCode(err error) string {
	var paymentErr *domain.PaymentRequiredError
	switch {
	case errors.Is(err, domain.ErrPeriodNotFound):
		return "PERIOD_NOT_FOUND"
	case errors.Is(err, domain.ErrPeriodInactive):
		return "PERIOD_INACTIVE"
	case errors.Is(err, domain.ErrAlreadyCompleted):
		return "ALREADY_COMPLETED"
	case errors.As(err, &paymentErr):
		return "PAYMENT_REQUIRED"
	case errors.Is(err, domain.ErrSessionNotFound):
		return "SESSION_NOT_FOUND"
	case errors.Is(err, domain.ErrSessionNotActive):
		return "SESSION_NOT_ACTIVE"
	case errors.Is(err, domain.ErrQuestionNotFound):
		return "QUESTION_NOT_FOUND"
	case errors.Is(err, domain.ErrRateLimitExceeded):
		return "RATE_LIMIT_EXCEEDED"
	case errors.Is(err, domain.ErrGenerationFailure):
		return "GENERATION_FAILURE"
	case errors.Is(err, domain.ErrCannotResume):
		return "CANNOT_RESUME"
	default:
		return "INTERNAL"
	}
}
