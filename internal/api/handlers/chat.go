package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"triage/internal/api/middleware"
	"triage/internal/domain"
	"triage/internal/service"
)

type ChatHandler struct {
	svc    *service.SessionService
	logger *zap.Logger
}

func NewChatHandler(svc *service.SessionService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, logger: logger}
}

type turnRequest struct {
	Utterance string `json:"utterance"`
	SessionID string `json:"session_id,omitempty"`
	CallerID  string `json:"caller_id,omitempty"`
	Language  string `json:"language_preference,omitempty"`
}

// Turn streams the assistant reply as plain text, then the sentinel
// payloads documented on service.SentinelSessionID and
// service.SentinelSnapshot. Errors raised before the first byte map to
// JSON error responses; a failure mid-stream just ends the stream without
// the success sentinels.
func (h *ChatHandler) Turn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CallerID == "" {
		req.CallerID = middleware.CallerIDFromContext(r.Context())
	}

	sw := newStreamWriter(w)
	result, err := h.svc.Turn(r.Context(), service.TurnRequest{
		Utterance: req.Utterance,
		SessionID: req.SessionID,
		CallerID:  req.CallerID,
		Language:  req.Language,
	}, sw)
	if err != nil {
		if sw.wrote() {
			// Bytes already reached the caller and cannot be retracted;
			// the missing sentinels signal the failure.
			h.logger.Error("turn failed mid-stream",
				zap.String("session_id", req.SessionID),
				zap.Error(err))
			return
		}
		switch {
		case errors.Is(err, service.ErrEmptyUtterance):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrSessionEnded):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrBackend):
			writeError(w, http.StatusBadGateway, "completion backend failed")
		default:
			writeError(w, http.StatusInternalServerError, "turn failed")
		}
		return
	}

	h.logger.Debug("turn completed",
		zap.String("session_id", result.SessionID.String()),
		zap.Bool("created", result.Created),
		zap.Int("mentions", len(result.Mentions)),
		zap.Int("questions_left", result.Snapshot.QuestionsLeft))
}

type endRequest struct {
	SessionID string `json:"session_id"`
}

type endResponse struct {
	Message string                      `json:"message"`
	Session *domain.ConversationSession `json:"session"`
}

func (h *ChatHandler) End(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := uuid.Parse(req.SessionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session_id")
		return
	}

	sess, err := h.svc.End(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to end session")
		return
	}

	writeJSON(w, http.StatusOK, endResponse{
		Message: "session ended",
		Session: sess,
	})
}

// streamWriter adapts http.ResponseWriter for the relay: it flushes after
// every write and remembers whether anything was sent, which decides
// whether an error can still become a structured response.
type streamWriter struct {
	w http.ResponseWriter
	f http.Flusher
	n int64
}

func newStreamWriter(w http.ResponseWriter) *streamWriter {
	f, _ := w.(http.Flusher)
	return &streamWriter{w: w, f: f}
}

func (sw *streamWriter) Write(p []byte) (int, error) {
	if sw.n == 0 {
		sw.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	n, err := sw.w.Write(p)
	sw.n += int64(n)
	return n, err
}

func (sw *streamWriter) Flush() {
	if sw.f != nil {
		sw.f.Flush()
	}
}

func (sw *streamWriter) wrote() bool {
	return sw.n > 0
}
