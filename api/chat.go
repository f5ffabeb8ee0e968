package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dmaulana/folio/internal/chat"
	"github.com/dmaulana/folio/internal/session"
)

// ChatHandler handles chat-related HTTP endpoints.
//
// Endpoints:
//   - GET    /api/chat         - Session history (JSON)
//   - POST   /api/chat         - Chat with streamed plain-text fragments
//   - POST   /api/chat/sync    - Chat with a single JSON response
//   - POST   /api/chat/stream  - Chat over SSE (chunk/done/error events)
//   - DELETE /api/chat         - Clear session history
//
// The plain-text POST endpoint is what the site's chat widget consumes:
// fragments are written to the body as they arrive, so the UI can render the
// answer progressively with nothing more than a streaming fetch.
type ChatHandler struct {
	svc    *chat.Service
	logger *slog.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(svc *chat.Service, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/chat", h.handleHistory)
	mux.HandleFunc("POST /api/chat", h.handleChat)
	mux.HandleFunc("POST /api/chat/sync", h.handleChatSync)
	mux.HandleFunc("POST /api/chat/stream", h.handleChatStream)
	mux.HandleFunc("DELETE /api/chat", h.handleClear)
}

// ChatRequest is the request body for the chat endpoints.
type ChatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// ChatResponse is the response body for the synchronous chat endpoint.
type ChatResponse struct {
	Response string `json:"response"`
}

// HistoryResponse is the response body for the history endpoint.
type HistoryResponse struct {
	SessionID string         `json:"sessionId"`
	Turns     []session.Turn `json:"turns"`
}

// ClearRequest is the request body for the clear endpoint.
type ClearRequest struct {
	SessionID string `json:"sessionId"`
}

// ClearResponse acknowledges a cleared session.
type ClearResponse struct {
	SessionID string `json:"sessionId"`
}

// handleHistory returns the replayable turns of a session.
// An unknown or expired session yields an empty turn list, not an error.
func (h *ChatHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")

	turns, err := h.svc.History(r.Context(), sessionID)
	if err != nil {
		h.writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{SessionID: sessionID, Turns: turns})
}

// handleChat streams the response as plain-text fragments.
//
// The status code is committed when the first fragment is written. Failures
// after that point abort the connection (http.ErrAbortHandler) so the
// client's read fails instead of seeing a truncated body that ends like a
// complete answer.
func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	wrote := false
	_, err := h.svc.HandleMessage(r.Context(), req.SessionID, req.Message,
		func(ctx context.Context, fragment string) error {
			if _, werr := fmt.Fprint(w, fragment); werr != nil {
				return werr
			}
			wrote = true
			flusher.Flush()
			return nil
		})

	switch {
	case err == nil:
	case errors.Is(err, chat.ErrPersist):
		// Fragments already reached the client and stay delivered; the
		// abort is the only terminal error signal plain text has left.
		h.logger.Warn("response delivered but not saved", "session_id", req.SessionID)
		panic(http.ErrAbortHandler)
	case wrote:
		// Headers are committed, so a clean close would look like a
		// complete answer. Abort the connection instead.
		h.logger.Error("stream failed mid-response", "session_id", req.SessionID, "error", err)
		panic(http.ErrAbortHandler)
	default:
		h.writeChatError(w, err)
	}
}

// handleChatSync returns the complete response as JSON.
func (h *ChatHandler) handleChatSync(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	text, err := h.svc.HandleMessage(r.Context(), req.SessionID, req.Message, nil)
	if err != nil && !errors.Is(err, chat.ErrPersist) {
		h.writeChatError(w, err)
		return
	}
	if errors.Is(err, chat.ErrPersist) {
		h.logger.Warn("response delivered but not saved", "session_id", req.SessionID)
	}
	writeJSON(w, http.StatusOK, ChatResponse{Response: text})
}

// SSEEvent names used by the streaming endpoint: "chunk" for partial text,
// "done" for the final output, "error" for failures.

// SSEChunkData is the data for "chunk" events.
type SSEChunkData struct {
	Text string `json:"text"`
}

// SSEDoneData is the data for "done" events.
type SSEDoneData struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

// SSEErrorData is the data for "error" events.
type SSEErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleChatStream handles the SSE streaming endpoint.
//
// Request body: {"sessionId": "...", "message": "..."}
// Response: Server-Sent Events stream.
//
// Event types:
//   - chunk: partial text {"text": "..."}
//   - done:  final response {"response": "...", "sessionId": "..."}
//   - error: failure {"code": "...", "message": "..."}
func (h *ChatHandler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeSSEError(w, flusher, "INVALID_REQUEST", fmt.Sprintf("invalid request body: %v", err))
		return
	}

	ctx := r.Context()
	h.logger.Info("SSE stream started", "session_id", req.SessionID)

	text, err := h.svc.HandleMessage(ctx, req.SessionID, req.Message,
		func(ctx context.Context, fragment string) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			h.writeSSEChunk(w, flusher, fragment)
			return nil
		})

	switch {
	case err == nil:
	case errors.Is(err, chat.ErrEmptySessionID):
		h.writeSSEError(w, flusher, "MISSING_SESSION_ID", "sessionId is required")
		return
	case errors.Is(err, chat.ErrEmptyMessage):
		h.writeSSEError(w, flusher, "MISSING_MESSAGE", "message is required")
		return
	case errors.Is(err, chat.ErrPersist):
		// The response was fully streamed; report the save failure after it.
		h.logger.Warn("response delivered but not saved", "session_id", req.SessionID)
		h.writeSSEError(w, flusher, "PERSIST_ERROR", "response could not be saved to history")
		return
	default:
		h.logger.Error("stream failed", "error", err, "session_id", req.SessionID)
		h.writeSSEError(w, flusher, "STREAM_ERROR", "generating response failed")
		return
	}

	h.writeSSEDone(w, flusher, text, req.SessionID)
	h.logger.Info("SSE stream completed", "session_id", req.SessionID, "response_len", len(text))
}

// handleClear empties a session's history.
func (h *ChatHandler) handleClear(w http.ResponseWriter, r *http.Request) {
	var req ClearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	if err := h.svc.ClearSession(r.Context(), req.SessionID); err != nil {
		h.writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ClearResponse{SessionID: req.SessionID})
}

// decodeChatRequest parses and rejects malformed chat request bodies.
func (h *ChatHandler) decodeChatRequest(w http.ResponseWriter, r *http.Request) (ChatRequest, bool) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return ChatRequest{}, false
	}
	return req, true
}

// writeChatError maps service errors to HTTP responses.
func (h *ChatHandler) writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptySessionID):
		writeError(w, http.StatusBadRequest, "missing_session_id", "sessionId is required")
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "missing_message", "message is required")
	default:
		h.logger.Error("chat request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
	}
}

// writeSSEChunk writes a chunk event to the SSE stream.
func (h *ChatHandler) writeSSEChunk(w http.ResponseWriter, flusher http.Flusher, text string) {
	data, _ := json.Marshal(SSEChunkData{Text: text})
	fmt.Fprintf(w, "event: chunk\ndata: %s\n\n", data)
	flusher.Flush()
}

// writeSSEDone writes a done event to the SSE stream.
func (h *ChatHandler) writeSSEDone(w http.ResponseWriter, flusher http.Flusher, response, sessionID string) {
	data, _ := json.Marshal(SSEDoneData{Response: response, SessionID: sessionID})
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", data)
	flusher.Flush()
}

// writeSSEError writes an error event to the SSE stream.
func (h *ChatHandler) writeSSEError(w http.ResponseWriter, flusher http.Flusher, code, message string) {
	data, _ := json.Marshal(SSEErrorData{Code: code, Message: message})
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
	flusher.Flush()
}
