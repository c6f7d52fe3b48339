package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"nhooyr.io/websocket"

	"github.com/moqimoqidea/gemini-cli/pkg/bus"
	"github.com/moqimoqidea/gemini-cli/pkg/confirm"
	"github.com/moqimoqidea/gemini-cli/pkg/mcp"
	"github.com/moqimoqidea/gemini-cli/pkg/transport"
)

// Handler serves the hub over HTTP:
//
//	GET    /status                      server states and waiting confirmations
//	GET    /tools                       tool definitions
//	POST   /tools/{name}/call           run a tool; body is the JSON args object
//	DELETE /servers/{name}              disconnect a server
//	POST   /extensions/{name}/enable    start an extension's servers
//	POST   /extensions/{name}/disable   stop them
//	GET    /confirm                     websocket confirmation front-end
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", h.handleStatus)
	mux.HandleFunc("GET /tools", h.handleTools)
	mux.HandleFunc("POST /tools/{name}/call", h.handleCall)
	mux.HandleFunc("DELETE /servers/{name}", h.handleDisconnect)
	mux.HandleFunc("POST /extensions/{name}/enable", h.handleExtension(true))
	mux.HandleFunc("POST /extensions/{name}/disable", h.handleExtension(false))
	mux.HandleFunc("GET /confirm", h.handleConfirm)
	return mux
}

type callResponse struct {
	Output  string `json:"output"`
	IsError bool   `json:"isError,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Hub) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"discovery": h.Manager.DiscoveryState(),
		"servers":   h.Manager.Status(),
		"pending":   h.Interceptor.Pending(),
	})
}

func (h *Hub) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Manager.Tools().Definitions())
}

func (h *Hub) handleCall(w http.ResponseWriter, r *http.Request) {
	var args map[string]any
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	out, err := h.Call(r.Context(), r.PathValue("name"), args)
	switch {
	case errors.Is(err, ErrUnknownTool):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, confirm.ErrDenied):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, confirm.ErrCancelled):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusBadGateway, err)
	default:
		writeJSON(w, http.StatusOK, callResponse{Output: out.Content, IsError: out.IsError})
	}
}

func (h *Hub) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	err := h.Manager.DisconnectServer(r.Context(), r.PathValue("name"))
	switch {
	case errors.Is(err, mcp.ErrUnknownServer):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Hub) handleExtension(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.SetExtensionEnabled(r.Context(), r.PathValue("name"), enabled); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// handleConfirm attaches a websocket front-end for as long as it stays
// connected. Pending confirmations are cancelled once the last front-end
// leaves.
func (h *Hub) handleConfirm(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept", "error", err)
		return
	}
	ctx := r.Context()
	tr := transport.NewWebSocketTransport(ctx, conn)
	br := transport.NewConfirmationBridge(h.Bus, tr,
		transport.WithBridgeLogger(h.logger),
		transport.WithOnClose(h.cancelIfUnattended))

	h.logger.Info("front-end connected", "remote", r.RemoteAddr)
	if err := br.Run(ctx); err != nil && ctx.Err() == nil {
		h.logger.Warn("front-end bridge", "error", err)
	}
	h.logger.Info("front-end disconnected", "remote", r.RemoteAddr)
}

func (h *Hub) cancelIfUnattended() {
	if h.Bus.SubscriberCount(bus.TypeConfirmationRequest) == 0 {
		h.Interceptor.CancelAll()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
