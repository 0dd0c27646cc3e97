package admin

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/wpmeta/wpmeta/actor"
	"github.com/wpmeta/wpmeta/audit"
	"github.com/wpmeta/wpmeta/backup"
	"github.com/wpmeta/wpmeta/cfg"
	"github.com/wpmeta/wpmeta/common"
	"github.com/wpmeta/wpmeta/maintenance"
	"github.com/wpmeta/wpmeta/replace"
	"github.com/wpmeta/wpmeta/request"
	"github.com/wpmeta/wpmeta/search"
	"github.com/wpmeta/wpmeta/settings"
	"github.com/wpmeta/wpmeta/telemetry"
)

// maxBodyBytes bounds request payloads
const maxBodyBytes = 8 << 20

// Services are the components behind the admin actions
type Services struct {
	Search      *search.Engine
	Replace     *replace.Engine
	Backups     *backup.Manager
	Settings    *settings.Store
	Logger      *audit.Logger
	Maintenance *maintenance.Scheduler
}

// AdminHandlers dispatches admin-ajax style actions
type AdminHandlers struct {
	svc     Services
	nonces  *NonceManager
	actions map[string]action
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(svc Services, nonces *NonceManager) *AdminHandlers {
	h := &AdminHandlers{svc: svc, nonces: nonces}
	h.actions = h.registerActions()
	return h
}

// envelope is the admin-ajax response shape (wp_send_json_success / _error)
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

type errorData struct {
	Message string              `json:"message"`
	Fields  []common.FieldError `json:"fields,omitempty"`
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	writeError(w, status, errorData{Message: message})
}

func writeError(w http.ResponseWriter, status int, data errorData) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: false, Data: data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	var ve *common.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, backup.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorDataFor(err error, status int) errorData {
	var ve *common.ValidationError
	switch {
	case errors.As(err, &ve):
		return errorData{Message: ve.Error(), Fields: ve.Fields}
	case status == http.StatusInternalServerError:
		return errorData{Message: "internal error"}
	default:
		return errorData{Message: err.Error()}
	}
}

func resultLabel(status int) string {
	switch {
	case status < 300:
		return "success"
	case status == http.StatusBadRequest:
		return "invalid"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "denied"
	case status < 500:
		return "client_error"
	default:
		return "error"
	}
}

// actionName reads the action from the route or the admin-ajax query string
func actionName(r *http.Request) string {
	if name := chi.URLParam(r, "action"); name != "" {
		return name
	}
	return r.URL.Query().Get("action")
}

// nonceFrom reads the nonce header, falling back to the _ajax_nonce query parameter
func nonceFrom(r *http.Request) string {
	if n := r.Header.Get("X-WP-Nonce"); n != "" {
		return n
	}
	return r.URL.Query().Get("_ajax_nonce")
}

// handleAction authorizes and runs one action
func (h *AdminHandlers) handleAction(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := actionName(r)

	act, ok := h.actions[name]
	if !ok {
		telemetry.RequestsTotal.With("unknown", "invalid").Inc()
		writeErrorResponse(w, http.StatusBadRequest, "unknown action")
		return
	}

	status := http.StatusOK
	defer func() {
		telemetry.RequestsTotal.With(name, resultLabel(status)).Inc()
		telemetry.RequestDurationSeconds.With(name).Observe(time.Since(start).Seconds())
	}()

	ctx := r.Context()
	a := actor.FromContext(ctx)

	if cfg.Config.Auth.Enabled && h.nonces.Verify(nonceFrom(r), name, a.ID) == 0 {
		status = http.StatusForbidden
		h.svc.Logger.Warning(ctx, name, "Rejected request with invalid nonce", nil)
		writeErrorResponse(w, status, "invalid or expired nonce")
		return
	}
	if !a.Can(act.capability) {
		status = http.StatusForbidden
		h.svc.Logger.Warning(ctx, name, "Rejected request without capability", map[string]interface{}{"capability": act.capability})
		writeErrorResponse(w, status, "you are not allowed to perform this action")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		status = http.StatusRequestEntityTooLarge
		writeErrorResponse(w, status, "request body too large")
		return
	}

	data, err := act.run(r.WithContext(ctx), body)
	if err != nil {
		status = statusFor(err)
		fields := map[string]interface{}{"params": json.RawMessage(compactJSON(body)), "error": err.Error()}
		if status == http.StatusInternalServerError {
			h.svc.Logger.Error(ctx, name, "Action failed", fields)
		} else {
			h.svc.Logger.Warning(ctx, name, "Action rejected", fields)
		}
		writeError(w, status, errorDataFor(err, status))
		return
	}

	writeJSONResponse(w, data)
}

// compactJSON returns body as compact JSON, or a JSON string when it is not JSON
func compactJSON(body []byte) []byte {
	var buf bytes.Buffer
	if len(bytes.TrimSpace(body)) == 0 {
		return []byte("{}")
	}
	if err := json.Compact(&buf, body); err != nil {
		quoted, _ := json.Marshal(string(body))
		return quoted
	}
	return buf.Bytes()
}

// handleNonce issues a nonce for the requested action
func (h *AdminHandlers) handleNonce(w http.ResponseWriter, r *http.Request) {
	var req request.Nonce
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4096))
	if err == nil {
		err = bind(body, &req)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, errorDataFor(err, http.StatusBadRequest))
		return
	}
	if _, ok := h.actions[req.Action]; !ok {
		writeErrorResponse(w, http.StatusBadRequest, "unknown action")
		return
	}

	a := actor.FromContext(r.Context())
	writeJSONResponse(w, map[string]interface{}{
		"action":     req.Action,
		"nonce":      h.nonces.Create(req.Action, a.ID),
		"expires_in": int(h.nonces.Lifetime().Seconds()),
	})
}

// bind decodes body into p, then sanitizes and validates it. An empty body
// leaves p at its zero value.
func bind(body []byte, p request.Payload) error {
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, p); err != nil {
			return common.Invalid("body", "invalid JSON: %v", err)
		}
	}
	p.Sanitize()
	return p.Validate()
}
