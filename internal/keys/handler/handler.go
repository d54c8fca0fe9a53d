// Package handler is the thin HTTP layer over the orchestrator. It decodes
// commands, resolves the acting account, and maps sentinel errors to status
// codes; business logic stays in the orchestrator.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"keyclaims/internal/keys/models"
	"keyclaims/internal/keys/orchestrator"
	"keyclaims/pkg/domain"
	"keyclaims/pkg/platform/sentinel"
)

// accountHeader carries the acting account id. Authentication happens
// upstream; this service only scopes commands to the asserted owner.
const accountHeader = "X-Account-ID"

type Handler struct {
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

func New(orch *orchestrator.Orchestrator, logger *slog.Logger) *Handler {
	return &Handler{orch: orch, logger: logger}
}

// Register wires the key command routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/keys", h.handleCreateKey)
	r.Post("/keys/claims", h.handleRequestClaim)
	r.Get("/keys/{id}", h.handleGetKey)
	r.Delete("/keys/{id}", h.handleDeleteKey)
	r.Post("/keys/{id}/register", h.handleRegisterKey)

	r.Post("/keys/{id}/ownership/{action}", h.handleOwnership)
	r.Post("/keys/{id}/portability/{action}", h.handlePortability)
}

type createKeyRequest struct {
	Value string `json:"value"`
	Kind  string `json:"kind"`
}

func (h *Handler) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind, err := models.ParseKeyKind(req.Kind)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	key, err := h.orch.CreateKey(r.Context(), req.Value, kind, owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

type requestClaimRequest struct {
	Value string `json:"value"`
	Kind  string `json:"kind"`
	Type  string `json:"type"`
}

func (h *Handler) handleRequestClaim(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req requestClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kind, err := models.ParseKeyKind(req.Kind)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	key, err := h.orch.RequestClaim(r.Context(), req.Value, kind, owner, models.ClaimType(req.Type))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

func (h *Handler) handleGetKey(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.scopedRef(w, r)
	if !ok {
		return
	}
	key, err := h.orch.GetKey(r.Context(), ref)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.scopedRef(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "user-requested"
	}
	key, err := h.orch.DeleteKey(r.Context(), ref, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// commandFor maps a route action to its orchestrator handler and target
// state. A response that did not reach the target means the trigger was
// dead-lettered and will resolve asynchronously: 202.
type command struct {
	target models.KeyState
	invoke func(h *Handler, r *http.Request, ref orchestrator.Ref, reason string) (*models.Key, error)
}

var ownershipCommands = map[string]command{
	"open": {models.StateOwnershipOpened, func(h *Handler, r *http.Request, ref orchestrator.Ref, _ string) (*models.Key, error) {
		return h.orch.OpenOwnership(r.Context(), ref)
	}},
	"start": {models.StateOwnershipStarted, func(h *Handler, r *http.Request, ref orchestrator.Ref, _ string) (*models.Key, error) {
		return h.orch.StartOwnership(r.Context(), ref)
	}},
	"confirm": {models.StateOwnershipConfirmed, func(h *Handler, r *http.Request, ref orchestrator.Ref, _ string) (*models.Key, error) {
		return h.orch.ConfirmOwnership(r.Context(), ref)
	}},
	"canceling": {models.StateOwnershipCanceling, func(h *Handler, r *http.Request, ref orchestrator.Ref, _ string) (*models.Key, error) {
		return h.orch.CancelingOwnership(r.Context(), ref)
	}},
	"cancel": {models.StateOwnershipCanceled, func(h *Handler, r *http.Request, ref orchestrator.Ref, reason string) (*models.Key, error) {
		return h.orch.CancelOwnership(r.Context(), ref, reason)
	}},
}

var portabilityCommands = map[string]command{
	"open": {models.StatePortabilityOpened, func(h *Handler, r *http.Request, ref orchestrator.Ref, _ string) (*models.Key, error) {
		return h.orch.OpenPortability(r.Context(), ref)
	}},
	"start": {models.StatePortabilityStarted, func(h *Handler, r *http.Request, ref orchestrator.Ref, _ string) (*models.Key, error) {
		return h.orch.StartPortability(r.Context(), ref)
	}},
	"confirm": {models.StatePortabilityConfirmed, func(h *Handler, r *http.Request, ref orchestrator.Ref, _ string) (*models.Key, error) {
		return h.orch.ConfirmPortability(r.Context(), ref)
	}},
	"complete": {models.StatePortabilityReady, func(h *Handler, r *http.Request, ref orchestrator.Ref, _ string) (*models.Key, error) {
		return h.orch.CompletePortability(r.Context(), ref)
	}},
	"canceling": {models.StatePortabilityCanceling, func(h *Handler, r *http.Request, ref orchestrator.Ref, _ string) (*models.Key, error) {
		return h.orch.CancelingPortability(r.Context(), ref)
	}},
	"cancel": {models.StatePortabilityCanceled, func(h *Handler, r *http.Request, ref orchestrator.Ref, reason string) (*models.Key, error) {
		return h.orch.CancelPortability(r.Context(), ref, reason)
	}},
}

func (h *Handler) handleOwnership(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, r, ownershipCommands)
}

func (h *Handler) handlePortability(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, r, portabilityCommands)
}

func (h *Handler) runCommand(w http.ResponseWriter, r *http.Request, commands map[string]command) {
	cmd, ok := commands[chi.URLParam(r, "action")]
	if !ok {
		writeStatus(w, http.StatusNotFound, "unknown action")
		return
	}
	ref, okRef := h.scopedRef(w, r)
	if !okRef {
		return
	}
	var req reasonRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	key, err := cmd.invoke(h, r, ref, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if key.State != cmd.target {
		// Accepted but parked on the dead-letter path; resolves asynchronously.
		status = http.StatusAccepted
	}
	writeJSON(w, status, key)
}

func (h *Handler) handleRegisterKey(w http.ResponseWriter, r *http.Request) {
	ref, ok := h.scopedRef(w, r)
	if !ok {
		return
	}
	key, err := h.orch.RegisterKey(r.Context(), ref)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if key.State != models.StateReady {
		status = http.StatusAccepted
	}
	writeJSON(w, status, key)
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (domain.AccountID, bool) {
	raw := r.Header.Get(accountHeader)
	if raw == "" {
		writeStatus(w, http.StatusBadRequest, "missing "+accountHeader+" header")
		return domain.AccountID{}, false
	}
	owner, err := domain.ParseAccountID(raw)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid "+accountHeader+" header")
		return domain.AccountID{}, false
	}
	return owner, true
}

func (h *Handler) scopedRef(w http.ResponseWriter, r *http.Request) (orchestrator.Ref, bool) {
	owner, ok := h.owner(w, r)
	if !ok {
		return orchestrator.Ref{}, false
	}
	id, err := domain.ParseKeyID(chi.URLParam(r, "id"))
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid key id")
		return orchestrator.Ref{}, false
	}
	return orchestrator.ByID(id).Owned(owner), true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		writeStatus(w, http.StatusNotFound, "key not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		writeStatus(w, http.StatusConflict, err.Error())
	case errors.Is(err, sentinel.ErrMissingData):
		writeStatus(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sentinel.ErrConflict):
		writeStatus(w, http.StatusConflict, "concurrent update, retry")
	default:
		h.logger.ErrorContext(r.Context(), "command failed", "error", err.Error())
		writeStatus(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeStatus(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
