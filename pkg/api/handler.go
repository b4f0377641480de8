// Copyright 2024-2026 Aiku AI

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/aiku/telegram-relay/pkg/relay"
)

// maxBodySize is the maximum accepted request body (1 MB).
const maxBodySize = 1 << 20

// Service is the relay functionality exposed over HTTP.
type Service interface {
	Login(ctx context.Context, phone string) (relay.LoginResult, error)
	Verify(ctx context.Context, phone, code string) error
	StartForwarding(ctx context.Context, phone string, source, dest relay.ChannelID, filters []string) (relay.StartResult, error)
	StopForwarding(phone string) (relay.StopResult, error)
	Status(phone string) relay.Status
}

var _ Service = (*relay.Relay)(nil)

// Handler serves the login, verification and forwarding endpoints.
type Handler struct {
	service Service
	log     zerolog.Logger
}

// NewHandler creates a Handler.
func NewHandler(service Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("component", "api").Logger(),
	}
}

// Register adds the API routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/verify", h.handleVerify)
	r.Post("/start", h.handleStart)
	r.Post("/stop", h.handleStop)
	r.Get("/status/{phone}", h.handleStatus)
}

type loginRequest struct {
	Phone string `json:"phone"`
}

type verifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

type startRequest struct {
	Phone      string   `json:"phone"`
	SourceChat int64    `json:"source_chat"`
	DestChat   int64    `json:"dest_chat"`
	Filters    []string `json:"filters"`
}

type statusMessage struct {
	Status   string `json:"status"`
	Kind     string `json:"kind,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Replaced bool   `json:"replaced,omitempty"`
}

type ruleResponse struct {
	SourceChat int64    `json:"source_chat"`
	DestChat   int64    `json:"dest_chat"`
	Filters    []string `json:"filters"`
}

type statusResponse struct {
	LoggedIn   bool          `json:"logged_in"`
	Forwarding bool          `json:"forwarding"`
	Rule       *ruleResponse `json:"rule,omitempty"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.service.Login(r.Context(), req.Phone)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, statusMessage{Status: result.String()})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.service.Verify(r.Context(), req.Phone, req.Code); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, statusMessage{Status: "logged_in"})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SourceChat == 0 || req.DestChat == 0 {
		h.writeError(w, r, &relay.Error{Kind: relay.KindInvalidRule, Detail: "source_chat and dest_chat are required"})
		return
	}
	result, err := h.service.StartForwarding(r.Context(), req.Phone, relay.ChannelID(req.SourceChat), relay.ChannelID(req.DestChat), req.Filters)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, statusMessage{
		Status:   "forwarding_started",
		Replaced: result == relay.ForwardingReplaced,
	})
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.service.StopForwarding(req.Phone)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, statusMessage{Status: result.String()})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")
	if unescaped, err := url.PathUnescape(phone); err == nil {
		phone = unescaped
	}

	status := h.service.Status(phone)
	resp := statusResponse{
		LoggedIn:   status.LoggedIn,
		Forwarding: status.Forwarding,
	}
	if status.Rule != nil {
		resp.Rule = &ruleResponse{
			SourceChat: int64(status.Rule.Source),
			DestChat:   int64(status.Rule.Destination),
			Filters:    status.Rule.Filters.Tags(),
		}
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// httpStatus maps an error kind to the response code.
func httpStatus(kind relay.ErrorKind) int {
	switch kind {
	case relay.KindInvalidIdentity, relay.KindInvalidRule:
		return http.StatusBadRequest
	case relay.KindNotAuthenticated:
		return http.StatusUnauthorized
	case relay.KindVerificationFailed:
		return http.StatusUnprocessableEntity
	case relay.KindTransport, relay.KindLoginFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	msg := statusMessage{Status: "error", Detail: err.Error()}
	var relayErr *relay.Error
	if errors.As(err, &relayErr) {
		msg.Kind = string(relayErr.Kind)
		if relayErr.Detail != "" {
			msg.Detail = relayErr.Detail
		}
	}
	code := httpStatus(relay.ErrorKind(msg.Kind))

	log := h.logger(r)
	evt := log.Warn()
	if code >= http.StatusInternalServerError {
		evt = log.Error()
	}
	evt.Err(err).Str("path", r.URL.Path).Int("status", code).Msg("Request failed")

	writeJSON(w, r, code, msg)
}

// logger returns the request logger installed by the router, or the
// handler's own logger when the handler is used without it.
func (h *Handler) logger(r *http.Request) *zerolog.Logger {
	if log := hlog.FromRequest(r); log.GetLevel() != zerolog.Disabled {
		return log
	}
	return &h.log
}

// decodeJSON reads the request body into v. It writes a 400 response and
// returns false if the body is not valid JSON.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		hlog.FromRequest(r).Debug().Err(err).Msg("Invalid request body")
		writeJSON(w, r, http.StatusBadRequest, statusMessage{Status: "error", Kind: "invalid_request", Detail: "invalid JSON body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Failed to write response")
	}
}
