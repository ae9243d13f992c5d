// Package httpapi exposes the gift lifecycle over REST.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	app "github.com/wowgifts/giftlink/internal/app"
	"github.com/wowgifts/giftlink/internal/app/domain/gift"
	"github.com/wowgifts/giftlink/internal/app/metrics"
	"github.com/wowgifts/giftlink/internal/app/services/identity"
	"github.com/wowgifts/giftlink/internal/app/services/lifecycle"
)

// sessionHeader carries the claimant's opaque session identifier. Verification
// outcomes are scoped to it.
const sessionHeader = "X-Gift-Session"

// giftView is the claim-page representation of a gift. The verification
// requirement is derived state, so it rides alongside the record.
type giftView struct {
	gift.Gift
	RequiresVerification bool `json:"requiresVerification"`
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *auditLog
}

// NewHandler returns a mux exposing the gift REST API.
func NewHandler(application *app.Application, sink auditSink) http.Handler {
	h := &handler{app: application, audit: newAuditLog(200, sink)}
	mux := http.NewServeMux()
	mux.HandleFunc("/gifts", h.gifts)
	mux.HandleFunc("/gifts/", h.giftResources)
	mux.HandleFunc("/senders/", h.senderResources)
	mux.HandleFunc("/healthz", h.healthz)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (h *handler) gifts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload lifecycle.CreateRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.app.Lifecycle.CreateGift(r.Context(), payload)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *handler) giftResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/gifts"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	giftID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		g, err := h.app.Lifecycle.GetGift(r.Context(), giftID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, giftView{
			Gift:                 g,
			RequiresVerification: g.RequiresVerification(),
		})
		return
	}

	switch parts[1] {
	case "verify":
		h.verifyGift(w, r, giftID)
	case "claim":
		h.claimGift(w, r, giftID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) verifyGift(w http.ResponseWriter, r *http.Request, giftID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		Proof     string `json:"proof"`
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.app.Lifecycle.VerifyRecipient(r.Context(), giftID, sessionID(r, payload.SessionID), payload.Proof)
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
		writeError(w, status, err)
	} else {
		writeJSON(w, status, res)
	}
	h.audit.add(auditEntryFor(r, "verify", giftID, status))
}

func (h *handler) claimGift(w http.ResponseWriter, r *http.Request, giftID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		Address   string `json:"address"`
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	g, err := h.app.Lifecycle.Claim(r.Context(), giftID, sessionID(r, payload.SessionID), payload.Address)
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
		writeError(w, status, err)
	} else {
		writeJSON(w, status, g)
	}
	h.audit.add(auditEntryFor(r, "claim", giftID, status))
}

func (h *handler) senderResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/senders"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "history" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	entries, err := h.app.Lifecycle.History(r.Context(), parts[0])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if entries == nil {
		entries = []gift.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps engine errors onto HTTP status codes. Post-settlement
// failures get their own code so callers can tell "funds moved, record
// pending" apart from a generic server fault.
func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrWalletNotConnected):
		return http.StatusUnauthorized
	case errors.Is(err, lifecycle.ErrInvalidGiftSpec),
		errors.Is(err, lifecycle.ErrMissingGiftID),
		errors.Is(err, identity.ErrProofMissing):
		return http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrGiftNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrVerificationRequired):
		return http.StatusForbidden
	case errors.Is(err, lifecycle.ErrAlreadyClaimed):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrSettlementAuthorizationFailed),
		errors.Is(err, lifecycle.ErrSettlementFailed),
		errors.Is(err, identity.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, lifecycle.ErrPostSettlementUpdateFailed):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func sessionID(r *http.Request, fromBody string) string {
	if sid := strings.TrimSpace(fromBody); sid != "" {
		return sid
	}
	if sid := strings.TrimSpace(r.Header.Get(sessionHeader)); sid != "" {
		return sid
	}
	// Without an explicit session the remote address is the best stable
	// scope available.
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
