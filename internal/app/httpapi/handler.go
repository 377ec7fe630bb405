// Package httpapi exposes the coordinator's REST surface.
package httpapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	app "github.com/proofpay/settlement-coordinator/internal/app"
	"github.com/proofpay/settlement-coordinator/internal/app/domain/fund"
	"github.com/proofpay/settlement-coordinator/internal/app/metrics"
	"github.com/proofpay/settlement-coordinator/internal/app/services/funds"
	"github.com/proofpay/settlement-coordinator/internal/ledger"
	"github.com/proofpay/settlement-coordinator/pkg/logger"
)

// handler bundles HTTP endpoints for the coordinator services.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the core REST API, wrapped with request
// logging, HTTP metrics and CORS.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.HandleFunc("/funds", h.funds)
	mux.HandleFunc("/funds/", h.fundResources)
	mux.HandleFunc("/healthz", h.healthz)
	mux.HandleFunc("/status", h.status)
	mux.Handle("/metrics", metrics.Handler())
	return withCORS(withObservability(mux, logger.NewDefault("httpapi")))
}

func (h *handler) funds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Funder          string `json:"funder"`
			Beneficiary     string `json:"beneficiary"`
			Verifier        string `json:"verifier"`
			Amount          string `json:"amount"`
			Deadline        string `json:"deadline"`
			RequirementHash string `json:"requirement_hash"`
			Conditions      string `json:"conditions"`
			DocumentRef     string `json:"document_ref"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		amount, err := ledger.ParseAmount(payload.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("amount: %w", err))
			return
		}
		deadline, err := time.Parse(time.RFC3339, strings.TrimSpace(payload.Deadline))
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("deadline must be RFC3339 timestamp"))
			return
		}
		reqHash, err := decodeHash(payload.RequirementHash)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("requirement_hash: %w", err))
			return
		}

		receipt, err := h.app.Funds.CreateFund(r.Context(), funds.CreateParams{
			Funder:          payload.Funder,
			Beneficiary:     payload.Beneficiary,
			Verifier:        payload.Verifier,
			Amount:          amount,
			Deadline:        deadline,
			RequirementHash: reqHash,
			Conditions:      payload.Conditions,
			DocumentRef:     payload.DocumentRef,
		})
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, receipt)

	case http.MethodGet:
		filter := funds.Filter{
			Role:    fund.Role(strings.ToLower(r.URL.Query().Get("role"))),
			Address: r.URL.Query().Get("address"),
		}
		list, err := h.app.Funds.ListFunds(r.Context(), filter)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) fundResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/funds"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	fundID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("fund id must be a non-negative integer"))
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		fd, err := h.app.Funds.GetFund(r.Context(), fundID)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, fd)
		return
	}

	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch parts[1] {
	case "proof":
		h.submitProof(w, r, fundID)
	case "approve":
		h.callerAction(w, r, fundID, h.app.Funds.ApproveProof)
	case "release":
		h.callerAction(w, r, fundID, h.app.Funds.ReleaseFunds)
	case "refund":
		h.callerAction(w, r, fundID, h.app.Funds.RefundFunder)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) submitProof(w http.ResponseWriter, r *http.Request, fundID uint64) {
	var payload struct {
		Caller      string `json:"caller"`
		ProofHash   string `json:"proof_hash"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	proofHash, err := decodeHash(payload.ProofHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("proof_hash: %w", err))
		return
	}

	receipt, err := h.app.Funds.SubmitProof(r.Context(), payload.Caller, fundID, proofHash, payload.Description)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *handler) callerAction(w http.ResponseWriter, r *http.Request, fundID uint64, action func(ctx context.Context, caller string, fundID uint64) (*funds.Receipt, error)) {
	var payload struct {
		Caller string `json:"caller"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(payload.Caller) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("caller is required"))
		return
	}

	receipt, err := action(r.Context(), payload.Caller, fundID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snapshot, lastSync := h.app.Reconciler.Snapshot()
	writeJSON(w, http.StatusOK, struct {
		Funds    int    `json:"funds"`
		LastSync string `json:"last_sync,omitempty"`
	}{
		Funds:    len(snapshot),
		LastSync: formatSync(lastSync),
	})
}

func formatSync(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// decodeHash accepts an optional hex digest, tolerating a 0x prefix.
func decodeHash(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

// statusFor maps coordinator errors onto HTTP status codes. Guard and state
// rejections are conflicts; delivery failures point at the ledger RPC;
// timeouts are gateway timeouts because the outcome is unknown.
func statusFor(err error) int {
	var guard *fund.GuardViolation
	var illegal *fund.IllegalTransition
	var rejected *ledger.RejectedError
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &guard), errors.As(err, &illegal), errors.As(err, &rejected):
		return http.StatusConflict
	case errors.Is(err, funds.ErrSigningDeclined):
		return http.StatusBadRequest
	case errors.Is(err, funds.ErrSubmissionFailed), errors.Is(err, ledger.ErrMalformedEntry):
		return http.StatusBadGateway
	case errors.Is(err, funds.ErrSigningTimeout), errors.Is(err, funds.ErrConfirmationTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
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

// writeFailure reports a coordinator failure with both the raw error and the
// one-sentence human cause.
func writeFailure(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"cause": funds.HumanCause(err),
	})
}
