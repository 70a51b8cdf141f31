package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/authz"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/purchase"
)

const maxSubmissionBytes = 1 << 20

type handler struct {
	purchases Purchases
	authz     authz.Client
	log       *zap.Logger
}

// POST /api/browser-checkout → 202 receipt
func (h *handler) submit(w http.ResponseWriter, r *http.Request) {
	var sub purchase.Submission
	dec := json.NewDecoder(io.LimitReader(r.Body, maxSubmissionBytes))
	if err := dec.Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	_, receipt, err := h.purchases.Submit(r.Context(), sub)
	if err != nil {
		if errors.Is(err, purchase.ErrInvalidSubmission) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("submit purchase", zap.String("user_id", sub.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start purchase")
		return
	}
	h.grantViewer(r, sub.UserID, receipt.PurchaseID)
	writeJSON(w, http.StatusAccepted, receipt)
}

// grantViewer lets the submitting user query the purchase when the authz
// backend stores tuples. A failed grant is logged and the purchase proceeds.
func (h *handler) grantViewer(r *http.Request, userID, purchaseID string) {
	wr, ok := h.authz.(authz.Writer)
	if !ok {
		return
	}
	tuple := authz.Tuple{User: "user:" + userID, Relation: "viewer", Object: "purchase:" + purchaseID}
	if err := wr.Write(r.Context(), tuple); err != nil {
		h.log.Warn("grant purchase viewer",
			zap.String("purchase_id", purchaseID),
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

// requirePurchase answers 404 before the viewer check runs.
func (h *handler) requirePurchase(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := h.load(w, chi.URLParam(r, "id")); ok {
			next.ServeHTTP(w, r)
		}
	})
}

// GET /api/purchase-status/{id}
func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	if rec, ok := h.load(w, chi.URLParam(r, "id")); ok {
		writeJSON(w, http.StatusOK, rec)
	}
}

// load writes the error response itself when the record can't be returned.
func (h *handler) load(w http.ResponseWriter, id string) (purchase.Record, bool) {
	rec, err := h.purchases.Get(id)
	if err != nil {
		if errors.Is(err, purchase.ErrNotFound) {
			writeError(w, http.StatusNotFound, purchase.ErrNotFound.Error())
			return purchase.Record{}, false
		}
		h.log.Error("get purchase", zap.String("purchase_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load purchase")
		return purchase.Record{}, false
	}
	return rec, true
}
