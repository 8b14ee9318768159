package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/nftmarket/service/currency"
	"github.com/brojonat/nftmarket/service/pipeline"
	"github.com/brojonat/nftmarket/service/txbuilder"
)

type submissionResponse struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	State       string    `json:"state"`
	FailureKind string    `json:"failure_kind,omitempty"`
	Hash        string    `json:"hash,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func submissionToResponse(sub pipeline.Submission) submissionResponse {
	return submissionResponse{
		ID:          sub.ID,
		Action:      sub.Action,
		State:       string(sub.State),
		FailureKind: string(sub.FailureKind),
		Hash:        sub.Hash,
		Error:       sub.Error,
		CreatedAt:   sub.CreatedAt,
		UpdatedAt:   sub.UpdatedAt,
	}
}

type submitResponse struct {
	Submission   submissionResponse `json:"submission"`
	Version      string             `json:"version,omitempty"`
	VMStatus     string             `json:"vm_status,omitempty"`
	RefreshError string             `json:"refresh_error,omitempty"`
}

// handleMint returns a handler that mints a new item.
// POST /api/v1/mint
func handleMint(submitter Submitter, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			URI         string `json:"uri"`
			Rarity      uint8  `json:"rarity"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}

		submit(w, r, submitter, pipeline.MintIntent{
			Name:        req.Name,
			Description: req.Description,
			URI:         req.URI,
			Rarity:      req.Rarity,
		}, logger)
	})
}

// handleListForSale returns a handler that lists an owned item for sale.
// Price is given either in smallest units ("price") or in display units
// ("display_price"), not both.
// POST /api/v1/listings/{id}/sale
func handleListForSale(submitter Submitter, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := txbuilder.ParseItemID(r.PathValue("id"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Price        string `json:"price"`
			DisplayPrice string `json:"display_price"`
		}
		if !decodeBody(w, r, &req, logger) {
			return
		}

		var price uint64
		switch {
		case req.Price != "" && req.DisplayPrice != "":
			writeError(w, "give either price or display_price, not both", http.StatusBadRequest)
			return
		case req.DisplayPrice != "":
			price, err = currency.ParseDisplay(req.DisplayPrice)
		default:
			price, err = txbuilder.ParsePrice(req.Price)
		}
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		submit(w, r, submitter, pipeline.ListForSaleIntent{ItemID: id, Price: price}, logger)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, logger *slog.Logger) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.Debug("failed to decode request", "error", err)
		if strings.Contains(err.Error(), "http: request body too large") {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// submit runs intent through the pipeline and reports the terminal
// submission. A failed submission still carries its record in the body.
func submit(w http.ResponseWriter, r *http.Request, submitter Submitter, intent pipeline.Intent, logger *slog.Logger) {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(submitWriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.Warn("failed to extend write deadline", "error", err)
	}

	res, err := submitter.Submit(r.Context(), intent)
	if errors.Is(err, pipeline.ErrDuplicateSubmission) {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	resp := submitResponse{
		Submission: submissionToResponse(res.Submission),
		Version:    res.Outcome.Version,
		VMStatus:   res.Outcome.VMStatus,
	}
	if res.RefreshErr != nil {
		resp.RefreshError = res.RefreshErr.Error()
	}

	status := http.StatusOK
	if err != nil {
		status = statusForFailure(err)
		logger.Info("submission failed",
			"action", intent.Action(),
			"submission_id", res.Submission.ID,
			"failure_kind", res.Submission.FailureKind,
			"error", err,
		)
	}
	writeJSON(w, resp, status)
}

// statusForFailure maps a failed submission to a status code.
func statusForFailure(err error) int {
	var serr *pipeline.SubmissionError
	if !errors.As(err, &serr) {
		return http.StatusInternalServerError
	}
	switch serr.Kind {
	case pipeline.FailureValidation:
		return http.StatusBadRequest
	case pipeline.FailureCancelled:
		return http.StatusConflict
	case pipeline.FailureRejected:
		return http.StatusUnprocessableEntity
	case pipeline.FailureTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
