package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/nftmarket/service/catalog"
	"github.com/brojonat/nftmarket/service/currency"
	"github.com/brojonat/nftmarket/service/db"
	"github.com/brojonat/nftmarket/service/ledger"
	"github.com/brojonat/nftmarket/service/txbuilder"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for a mint form
	maxAddressLength   = 66      // 0x + 64 hex digits
	defaultOwnedLimit  = 20
	maxOwnedLimit      = 100
	maxSubmissionLimit = 500

	// Writes wait for the wallet and for confirmation, well past the
	// server's default write timeout.
	submitWriteTimeout = 10 * time.Minute
)

type listingResponse struct {
	ID           uint64      `json:"id"`
	Slug         string      `json:"slug"`
	Owner        string      `json:"owner"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	URI          string      `json:"uri"`
	Price        catalog.U64 `json:"price"`
	DisplayPrice string      `json:"display_price"`
	ForSale      bool        `json:"for_sale"`
	Rarity       uint8       `json:"rarity"`
	RarityLabel  string      `json:"rarity_label"`
}

func listingToResponse(r catalog.ListingRecord) listingResponse {
	return listingResponse{
		ID:           r.ID,
		Slug:         r.Slug(),
		Owner:        r.Owner,
		Name:         r.Name,
		Description:  r.Description,
		URI:          r.URI,
		Price:        catalog.U64(r.Price),
		DisplayPrice: r.DisplayPrice(),
		ForSale:      r.ForSale,
		Rarity:       r.Rarity,
		RarityLabel:  r.RarityLabel(),
	}
}

func listingsToResponse(records []catalog.ListingRecord) []listingResponse {
	resp := make([]listingResponse, len(records))
	for i, r := range records {
		resp[i] = listingToResponse(r)
	}
	return resp
}

// handleHealth reports liveness and which optional components are wired.
// A catalog that has never loaded is still healthy; refreshed_at is omitted.
func handleHealth(deps Dependencies) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"status":  "ok",
			"journal": deps.Store != nil,
			"stream":  deps.Stream != nil,
		}
		if deps.Listings != nil {
			if at := deps.Listings.RefreshedAt(); !at.IsZero() {
				resp["refreshed_at"] = at.UTC()
			}
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// handleListListings returns a handler that serves one page of the catalog.
// GET /api/v1/listings?rarity={0-4}&page={n}
func handleListListings(listings Listings, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		filter, err := catalog.ParseRarityFilter(query.Get("rarity"))
		if err != nil {
			logger.Debug("invalid rarity filter", "rarity", query.Get("rarity"), "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		page := 1
		if p := query.Get("page"); p != "" {
			page, err = strconv.Atoi(p)
			if err != nil {
				writeError(w, "invalid page: must be a positive integer", http.StatusBadRequest)
				return
			}
		}

		view, err := listings.Query(filter, page)
		if err != nil {
			logger.Debug("invalid page", "page", page, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := map[string]interface{}{
			"listings":    listingsToResponse(view.Visible()),
			"rarity":      view.Filter().String(),
			"page":        view.Page(),
			"page_size":   view.PageSize(),
			"total_pages": view.TotalPages(),
			"total":       len(view.Filtered()),
		}
		if at := listings.RefreshedAt(); !at.IsZero() {
			resp["refreshed_at"] = at.UTC()
		}

		writeJSON(w, resp, http.StatusOK)
	})
}

// handleRefreshListings returns a handler that re-reads the marketplace.
// POST /api/v1/listings/refresh
func handleRefreshListings(listings Listings, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := listings.Refresh(r.Context())
		if errors.Is(err, catalog.ErrSuperseded) {
			writeJSON(w, map[string]interface{}{
				"applied":    false,
				"generation": res.Generation,
			}, http.StatusOK)
			return
		}
		if err != nil {
			logger.Error("failed to refresh listings", "error", err)
			writeLedgerError(w, err)
			return
		}

		writeJSON(w, map[string]interface{}{
			"applied":    true,
			"generation": res.Generation,
			"listings":   res.Listings,
			"dropped":    res.Dropped,
		}, http.StatusOK)
	})
}

// handleGetListing returns a handler that retrieves one item by id.
// GET /api/v1/listings/{id}
func handleGetListing(lookup ItemLookup, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := txbuilder.ParseItemID(r.PathValue("id"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		record, err := lookup.Get(r.Context(), id)
		if err != nil {
			logger.Debug("failed to get listing", "id", id, "error", err)
			writeLedgerError(w, err)
			return
		}

		writeJSON(w, listingToResponse(record), http.StatusOK)
	})
}

// handleGetBalance returns a handler that reads an account's coin balance.
// GET /api/v1/accounts/{address}/balance
func handleGetBalance(balances catalog.BalanceReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		balance, err := balances.GetBalance(r.Context(), address)
		if err != nil {
			logger.Error("failed to get balance", "address", address, "error", err)
			writeLedgerError(w, err)
			return
		}

		writeJSON(w, map[string]interface{}{
			"address":         address,
			"balance":         catalog.U64(balance),
			"display_balance": currency.Format(balance),
		}, http.StatusOK)
	})
}

// handleListOwnedItems returns a handler that lists the items an account owns.
// GET /api/v1/accounts/{address}/items?limit={n}&offset={n}
func handleListOwnedItems(lookup ItemLookup, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		query := r.URL.Query()
		limit, err := parseUintParam(query.Get("limit"), defaultOwnedLimit)
		if err != nil || limit == 0 || limit > maxOwnedLimit {
			writeError(w, "invalid limit: must be between 1 and 100", http.StatusBadRequest)
			return
		}
		offset, err := parseUintParam(query.Get("offset"), 0)
		if err != nil {
			writeError(w, "invalid offset: must be a non-negative integer", http.StatusBadRequest)
			return
		}

		items, err := lookup.ListOwned(r.Context(), address, limit, offset)
		if err != nil {
			logger.Error("failed to list owned items", "address", address, "error", err)
			writeLedgerError(w, err)
			return
		}

		logger.Debug("owned items listed", "address", address, "count", len(items))

		writeJSON(w, map[string]interface{}{
			"address": address,
			"items":   listingsToResponse(items),
			"limit":   limit,
			"offset":  offset,
		}, http.StatusOK)
	})
}

// handleListSubmissions returns a handler that lists journaled submissions.
// GET /api/v1/submissions?action={action}&state={state}&limit={n}&offset={n}
func handleListSubmissions(store SubmissionStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		limit, err := parseUintParam(query.Get("limit"), 50)
		if err != nil || limit == 0 || limit > maxSubmissionLimit {
			writeError(w, "invalid limit: must be between 1 and 500", http.StatusBadRequest)
			return
		}
		offset, err := parseUintParam(query.Get("offset"), 0)
		if err != nil || offset > 1<<31-1 {
			writeError(w, "invalid offset: must be a non-negative integer", http.StatusBadRequest)
			return
		}

		subs, err := store.ListSubmissions(r.Context(), db.ListSubmissionsParams{
			Action: query.Get("action"),
			State:  query.Get("state"),
			Limit:  int32(limit),
			Offset: int32(offset),
		})
		if err != nil {
			logger.Error("failed to list submissions", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]submissionResponse, len(subs))
		for i, sub := range subs {
			resp[i] = submissionToResponse(*sub)
		}

		writeJSON(w, map[string]interface{}{
			"submissions": resp,
			"limit":       limit,
			"offset":      offset,
		}, http.StatusOK)
	})
}

// handleGetSubmission returns a handler that retrieves one submission.
// GET /api/v1/submissions/{id}
func handleGetSubmission(store SubmissionStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		sub, err := store.GetSubmission(r.Context(), id)
		if errors.Is(err, db.ErrSubmissionNotFound) {
			writeError(w, "submission not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to get submission", "id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, submissionToResponse(*sub), http.StatusOK)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// writeLedgerError maps a ledger error kind to a status code.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)
	case errors.Is(err, ledger.ErrInvalidArgument):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrTimeout):
		writeError(w, "ledger node timed out", http.StatusGatewayTimeout)
	default:
		writeError(w, "ledger node unavailable", http.StatusBadGateway)
	}
}

// validateAddress checks that address is a 0x-prefixed hex account address.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	if !strings.HasPrefix(address, "0x") || len(address) < 3 {
		return errorf("invalid address format: must start with 0x")
	}

	for _, r := range address[2:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return errorf("invalid address format: must contain only hex digits")
		}
	}

	return nil
}

func parseUintParam(s string, def uint64) (uint64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
