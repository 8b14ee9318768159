package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brojonat/nftmarket/service/ledger"
	"github.com/brojonat/nftmarket/service/metrics"
	"github.com/brojonat/nftmarket/service/pipeline"
	"github.com/brojonat/nftmarket/service/txbuilder"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func succeeded(action string) pipeline.Result {
	return pipeline.Result{
		Submission: pipeline.Submission{ID: "sub-1", Action: action, State: pipeline.StateSucceeded, Hash: "0xfeed"},
		Outcome:    ledger.Outcome{Hash: "0xfeed", Success: true, VMStatus: "Executed successfully", Version: "99"},
	}
}

func failed(kind pipeline.FailureKind, cause error) (pipeline.Result, error) {
	res := pipeline.Result{Submission: pipeline.Submission{
		ID:          "sub-1",
		Action:      pipeline.ActionMint,
		State:       pipeline.StateFailed,
		FailureKind: kind,
		Error:       cause.Error(),
	}}
	return res, &pipeline.SubmissionError{Kind: kind, Err: cause}
}

func TestMint(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		sub := &fakeSubmitter{result: succeeded(pipeline.ActionMint)}
		body := `{"name":"Golden Dragon","description":"Shiny","uri":"ipfs://dragon","rarity":3}`
		w := httptest.NewRecorder()
		handleMint(sub, testLogger).ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/mint", strings.NewReader(body)))

		require.Equal(t, http.StatusOK, w.Code)
		require.Len(t, sub.got, 1)
		assert.Equal(t, pipeline.MintIntent{Name: "Golden Dragon", Description: "Shiny", URI: "ipfs://dragon", Rarity: 3}, sub.got[0])

		var resp submitResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "succeeded", resp.Submission.State)
		assert.Equal(t, "0xfeed", resp.Submission.Hash)
		assert.Equal(t, "99", resp.Version)
		assert.Empty(t, resp.RefreshError)
	})

	t.Run("refresh error is reported with success", func(t *testing.T) {
		res := succeeded(pipeline.ActionMint)
		res.RefreshErr = errors.New("node unavailable")
		sub := &fakeSubmitter{result: res}
		w := httptest.NewRecorder()
		handleMint(sub, testLogger).ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/mint", strings.NewReader(`{"name":"a","description":"b","uri":"c","rarity":1}`)))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "node unavailable", decodeJSON(t, w)["refresh_error"])
	})

	t.Run("pathological bodies", func(t *testing.T) {
		tests := []struct {
			name      string
			body      string
			wantError string
		}{
			{"extremely large request body", `{"name":"` + strings.Repeat("A", 2<<20) + `"}`, "request body too large"},
			{"malformed JSON", `{"name":`, "invalid request body"},
			{"rarity out of byte range", `{"name":"a","rarity":300}`, "invalid request body"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				sub := &fakeSubmitter{}
				w := httptest.NewRecorder()
				handleMint(sub, testLogger).ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/mint", strings.NewReader(tt.body)))

				assert.Equal(t, http.StatusBadRequest, w.Code)
				assert.Contains(t, decodeJSON(t, w)["error"], tt.wantError)
				assert.Empty(t, sub.got)
			})
		}
	})
}

func TestMint_FailureStatus(t *testing.T) {
	tests := []struct {
		name           string
		kind           pipeline.FailureKind
		cause          error
		expectedStatus int
	}{
		{"validation", pipeline.FailureValidation, &txbuilder.ValidationError{Fields: []string{"name"}, Reason: "missing required fields"}, http.StatusBadRequest},
		{"user cancelled", pipeline.FailureCancelled, ledger.ErrUserRejected, http.StatusConflict},
		{"aborted on chain", pipeline.FailureRejected, errors.New("transaction 0xfeed failed: Move abort"), http.StatusUnprocessableEntity},
		{"confirmation timeout", pipeline.FailureTimeout, ledger.ErrTimeout, http.StatusGatewayTimeout},
		{"transport", pipeline.FailureTransport, ledger.ErrNetwork, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := failed(tt.kind, tt.cause)
			sub := &fakeSubmitter{result: res, err: err}
			w := httptest.NewRecorder()
			handleMint(sub, testLogger).ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/mint", strings.NewReader(`{"name":"a","description":"b","uri":"c","rarity":1}`)))

			require.Equal(t, tt.expectedStatus, w.Code)
			var resp submitResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "failed", resp.Submission.State)
			assert.Equal(t, string(tt.kind), resp.Submission.FailureKind)
		})
	}
}

func TestMint_Duplicate(t *testing.T) {
	sub := &fakeSubmitter{err: pipeline.ErrDuplicateSubmission}
	w := httptest.NewRecorder()
	handleMint(sub, testLogger).ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/mint", strings.NewReader(`{"name":"a","description":"b","uri":"c","rarity":1}`)))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decodeJSON(t, w)["error"], "already in flight")
}

func TestListForSale(t *testing.T) {
	tests := []struct {
		name           string
		id             string
		body           string
		expectedStatus int
		wantIntent     *pipeline.ListForSaleIntent
	}{
		{"smallest units", "7", `{"price":"150000000"}`, http.StatusOK, &pipeline.ListForSaleIntent{ItemID: 7, Price: 150_000_000}},
		{"display units", "7", `{"display_price":"1.5"}`, http.StatusOK, &pipeline.ListForSaleIntent{ItemID: 7, Price: 150_000_000}},
		{"both prices", "7", `{"price":"1","display_price":"1"}`, http.StatusBadRequest, nil},
		{"missing price", "7", `{}`, http.StatusBadRequest, nil},
		{"negative price", "7", `{"price":"-5"}`, http.StatusBadRequest, nil},
		{"too many decimals", "7", `{"display_price":"0.000000001"}`, http.StatusBadRequest, nil},
		{"bad id", "seven", `{"price":"1"}`, http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{result: succeeded(pipeline.ActionListForSale)}
			req := httptest.NewRequest("POST", "/api/v1/listings/"+tt.id+"/sale", strings.NewReader(tt.body))
			req.SetPathValue("id", tt.id)
			w := httptest.NewRecorder()
			handleListForSale(sub, testLogger).ServeHTTP(w, req)

			require.Equal(t, tt.expectedStatus, w.Code)
			if tt.wantIntent == nil {
				assert.Empty(t, sub.got)
				return
			}
			require.Len(t, sub.got, 1)
			assert.Equal(t, *tt.wantIntent, sub.got[0])
		})
	}
}

func TestSubmitThroughMiddleware(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	sub := &fakeSubmitter{result: succeeded(pipeline.ActionMint)}
	srv := New(":0", Dependencies{
		Listings:  newFakeListings(),
		Lookup:    newFakeLookup(),
		Balances:  fakeBalances{},
		Submitter: sub,
	}, m, testLogger)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/mint", strings.NewReader(`{"name":"a","description":"b","uri":"c","rarity":1}`)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, sub.got, 1)
}
