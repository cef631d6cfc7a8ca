// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/blinklabs-io/fundwatch/internal/version"
	"github.com/blinklabs-io/fundwatch/ledger"
	"github.com/blinklabs-io/fundwatch/metadata"
	"github.com/blinklabs-io/fundwatch/state"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    message,
	})
}

// writeLedgerError maps a ledger failure to a response status
func (a *API) writeLedgerError(w http.ResponseWriter, op string, err error) {
	var rejected *ledger.SubmissionRejectedError
	switch {
	case errors.As(err, &rejected):
		writeError(w, http.StatusConflict, rejected.Reason)
	case ledger.IsTransient(err):
		a.logger.Warn("ledger read failed", "op", op, "error", err)
		writeError(w, http.StatusBadGateway, "ledger read failed, try again")
	default:
		a.logger.Error("request failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return 0, false
	}
	return id, true
}

func (a *API) handleRoot(w http.ResponseWriter, _ *http.Request) {
	v := a.config.Version
	if v == "" {
		v = version.GetVersionString()
	}
	writeJSON(w, http.StatusOK, RootResponse{Name: "fundwatch", Version: v})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Ready:  a.config.Ledger.Ready(),
		Loaded: a.config.Campaigns.Status().Loaded,
	}
	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (a *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse(a.config.Campaigns.Status()))
}

func (a *API) handleDismissError(w http.ResponseWriter, _ *http.Request) {
	a.config.Campaigns.DismissError()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleReload(w http.ResponseWriter, _ *http.Request) {
	if !a.config.Ledger.Ready() {
		writeError(w, http.StatusServiceUnavailable, "contract not found yet")
		return
	}
	a.config.Ledger.Reload()
	w.WriteHeader(http.StatusAccepted)
}

// handleCampaigns lists one collection in id order. status is active
// (default) or closed.
func (a *API) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	params, err := ParsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var campaigns []ledger.Campaign
	switch r.URL.Query().Get("status") {
	case "", "active":
		campaigns = a.config.Campaigns.Active()
	case "closed":
		campaigns = a.config.Campaigns.Closed()
	default:
		writeError(w, http.StatusBadRequest, "status must be active or closed")
		return
	}
	now := a.config.Now()
	page := Apply(campaigns, params)
	resp := make([]CampaignResponse, 0, len(page))
	for _, c := range page {
		resp = append(resp, campaignResponse(c, now))
	}
	SetPaginationHeaders(w, len(campaigns), params)
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, found := a.config.Campaigns.Get(id)
	if !found {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	writeJSON(w, http.StatusOK, campaignResponse(c, a.config.Now()))
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, found := a.config.Campaigns.Get(id); !found {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	history, err := a.config.Ledger.FundingHistory(r.Context(), id)
	if err != nil {
		a.writeLedgerError(w, "read funding history", err)
		return
	}
	resp := make([]FundingResponse, 0, len(history))
	for _, f := range history {
		resp = append(resp, fundingResponse(f))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleMetadata(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, found := a.config.Campaigns.Get(id)
	if !found {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if a.config.Metadata == nil {
		writeJSON(w, http.StatusOK, metadata.Placeholders())
		return
	}
	writeJSON(w, http.StatusOK, a.config.Metadata.Lookup(r.Context(), c.MetadataRef))
}

func (a *API) handleQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	quote, err := a.config.Ledger.WithdrawQuote(r.Context(), id)
	if err != nil {
		a.writeLedgerError(w, "quote withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse(quote))
}

func (a *API) handleDetail(w http.ResponseWriter, _ *http.Request) {
	c, ok := a.config.Campaigns.Detail()
	if !ok {
		writeError(w, http.StatusNotFound, "no campaign open")
		return
	}
	writeJSON(w, http.StatusOK, campaignResponse(c, a.config.Now()))
}

func (a *API) handleOpenDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.config.Campaigns.OpenDetail(id); err != nil {
		if errors.Is(err, state.ErrUnknownCampaign) {
			writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	a.handleDetail(w, r)
}

func (a *API) handleCloseDetail(w http.ResponseWriter, _ *http.Request) {
	a.config.Campaigns.CloseDetail()
	w.WriteHeader(http.StatusNoContent)
}
