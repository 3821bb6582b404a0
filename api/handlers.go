// Copyright 2025 Blink Labs Software
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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/blinklabs-io/auctioneer/fanout"
	"github.com/blinklabs-io/auctioneer/ledger"
	"github.com/blinklabs-io/auctioneer/sequencer"
	"github.com/blinklabs-io/auctioneer/state"
	"github.com/blinklabs-io/auctioneer/verifier"
	"github.com/gorilla/mux"
)

const defaultChannel = "web"

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

// writeServiceError maps an error from the core to a status code
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var validationErr sequencer.ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			StatusCode: http.StatusBadRequest,
			Error:      http.StatusText(http.StatusBadRequest),
			Message:    validationErr.Error(),
			Field:      validationErr.Field,
		})
	case errors.Is(err, ledger.ErrInvalidAuctionID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sequencer.ErrAuctionNotFound),
		errors.Is(err, sequencer.ErrBidNotFound),
		errors.Is(err, sequencer.ErrAutoBidNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sequencer.ErrAuctionExists),
		errors.Is(err, sequencer.ErrInvalidTransition),
		errors.Is(err, sequencer.ErrAuctionNotActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, sequencer.ErrRateLimited),
		errors.Is(err, fanout.ErrTooManySubscribers):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, sequencer.ErrLedgerWrite):
		s.logger.Error("ledger write failed", "error", err)
		w.Header().Set("Retry-After", "1")
		writeError(
			w,
			http.StatusServiceUnavailable,
			"bid could not be recorded, retry",
		)
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return sequencer.NewValidationError(
			"body",
			fmt.Sprintf("invalid JSON: %s", err),
		)
	}
	return nil
}

func queryUint(r *http.Request, name string) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	ret, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, sequencer.NewValidationError(name, "must be an unsigned integer")
	}
	return ret, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	tmp, err := queryUint(r, name)
	if err != nil {
		return 0, err
	}
	if tmp > math.MaxInt32 {
		return 0, sequencer.NewValidationError(name, "too large")
	}
	return int(tmp), nil //nolint:gosec
}

func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"healthy":  true,
		"auctions": len(s.sequencer.State().List()),
	})
}

func (s *Server) handleSubmitBid(w http.ResponseWriter, r *http.Request) {
	var body SubmitBidRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeServiceError(w, err)
		return
	}
	channel := body.Channel
	if channel == "" {
		channel = defaultChannel
	}
	evt, err := s.sequencer.SubmitBid(r.Context(), sequencer.BidRequest{
		AuctionID:  mux.Vars(r)["id"],
		BidderID:   body.BidderID,
		Amount:     body.BidAmount,
		ClientTime: body.ClientTs,
		Channel:    channel,
		SessionID:  body.SessionID,
		IPAddr:     remoteIP(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	resp := SubmitBidResponse{
		Status:     "accepted",
		ReasonCode: evt.ReasonCode,
		ServerSeq:  evt.Seq,
		BidID:      evt.BidID,
	}
	if !evt.Accepted() {
		resp.Status = "rejected"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetAutoBid(w http.ResponseWriter, r *http.Request) {
	var body AutoBidRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeServiceError(w, err)
		return
	}
	vars := mux.Vars(r)
	autoBid, err := s.sequencer.SetAutoBid(r.Context(), sequencer.AutoBidSpec{
		AuctionID: vars["id"],
		BidderID:  vars["bidder"],
		Increment: body.Increment,
		Maximum:   body.Maximum,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, autoBidResponse(autoBid))
}

func (s *Server) handleGetAutoBid(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	autoBid, err := s.sequencer.AutoBid(vars["id"], vars["bidder"])
	if errors.Is(err, sequencer.ErrAutoBidNotFound) {
		writeJSON(w, http.StatusOK, AutoBidResponse{
			AuctionID: vars["id"],
			BidderID:  vars["bidder"],
		})
		return
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, autoBidResponse(autoBid))
}

func (s *Server) handleCancelAutoBid(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	err := s.sequencer.CancelAutoBid(r.Context(), vars["id"], vars["bidder"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateAuction(w http.ResponseWriter, r *http.Request) {
	var body CreateAuctionRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeServiceError(w, err)
		return
	}
	snap, err := s.sequencer.CreateAuction(r.Context(), sequencer.AuctionSpec{
		ID:            body.ID,
		SellerID:      body.SellerID,
		Currency:      body.Currency,
		StartingPrice: body.StartingPrice,
		MinIncrement:  body.MinIncrement,
		EndsAt:        body.EndsAt,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, auctionResponse(*snap))
}

func (s *Server) handleListAuctions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	snaps := s.sequencer.State().List()
	ret := make([]AuctionResponse, 0, len(snaps))
	for _, snap := range snaps {
		if status != "" && string(snap.Status) != status {
			continue
		}
		ret = append(ret, auctionResponse(snap))
	}
	writeJSON(w, http.StatusOK, ret)
}

func (s *Server) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.sequencer.State().Get(mux.Vars(r)["id"])
	if !ok {
		s.writeServiceError(w, sequencer.ErrAuctionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, auctionResponse(snap))
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	auctionID := vars["id"]
	var fn func(context.Context, string) (*state.Snapshot, error)
	switch vars["action"] {
	case "open":
		fn = s.sequencer.OpenAuction
	case "pause":
		fn = s.sequencer.PauseAuction
	case "resume":
		fn = s.sequencer.ResumeAuction
	case "close":
		fn = s.sequencer.CloseAuction
	}
	snap, err := fn(r.Context(), auctionID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auctionResponse(*snap))
}

func (s *Server) handleStatusHistory(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]
	if _, ok := s.sequencer.State().Get(auctionID); !ok {
		s.writeServiceError(w, sequencer.ErrAuctionNotFound)
		return
	}
	changes, err := s.sequencer.StatusHistory(auctionID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	ret := make([]StatusChangeResponse, 0, len(changes))
	for _, change := range changes {
		ret = append(ret, StatusChangeResponse{
			From:      change.FromStatus,
			To:        change.ToStatus,
			Reason:    change.Reason,
			AtSeq:     change.AtSeq,
			ChangedAt: change.ChangedAt,
		})
	}
	writeJSON(w, http.StatusOK, ret)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	entries, err := s.sequencer.Leaderboard(mux.Vars(r)["id"], limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, leaderboardResponse(entries))
}

func (s *Server) handleLatestBids(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	events, err := s.sequencer.LatestBids(mux.Vars(r)["id"], limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auditRecords(events))
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	fromSeq, err := queryUint(r, "from_seq")
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	toSeq, err := queryUint(r, "to_seq")
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	records, err := s.sequencer.AuditLog(
		r.Context(),
		mux.Vars(r)["id"],
		fromSeq,
		toSeq,
	)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]
	if _, ok := s.sequencer.State().Get(auctionID); !ok {
		s.writeServiceError(w, sequencer.ErrAuctionNotFound)
		return
	}
	res, err := verifier.Verify(r.Context(), s.sequencer.Ledger(), auctionID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse(res))
}

func (s *Server) handleBidStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.sequencer.BidStatus(mux.Vars(r)["bid_id"])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BidStatusResponse{
		Event:   status.Event.AuditRecord(),
		Leading: status.Leading,
	})
}

func (s *Server) handleBidderHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	events, err := s.sequencer.BidderHistory(mux.Vars(r)["id"], limit, offset)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auditRecords(events))
}
