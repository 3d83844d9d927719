package httpservice

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/arkade-os/escrowd/internal/core/application"
	"github.com/arkade-os/escrowd/internal/core/ports"
	"github.com/arkade-os/escrowd/pkg/errors"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const maxBodySize = 1 << 16

type handler struct {
	svc application.Service
}

func newHandler(svc application.Service) *handler {
	return &handler{svc}
}

type inboundMessageRequest struct {
	RequesterId string `json:"requester_id"`
	Text        string `json:"text"`
	Reaction    string `json:"reaction"`
	Timestamp   int64  `json:"timestamp"`
}

type replyResponse struct {
	Text string `json:"text"`
}

func (h *handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req inboundMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	reply, err := h.svc.HandleMessage(r.Context(), ports.InboundMessage{
		RequesterId: req.RequesterId,
		Text:        req.Text,
		Reaction:    req.Reaction,
		Timestamp:   req.Timestamp,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	// The link carries the claim token, it's only delivered through the messaging gateway.
	writeJSON(w, http.StatusOK, replyResponse{Text: reply.Text})
}

type sendRequest struct {
	RequesterPhone string          `json:"requester_phone"`
	RecipientPhone string          `json:"recipient_phone"`
	Amount         decimal.Decimal `json:"amount"`
}

type proposalResponse struct {
	Kind           string `json:"kind"`
	RecipientPhone string `json:"recipient_phone"`
	Registered     bool   `json:"registered"`
	Amount         string `json:"amount"`
	FeeEstimate    string `json:"fee_estimate"`
	Total          string `json:"total"`
	ExpiresAt      int64  `json:"expires_at"`
	Prompt         string `json:"prompt"`
}

func (h *handler) requestSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	proposal, err := h.svc.RequestSend(r.Context(), application.SendRequest{
		RequesterPhone: req.RequesterPhone,
		RecipientPhone: req.RecipientPhone,
		Amount:         req.Amount,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProposalResponse(proposal))
}

type resolveRequest struct {
	Text     string `json:"text"`
	Reaction string `json:"reaction"`
}

type transferResponse struct {
	TxRef          string `json:"tx_ref"`
	RecipientPhone string `json:"recipient_phone"`
	Amount         string `json:"amount"`
	FeeEstimate    string `json:"fee_estimate"`
}

type holdResponse struct {
	ClaimId   string `json:"claim_id"`
	ClaimLink string `json:"claim_link"`
	HoldTxRef string `json:"hold_tx_ref"`
	ExpiresAt int64  `json:"expires_at"`
}

type resolutionResponse struct {
	Outcome  string            `json:"outcome"`
	Kind     string            `json:"kind,omitempty"`
	Transfer *transferResponse `json:"transfer,omitempty"`
	Hold     *holdResponse     `json:"hold,omitempty"`
	Proposal *proposalResponse `json:"proposal,omitempty"`
	Message  string            `json:"message"`
}

func (h *handler) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	resolution, err := h.svc.Resolve(r.Context(), chi.URLParam(r, "requester"), application.Signal{
		Text:     req.Text,
		Reaction: req.Reaction,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := resolutionResponse{
		Outcome: string(resolution.Outcome),
		Kind:    string(resolution.Kind),
		Message: resolution.Message,
	}
	if t := resolution.Transfer; t != nil {
		resp.Transfer = &transferResponse{
			TxRef:          t.TxRef,
			RecipientPhone: t.RecipientPhone,
			Amount:         t.Amount.String(),
			FeeEstimate:    t.FeeEstimate.String(),
		}
	}
	if hold := resolution.Hold; hold != nil {
		resp.Hold = &holdResponse{
			ClaimId:   hold.ClaimId,
			ClaimLink: hold.ClaimLink,
			HoldTxRef: hold.HoldTxRef,
			ExpiresAt: hold.ExpiresAt,
		}
	}
	if resolution.Proposal != nil {
		proposal := toProposalResponse(resolution.Proposal)
		resp.Proposal = &proposal
	}
	writeJSON(w, http.StatusOK, resp)
}

type claimRequest struct {
	Token          string `json:"token"`
	ClaimerPhone   string `json:"claimer_phone"`
	ClaimerAddress string `json:"claimer_address"`
}

type claimResponse struct {
	ClaimId       string `json:"claim_id"`
	TxRef         string `json:"tx_ref"`
	GasCost       string `json:"gas_cost"`
	SettledAmount string `json:"settled_amount"`
}

func (h *handler) claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.svc.ValidateAndClaim(r.Context(), application.ClaimRequest{
		Token:          req.Token,
		ClaimerPhone:   req.ClaimerPhone,
		ClaimerAddress: req.ClaimerAddress,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{
		ClaimId:       result.ClaimId,
		TxRef:         result.TxRef,
		GasCost:       result.GasCost.String(),
		SettledAmount: result.SettledAmount.String(),
	})
}

type claimInfoResponse struct {
	Id             string `json:"id"`
	SenderPhone    string `json:"sender_phone"`
	RecipientPhone string `json:"recipient_phone"`
	Amount         string `json:"amount"`
	Status         string `json:"status"`
	SettlementKind string `json:"settlement_kind,omitempty"`
	HoldTxRef      string `json:"hold_tx_ref,omitempty"`
	SettleTxRef    string `json:"settle_tx_ref,omitempty"`
	GasCost        string `json:"gas_cost"`
	SettledAmount  string `json:"settled_amount"`
	ErrorNote      string `json:"error_note,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	ExpiresAt      int64  `json:"expires_at"`
	UpdatedAt      int64  `json:"updated_at"`
	ClaimedAt      int64  `json:"claimed_at,omitempty"`
	RefundedAt     int64  `json:"refunded_at,omitempty"`
}

type listClaimsResponse struct {
	Claims []claimInfoResponse `json:"claims"`
}

func (h *handler) getClaim(w http.ResponseWriter, r *http.Request) {
	claim, err := h.svc.GetClaim(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimInfoResponse(*claim))
}

func (h *handler) listClaims(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone")
	if phone == "" {
		writeError(w, r, errors.INVALID_REQUEST.New("missing phone query parameter").
			WithMetadata(errors.InvalidFieldMetadata{Field: "phone"}))
		return
	}

	claims, err := h.svc.ListClaims(r.Context(), phone)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := listClaimsResponse{Claims: make([]claimInfoResponse, 0, len(claims))}
	for _, c := range claims {
		resp.Claims = append(resp.Claims, toClaimInfoResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

type registerAccountRequest struct {
	Phone string `json:"phone"`
}

type accountResponse struct {
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	CreatedAt int64  `json:"created_at"`
}

func (h *handler) registerAccount(w http.ResponseWriter, r *http.Request) {
	var req registerAccountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	account, err := h.svc.RegisterAccount(r.Context(), req.Phone)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		Phone:     account.Phone,
		Address:   account.Address,
		CreatedAt: account.CreatedAt,
	})
}

func decodeBody(r *http.Request, dst any) errors.Error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return errors.INVALID_REQUEST.New("invalid request body: %s", err).
			WithMetadata(errors.InvalidFieldMetadata{Field: "body"})
	}
	return nil
}

func toProposalResponse(p *application.Proposal) proposalResponse {
	return proposalResponse{
		Kind:           string(p.Kind),
		RecipientPhone: p.RecipientPhone,
		Registered:     p.Registered,
		Amount:         p.Amount.String(),
		FeeEstimate:    p.FeeEstimate.String(),
		Total:          p.Total.String(),
		ExpiresAt:      p.ExpiresAt,
		Prompt:         p.Prompt,
	}
}

func toClaimInfoResponse(c application.ClaimInfo) claimInfoResponse {
	return claimInfoResponse{
		Id:             c.Id,
		SenderPhone:    c.SenderPhone,
		RecipientPhone: c.RecipientPhone,
		Amount:         c.Amount.String(),
		Status:         string(c.Status),
		SettlementKind: string(c.SettlementKind),
		HoldTxRef:      c.HoldTxRef,
		SettleTxRef:    c.SettleTxRef,
		GasCost:        c.GasCost.String(),
		SettledAmount:  c.SettledAmount.String(),
		ErrorNote:      c.ErrorNote,
		CreatedAt:      c.CreatedAt,
		ExpiresAt:      c.ExpiresAt,
		UpdatedAt:      c.UpdatedAt,
		ClaimedAt:      c.ClaimedAt,
		RefundedAt:     c.RefundedAt,
	}
}
