package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/the-pines/frog/internal/app/domain/payment"
	"github.com/the-pines/frog/internal/app/domain/user"
	"github.com/the-pines/frog/internal/app/services/points"
	"github.com/the-pines/frog/internal/errors"
	"github.com/the-pines/frog/internal/httputil"
)

// Transaction history paging.
const (
	defaultTransactionLimit = 20
	maxTransactionLimit     = 100
)

type executePaymentRequest struct {
	PaymentID string `json:"paymentId" validate:"required,uuid"`
}

func (h *handler) executePayment(w http.ResponseWriter, r *http.Request) {
	var req executePaymentRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	res, err := h.app.Payments.Execute(r.Context(), req.PaymentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"txHash": res.TxHash,
	})
}

type transferResponse struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Amount    string    `json:"amount"`
	Symbol    string    `json:"symbol"`
	Decimals  uint8     `json:"decimals"`
	TxHash    string    `json:"txHash"`
	CreatedAt time.Time `json:"createdAt"`
}

func toTransferResponse(tr payment.Transfer) transferResponse {
	amount := "0"
	if tr.Amount != nil {
		amount = tr.Amount.String()
	}
	return transferResponse{
		ID:        tr.ID,
		Sender:    tr.Sender,
		Receiver:  tr.Receiver,
		Amount:    amount,
		Symbol:    tr.Symbol,
		Decimals:  tr.Decimals,
		TxHash:    tr.TxHash,
		CreatedAt: tr.CreatedAt,
	}
}

func (h *handler) getTransactions(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if !httputil.IsAddress(address) {
		httputil.BadRequest(w, "Missing or invalid address")
		return
	}
	limit := queryInt(r, "limit", defaultTransactionLimit)
	if limit <= 0 {
		limit = defaultTransactionLimit
	}
	if limit > maxTransactionLimit {
		limit = maxTransactionLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	transfers, err := h.app.Payments.ListTransactions(r.Context(), address, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]transferResponse, 0, len(transfers))
	for _, tr := range transfers {
		out = append(out, toTransferResponse(tr))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":           true,
		"address":      address,
		"limit":        limit,
		"offset":       offset,
		"transactions": out,
	})
}

type pointsEntryResponse struct {
	Address string `json:"address"`
	Points  string `json:"points"`
}

func (h *handler) getPoints(w http.ResponseWriter, r *http.Request) {
	owner, ok := queryAddress(r, "address")
	if !ok {
		httputil.BadRequest(w, "Missing or invalid address")
		return
	}
	if h.app.Points == nil {
		h.writeError(w, r, errors.Internal("Points token address not configured", nil))
		return
	}

	summary, err := h.app.Points.Summary(r.Context(), owner, queryInt(r, "limit", points.DefaultLimit))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	board := make([]pointsEntryResponse, 0, len(summary.Leaderboard))
	for _, e := range summary.Leaderboard {
		board = append(board, pointsEntryResponse{Address: e.Address.Hex(), Points: e.Points.String()})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":          true,
		"symbol":      summary.Symbol,
		"decimals":    summary.Decimals,
		"balance":     summary.Balance.String(),
		"leaderboard": board,
	})
}

type getUserCardRequest struct {
	Address string `json:"address" validate:"required,evmaddr"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"createdAt"`
}

func toUserResponse(u user.User) userResponse {
	return userResponse{ID: u.ID, Name: u.Name, Address: u.Address, Provider: u.Provider, CreatedAt: u.CreatedAt}
}

type cardDetailsResponse struct {
	DisplayName string `json:"displayName"`
	Expiry      string `json:"expiry"`
	Number      string `json:"number"`
	CVC         string `json:"cvc"`
}

type userCardResponse struct {
	Name string              `json:"name"`
	Card cardDetailsResponse `json:"card"`
}

func (h *handler) getUserCard(w http.ResponseWriter, r *http.Request) {
	var req getUserCardRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	uc, err := h.app.Cards.GetUserCard(r.Context(), req.Address)
	if se := errors.GetServiceError(err); se != nil && se.HTTPStatus == http.StatusNotFound {
		httputil.WriteJSON(w, http.StatusNotFound, map[string]interface{}{"user": nil, "card": nil})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if uc.Card == nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"user": toUserResponse(uc.User),
			"card": nil,
		})
		return
	}

	// Card details are returned to the cardholder and never logged.
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user": userCardResponse{
			Name: uc.User.Name,
			Card: cardDetailsResponse{
				DisplayName: uc.Card.DisplayName,
				Expiry:      uc.Card.Expiry(),
				Number:      uc.Card.Number,
				CVC:         uc.Card.CVC,
			},
		},
	})
}
