package httpapi

import (
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/the-pines/frog/internal/app/services/vaults"
	"github.com/the-pines/frog/internal/errors"
	"github.com/the-pines/frog/internal/httputil"
)

const addressMessage = "must be a 0x-prefixed 20 byte address"

type tokenResponse struct {
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type vaultSummaryResponse struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	GoalWei         string        `json:"goalWei"`
	TotalWei        string        `json:"totalWei"`
	Token           tokenResponse `json:"token"`
	ProgressPercent float64       `json:"progressPercent"`
	TotalUSD        string        `json:"totalUsd"`
}

type positionResponse struct {
	Address   string `json:"address"`
	Shares    string `json:"shares"`
	Principal string `json:"principal"`
	Assets    string `json:"assets"`
	Profit    string `json:"profit"`
}

type vaultDetailResponse struct {
	Owner              string            `json:"owner"`
	FeeRecipient       string            `json:"feeRecipient"`
	FeeBps             uint16            `json:"feeBps"`
	UnlockTime         uint64            `json:"unlockTime"`
	WithdrawalsEnabled bool              `json:"withdrawalsEnabled"`
	CanWithdraw        bool              `json:"canWithdraw"`
	WSTETH             string            `json:"wsteth"`
	Name               string            `json:"name"`
	Token              tokenResponse     `json:"token"`
	GoalWstETH         string            `json:"goalWstETH"`
	TotalWstETHAssets  string            `json:"totalWstETHAssets"`
	User               *positionResponse `json:"user"`
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func invalidQuery(field string) *errors.ServiceError {
	return errors.BadRequest("Invalid query").WithDetails(field, addressMessage)
}

func (h *handler) listVaults(w http.ResponseWriter, r *http.Request) {
	owner, ok := queryAddress(r, "owner")
	if !ok {
		h.writeError(w, r, invalidQuery("owner"))
		return
	}

	list, err := h.app.Vaults.List(r.Context(), owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]vaultSummaryResponse, 0, len(list))
	for _, v := range list {
		out = append(out, vaultSummaryResponse{
			ID:              strings.ToLower(v.Address.Hex()),
			Name:            v.Name,
			GoalWei:         amount(v.Goal),
			TotalWei:        amount(v.Total),
			Token:           tokenResponse{Symbol: v.Token.Symbol, Decimals: v.Token.Decimals},
			ProgressPercent: v.ProgressPercent,
			TotalUSD:        v.TotalUSD,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"vaults": out})
}

func (h *handler) getVault(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(r)
	if !ok {
		httputil.BadRequest(w, "Invalid address")
		return
	}
	var owner *common.Address
	if raw := r.URL.Query().Get("owner"); raw != "" {
		o, ok := queryAddress(r, "owner")
		if !ok {
			h.writeError(w, r, invalidQuery("owner"))
			return
		}
		owner = &o
	}

	d, err := h.app.Vaults.Get(r.Context(), addr, owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := vaultDetailResponse{
		Owner:              d.Owner.Hex(),
		FeeRecipient:       d.FeeRecipient.Hex(),
		FeeBps:             d.FeeBps,
		UnlockTime:         d.UnlockTime,
		WithdrawalsEnabled: d.WithdrawalsEnabled,
		CanWithdraw:        d.CanWithdraw,
		WSTETH:             d.WSTETH.Hex(),
		Name:               d.Name,
		Token:              tokenResponse{Symbol: d.Token.Symbol, Decimals: d.Token.Decimals},
		GoalWstETH:         amount(d.Goal),
		TotalWstETHAssets:  amount(d.Total),
	}
	if d.User != nil {
		resp.User = &positionResponse{
			Address:   d.User.Address.Hex(),
			Shares:    amount(d.User.Shares),
			Principal: amount(d.User.Principal),
			Assets:    amount(d.User.Assets),
			Profit:    amount(d.User.Profit),
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type createVaultRequest struct {
	Owner   string `json:"owner" validate:"required,evmaddr"`
	GoalWei string `json:"goalWei" validate:"required,uintstr"`
	Name    string `json:"name" validate:"required,max=64"`
}

func (h *handler) createVault(w http.ResponseWriter, r *http.Request) {
	var req createVaultRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	goal, _ := httputil.ParseUint(req.GoalWei)

	res, err := h.app.Vaults.Create(r.Context(), vaults.CreateRequest{
		Owner:   common.HexToAddress(req.Owner),
		GoalWei: goal,
		Name:    strings.TrimSpace(req.Name),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"vault":  res.Vault.Hex(),
		"txHash": res.TxHash,
	})
}

type attachVaultRequest struct {
	Owner   string `json:"owner" validate:"required,evmaddr"`
	Address string `json:"address" validate:"required,evmaddr"`
	Name    string `json:"name" validate:"required,max=64"`
}

func (h *handler) attachVault(w http.ResponseWriter, r *http.Request) {
	var req attachVaultRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	err := h.app.Vaults.Attach(r.Context(), vaults.AttachRequest{
		Owner:   common.HexToAddress(req.Owner),
		Address: common.HexToAddress(req.Address),
		Name:    strings.TrimSpace(req.Name),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

type depositVaultRequest struct {
	Owner     string   `json:"owner" validate:"required,evmaddr"`
	USDCMinor string   `json:"usdcMinor" validate:"required,posint"`
	Slippage  *float64 `json:"slippage" validate:"omitempty,gte=0,lte=0.2"`
}

func (h *handler) depositVault(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(r)
	if !ok {
		httputil.BadRequest(w, "Invalid vault")
		return
	}
	var req depositVaultRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	usdcMinor, _ := httputil.ParseUint(req.USDCMinor)
	slippage := vaults.DefaultSlippage
	if req.Slippage != nil {
		slippage = *req.Slippage
	}

	res, err := h.app.Vaults.Deposit(r.Context(), addr, vaults.DepositRequest{
		Owner:     common.HexToAddress(req.Owner),
		USDCMinor: usdcMinor,
		Slippage:  slippage,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"pulled":  amount(res.Pulled),
		"wstUsed": amount(res.WstUsed),
		"tx": map[string]string{
			"pullHash":    res.PullHash,
			"depositHash": res.DepositHash,
		},
	})
}

type withdrawVaultRequest struct {
	SharesToRedeem string `json:"sharesToRedeem" validate:"required,posint"`
	Router         string `json:"router" validate:"required,evmaddr"`
	SwapCalldata   string `json:"swapCalldata" validate:"required,hexdata"`
	MinEthOutWei   string `json:"minEthOutWei" validate:"required,posint"`
}

type stepResponse struct {
	To          string `json:"to"`
	Data        string `json:"data"`
	Value       string `json:"value"`
	Description string `json:"description"`
}

func (h *handler) withdrawVault(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(r)
	if !ok {
		httputil.BadRequest(w, "Invalid vault")
		return
	}
	var req withdrawVaultRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	shares, _ := httputil.ParseUint(req.SharesToRedeem)
	minOut, _ := httputil.ParseUint(req.MinEthOutWei)
	calldata, _ := hexutil.Decode(req.SwapCalldata)

	steps, err := h.app.Vaults.Withdraw(addr, vaults.WithdrawRequest{
		SharesToRedeem: shares,
		Router:         common.HexToAddress(req.Router),
		SwapCalldata:   calldata,
		MinEthOutWei:   minOut,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]stepResponse, 0, len(steps))
	for _, s := range steps {
		out = append(out, stepResponse{To: s.To.Hex(), Data: s.Data, Value: s.Value, Description: s.Description})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"steps": out})
}
