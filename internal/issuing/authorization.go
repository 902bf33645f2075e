package issuing

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultMerchantName is stored when the network omits the merchant name.
const DefaultMerchantName = "no_name"

// PendingRequest is the amount awaiting an approve/decline decision.
type PendingRequest struct {
	Amount           int64
	Currency         string
	MerchantAmount   int64
	MerchantCurrency string
}

// Authorization is the subset of an issuing authorization frog reads.
// Currencies are upper-cased.
type Authorization struct {
	ID               string
	CardID           string
	Amount           int64
	Currency         string
	Approved         bool
	MerchantName     string
	MerchantAmount   int64
	MerchantCurrency string
	PendingRequest   *PendingRequest
}

// ParseAuthorization decodes an issuing authorization object.
func ParseAuthorization(raw []byte) (*Authorization, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("authorization object is not valid JSON")
	}
	obj := gjson.ParseBytes(raw)

	id := obj.Get("id").String()
	if id == "" {
		return nil, fmt.Errorf("authorization id missing")
	}

	// card is an expanded object on authorization events, an id otherwise
	card := obj.Get("card")
	cardID := card.Get("id").String()
	if card.Type == gjson.String {
		cardID = card.String()
	}

	merchant := obj.Get("merchant_data.name").String()
	if merchant == "" {
		merchant = DefaultMerchantName
	}

	auth := &Authorization{
		ID:               id,
		CardID:           cardID,
		Amount:           obj.Get("amount").Int(),
		Currency:         upper(obj.Get("currency")),
		Approved:         obj.Get("approved").Bool(),
		MerchantName:     merchant,
		MerchantAmount:   obj.Get("merchant_amount").Int(),
		MerchantCurrency: upper(obj.Get("merchant_currency")),
	}

	if pending := obj.Get("pending_request"); pending.IsObject() {
		auth.PendingRequest = &PendingRequest{
			Amount:           pending.Get("amount").Int(),
			Currency:         upper(pending.Get("currency")),
			MerchantAmount:   pending.Get("merchant_amount").Int(),
			MerchantCurrency: upper(pending.Get("merchant_currency")),
		}
	}
	return auth, nil
}

func upper(r gjson.Result) string {
	return strings.ToUpper(r.String())
}
