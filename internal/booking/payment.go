package booking

import (
	"net/url"
	"strconv"
)

// PaymentLinker builds the external payment handoff URL.
type PaymentLinker struct {
	BaseURL  string
	Currency string
}

// URL carries amount, currency and the reservation id as the correlation token.
func (p PaymentLinker) URL(r *Reservation) string {
	q := url.Values{}
	q.Set("amount", strconv.FormatInt(r.TotalAmount, 10))
	q.Set("currency", p.Currency)
	q.Set("booking", r.ID)
	return p.BaseURL + "?" + q.Encode()
}
