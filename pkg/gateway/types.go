package gateway

import (
	"encoding/json"
	"time"
)

// Gateway charge statuses as reported by verify and webhook payloads.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
	StatusReversed  = "reversed"
	StatusPending   = "pending"
	StatusOngoing   = "ongoing"
)

// ChargeRequest initializes a hosted checkout.
type ChargeRequest struct {
	Email       string
	AmountMinor int64
	Reference   string
	Currency    string
	CallbackURL string
	Channels    []string
	Split       *SplitPlan
	Metadata    map[string]any
}

// SplitPlan routes shares of one charge to supplier subaccounts.
type SplitPlan struct {
	Type        string       `json:"type"`
	BearerType  string       `json:"bearer_type"`
	Subaccounts []SplitShare `json:"subaccounts"`
}

// SplitShare is one subaccount's weight in a split plan.
type SplitShare struct {
	Subaccount string `json:"subaccount"`
	Share      int64  `json:"share"`
}

type initializeBody struct {
	Email       string         `json:"email"`
	Amount      int64          `json:"amount"`
	Reference   string         `json:"reference"`
	Currency    string         `json:"currency,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Channels    []string       `json:"channels,omitempty"`
	Split       *SplitPlan     `json:"split,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ChargeSession is the hosted checkout the customer is redirected to.
type ChargeSession struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

// ChargeData is the charge object shared by verify responses and webhooks.
type ChargeData struct {
	Reference string     `json:"reference"`
	Status    string     `json:"status"`
	Amount    int64      `json:"amount"`
	Fees      *int64     `json:"fees"`
	Currency  string     `json:"currency"`
	Channel   string     `json:"channel"`
	PaidAt    *time.Time `json:"paid_at"`
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
	Authorization struct {
		CountryCode string `json:"country_code"`
	} `json:"authorization"`
}

// Verification converts the wire object into the normalized result.
func (d ChargeData) Verification() *Verification {
	return &Verification{
		Reference:     d.Reference,
		Status:        d.Status,
		AmountMinor:   d.Amount,
		FeeMinor:      d.Fees,
		Currency:      d.Currency,
		Channel:       d.Channel,
		PaidAt:        d.PaidAt,
		CountryCode:   d.Authorization.CountryCode,
		CustomerEmail: d.Customer.Email,
	}
}

// Verification is the gateway's authoritative view of a charge.
type Verification struct {
	Reference     string
	Status        string
	AmountMinor   int64
	FeeMinor      *int64
	Currency      string
	Channel       string
	PaidAt        *time.Time
	CountryCode   string
	CustomerEmail string
	Raw           json.RawMessage
}

// RecipientRequest registers a payout destination.
type RecipientRequest struct {
	Name          string
	AccountNumber string
	BankCode      string
	Currency      string
}

// TransferRequest moves money to a recipient.
type TransferRequest struct {
	AmountMinor   int64
	RecipientCode string
	Reference     string
	Reason        string
	Currency      string
}

// Transfer is the gateway's acknowledgement of a transfer.
type Transfer struct {
	TransferCode string
	Status       string
	Reference    string
}
