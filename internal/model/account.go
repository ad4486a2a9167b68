package model

import (
	"strings"
	"time"
)

// Supported service regions. International regions carry a token prefix
// ("us-..."); the cn region token is the bare session id.
const (
	RegionUS = "us"
	RegionHK = "hk"
	RegionJP = "jp"
	RegionSG = "sg"
	RegionCN = "cn"
)

var regionPrefixes = []string{RegionUS, RegionHK, RegionJP, RegionSG}

// ParseToken splits a composite token into (region, sessionID).
// Tokens without a recognized prefix belong to the cn region.
func ParseToken(token string) (region, sessionID string) {
	token = strings.TrimSpace(token)
	lower := strings.ToLower(token)
	for _, r := range regionPrefixes {
		if strings.HasPrefix(lower, r+"-") {
			return r, token[len(r)+1:]
		}
	}
	return RegionCN, token
}

// CompositeToken prepends the region prefix to a session id. The cn region
// has no prefix.
func CompositeToken(region, sessionID string) string {
	if region == "" || region == RegionCN {
		return sessionID
	}
	return region + "-" + sessionID
}

// TruncateToken returns the display form of a token as stored in the
// ledger snapshot. The full secret is never persisted.
func TruncateToken(token string) string {
	if len(token) <= 25 {
		return token
	}
	return token[:25] + "..."
}

// CreditBundle holds the credit components reported by the commerce API.
type CreditBundle struct {
	Gift     int `json:"giftCredit"`
	Purchase int `json:"purchaseCredit"`
	VIP      int `json:"vipCredit"`
	Total    int `json:"totalCredit"`
}

// AccountRecord is one entry in the persisted ledger snapshot.
type AccountRecord struct {
	Credits        int    `json:"credits"`
	GiftCredit     int    `json:"gift_credit"`
	PurchaseCredit int    `json:"purchase_credit"`
	VIPCredit      int    `json:"vip_credit"`
	Email          string `json:"email,omitempty"`
	Region         string `json:"region"`
	LastUpdate     string `json:"last_update"`
	Token          string `json:"token"` // truncated display form only
}

// LedgerState is the full persisted snapshot. Account ids are stored as
// decimal strings to match the on-disk JSON shape.
type LedgerState struct {
	Accounts      *AccountMap `json:"accounts"`
	LastResetDate string      `json:"last_reset_date"`
}

// NewLedgerState returns the empty default state used when no snapshot
// exists on disk.
func NewLedgerState() *LedgerState {
	return &LedgerState{Accounts: NewAccountMap()}
}

// AccountStatus values derived by ListAccounts.
const (
	StatusAvailable  = "available"
	StatusLowCredits = "low_credits"
)

// AccountView is the sorted listing form of an account with its derived
// availability status.
type AccountView struct {
	ID             int    `json:"id"`
	Credits        int    `json:"credits"`
	GiftCredit     int    `json:"gift_credit"`
	PurchaseCredit int    `json:"purchase_credit"`
	VIPCredit      int    `json:"vip_credit"`
	Email          string `json:"email"`
	Region         string `json:"region"`
	LastUpdate     string `json:"last_update"`
	Status         string `json:"status"`
}

// Outcome is the terminal state of one acquisition worker.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeTimeout Outcome = "timeout"
	OutcomeAbort   Outcome = "abort"
)

// AcquisitionResult is the normalized output of one login-flow worker.
type AcquisitionResult struct {
	SessionID string
	Region    string
	Token     string // region-prefixed composite token
	Cookies   map[string]string
	Email     string
	Outcome   Outcome
	Verified  bool
	Elapsed   time.Duration
}

// EnvAccount is one credential from the environment-provided account map.
type EnvAccount struct {
	Token  string
	Region string
}
