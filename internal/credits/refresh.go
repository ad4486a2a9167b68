package credits

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/bigbear0079/jimeng-pool/internal/ledger"
	"github.com/bigbear0079/jimeng-pool/internal/model"
	"github.com/bigbear0079/jimeng-pool/internal/recorder"
)

// InvalidCredits is returned by RefreshOne when the credential is invalid or
// the upstream is unreachable.
const InvalidCredits = -1

// RefreshResult reports the outcome of refreshing one account.
type RefreshResult struct {
	ID      int
	Credits int
	Valid   bool
}

// Refresher drives the credit refresh protocol for ledger accounts.
type Refresher struct {
	Store    *ledger.Store
	Gateway  Gateway
	Recorder recorder.Recorder // optional refresh history
}

// NewRefresher creates a Refresher.
func NewRefresher(store *ledger.Store, gw Gateway) *Refresher {
	return &Refresher{Store: store, Gateway: gw}
}

func (r *Refresher) logRefresh(id int, bundle model.CreditBundle, valid bool) {
	if r.Recorder == nil {
		return
	}
	if err := r.Recorder.RecordCreditLog(&recorder.CreditLog{
		AccountID:      id,
		Credits:        bundle.Total,
		GiftCredit:     bundle.Gift,
		PurchaseCredit: bundle.Purchase,
		VIPCredit:      bundle.VIP,
		Valid:          valid,
	}); err != nil {
		log.Printf("[ERROR] record credit log: %v", err)
	}
}

// RefreshOne queries the current balance for one credential and writes the
// result into the ledger as a full record replacement. When the reported
// total is zero it claims the daily grant once and uses that result if the
// claim yields a positive total. Returns the resulting total, or
// InvalidCredits when the credential is rejected or unreachable, in which
// case the ledger is left untouched.
//
// The replacement overwrites every credit field, re-derives the region from
// the token prefix, and sets the email to the supplied value even when that
// value is empty. Overwriting a previously stored email this way matches the
// long-standing observed behavior of this protocol.
func (r *Refresher) RefreshOne(ctx context.Context, id int, token, email string) (int, error) {
	state, err := r.Store.Load()
	if err != nil {
		return InvalidCredits, err
	}
	if _, err := r.Store.CheckAndResetDaily(state); err != nil {
		return InvalidCredits, err
	}

	bundle, ok := r.Gateway.Points(ctx, token)
	if !ok {
		log.Printf("[account %d] token invalid or points query failed", id)
		r.logRefresh(id, model.CreditBundle{}, false)
		return InvalidCredits, nil
	}

	if bundle.Total == 0 {
		log.Printf("[account %d] zero balance, claiming daily credits", id)
		claimed, claimOK := r.Gateway.Claim(ctx, token)
		if claimOK && claimed.Total > 0 {
			log.Printf("[account %d] daily claim succeeded", id)
			bundle = claimed
		} else {
			log.Printf("[account %d] daily claim failed or nothing to claim", id)
		}
	}

	region, _ := model.ParseToken(token)
	rec := model.AccountRecord{
		Credits:        bundle.Total,
		GiftCredit:     bundle.Gift,
		PurchaseCredit: bundle.Purchase,
		VIPCredit:      bundle.VIP,
		Email:          email,
		Region:         region,
		LastUpdate:     time.Now().Format(time.RFC3339),
		Token:          model.TruncateToken(token),
	}
	if err := r.Store.PutAccount(id, rec); err != nil {
		return InvalidCredits, err
	}

	log.Printf("[account %d] credits: %d (gift:%d, purchase:%d, vip:%d)",
		id, bundle.Total, bundle.Gift, bundle.Purchase, bundle.VIP)
	r.logRefresh(id, bundle, true)
	return bundle.Total, nil
}

// RefreshAll refreshes every configured account in ascending id order.
func (r *Refresher) RefreshAll(ctx context.Context, accounts map[int]model.EnvAccount) []RefreshResult {
	ids := make([]int, 0, len(accounts))
	for id := range accounts {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	results := make([]RefreshResult, 0, len(ids))
	for _, id := range ids {
		log.Printf("[INFO] refreshing account %d", id)
		credits, err := r.RefreshOne(ctx, id, accounts[id].Token, "")
		if err != nil {
			log.Printf("[ERROR] refresh account %d: %v", id, err)
			credits = InvalidCredits
		}
		results = append(results, RefreshResult{
			ID:      id,
			Credits: credits,
			Valid:   credits >= 0,
		})
	}
	return results
}
