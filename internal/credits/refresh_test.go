package credits

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bigbear0079/jimeng-pool/internal/ledger"
	"github.com/bigbear0079/jimeng-pool/internal/model"
)

// fakeGateway returns scripted results for each capability.
type fakeGateway struct {
	points   model.CreditBundle
	pointsOK bool
	claim    model.CreditBundle
	claimOK  bool
	userID   string
	whoamiOK bool

	claimCalls int
}

func (f *fakeGateway) Points(_ context.Context, _ string) (model.CreditBundle, bool) {
	return f.points, f.pointsOK
}

func (f *fakeGateway) Claim(_ context.Context, _ string) (model.CreditBundle, bool) {
	f.claimCalls++
	return f.claim, f.claimOK
}

func (f *fakeGateway) WhoAmI(_ context.Context, _ string) (string, bool) {
	return f.userID, f.whoamiOK
}

func newRefresher(t *testing.T, gw Gateway) *Refresher {
	t.Helper()
	store := ledger.NewStore(filepath.Join(t.TempDir(), "accounts.json"))
	return NewRefresher(store, gw)
}

func TestRefreshOne_WritesFullRecord(t *testing.T) {
	gw := &fakeGateway{
		points:   model.CreditBundle{Gift: 5, Purchase: 2, VIP: 1, Total: 8},
		pointsOK: true,
	}
	r := newRefresher(t, gw)

	total, err := r.RefreshOne(context.Background(), 1, "us-abcdefghijklmnopqrstuvwxyz123456", "a@b.c")
	if err != nil {
		t.Fatal(err)
	}
	if total != 8 {
		t.Fatalf("expected total 8, got %d", total)
	}

	state, err := r.Store.Load()
	if err != nil {
		t.Fatal(err)
	}
	rec, ok := state.Accounts.Get("1")
	if !ok {
		t.Fatal("account 1 not persisted")
	}
	if rec.Credits != 8 || rec.GiftCredit != 5 || rec.PurchaseCredit != 2 || rec.VIPCredit != 1 {
		t.Errorf("credit fields wrong: %+v", rec)
	}
	if rec.Region != model.RegionUS {
		t.Errorf("expected region us, got %q", rec.Region)
	}
	if rec.Email != "a@b.c" {
		t.Errorf("expected email set, got %q", rec.Email)
	}
	if rec.Token != "us-abcdefghijklmnopqrstuv..." {
		t.Errorf("expected truncated token in snapshot, got %q", rec.Token)
	}
}

func TestRefreshOne_InvalidLeavesLedgerUntouched(t *testing.T) {
	gw := &fakeGateway{pointsOK: false}
	r := newRefresher(t, gw)

	total, err := r.RefreshOne(context.Background(), 3, "us-token", "")
	if err != nil {
		t.Fatal(err)
	}
	if total != InvalidCredits {
		t.Errorf("expected %d sentinel, got %d", InvalidCredits, total)
	}
	state, _ := r.Store.Load()
	if state.Accounts.Len() != 0 {
		t.Error("ledger must stay untouched on invalid credential")
	}
}

func TestRefreshOne_ClaimFallbackOnZero(t *testing.T) {
	gw := &fakeGateway{
		points:   model.CreditBundle{Total: 0},
		pointsOK: true,
		claim:    model.CreditBundle{Gift: 15, Total: 15},
		claimOK:  true,
	}
	r := newRefresher(t, gw)

	total, err := r.RefreshOne(context.Background(), 2, "hk-sessionvalue", "")
	if err != nil {
		t.Fatal(err)
	}
	if total != 15 {
		t.Errorf("expected claimed total 15, got %d", total)
	}
	if gw.claimCalls != 1 {
		t.Errorf("expected exactly one claim call, got %d", gw.claimCalls)
	}
	state, _ := r.Store.Load()
	rec, _ := state.Accounts.Get("2")
	if rec.Credits != 15 {
		t.Errorf("expected ledger balance 15, got %d", rec.Credits)
	}
	if rec.Region != model.RegionHK {
		t.Errorf("expected region hk, got %q", rec.Region)
	}
}

func TestRefreshOne_FailedClaimKeepsZero(t *testing.T) {
	gw := &fakeGateway{
		points:   model.CreditBundle{Total: 0},
		pointsOK: true,
		claimOK:  false,
	}
	r := newRefresher(t, gw)

	total, err := r.RefreshOne(context.Background(), 2, "tokenwithoutprefix", "")
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Errorf("expected 0, got %d", total)
	}
	state, _ := r.Store.Load()
	rec, _ := state.Accounts.Get("2")
	if rec.Region != model.RegionCN {
		t.Errorf("unprefixed token should map to cn, got %q", rec.Region)
	}
}

func TestRefreshOne_OverwritesStoredEmail(t *testing.T) {
	gw := &fakeGateway{
		points:   model.CreditBundle{Total: 4},
		pointsOK: true,
	}
	r := newRefresher(t, gw)

	if _, err := r.RefreshOne(context.Background(), 1, "us-tok", "kept@mail.test"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.RefreshOne(context.Background(), 1, "us-tok", ""); err != nil {
		t.Fatal(err)
	}
	state, _ := r.Store.Load()
	rec, _ := state.Accounts.Get("1")
	if rec.Email != "" {
		t.Errorf("refresh is a full replace; expected email cleared, got %q", rec.Email)
	}
}

func TestRefreshAll_ReportsPerAccountValidity(t *testing.T) {
	gw := &fakeGateway{
		points:   model.CreditBundle{Total: 6},
		pointsOK: true,
	}
	r := newRefresher(t, gw)

	results := r.RefreshAll(context.Background(), map[int]model.EnvAccount{
		2: {Token: "us-two", Region: "us"},
		1: {Token: "us-one", Region: "us"},
	})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != 1 || results[1].ID != 2 {
		t.Errorf("expected ascending id order, got %d then %d", results[0].ID, results[1].ID)
	}
	for _, res := range results {
		if !res.Valid || res.Credits != 6 {
			t.Errorf("result %+v not valid with 6 credits", res)
		}
	}
}
