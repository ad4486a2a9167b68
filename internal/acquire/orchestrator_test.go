package acquire

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bigbear0079/jimeng-pool/internal/browser"
	"github.com/bigbear0079/jimeng-pool/internal/ledger"
	"github.com/bigbear0079/jimeng-pool/internal/mailbox"
	"github.com/bigbear0079/jimeng-pool/internal/model"
	"github.com/bigbear0079/jimeng-pool/internal/recorder"
	"github.com/bigbear0079/jimeng-pool/internal/slots"
)

// fakeFactory mints scripted sessions and tracks how many are live at once.
type fakeFactory struct {
	mu      sync.Mutex
	build   func() *fakeSession
	active  int
	peak    int
	onClose func()
}

// closeTrackingSession wraps a fakeSession so the factory sees teardown.
type closeTrackingSession struct {
	*fakeSession
	factory *fakeFactory
}

func (s *closeTrackingSession) Close() error {
	err := s.fakeSession.Close()
	s.factory.mu.Lock()
	s.factory.active--
	s.factory.mu.Unlock()
	if s.factory.onClose != nil {
		s.factory.onClose()
	}
	return err
}

func (f *fakeFactory) New(_ context.Context, _ browser.Options) (browser.Session, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.mu.Unlock()
	return &closeTrackingSession{fakeSession: f.build(), factory: f}, nil
}

type verifyGateway struct {
	userID string
	ok     bool
	calls  int
}

func (g *verifyGateway) Points(context.Context, string) (model.CreditBundle, bool) {
	return model.CreditBundle{}, false
}
func (g *verifyGateway) Claim(context.Context, string) (model.CreditBundle, bool) {
	return model.CreditBundle{}, false
}
func (g *verifyGateway) WhoAmI(context.Context, string) (string, bool) {
	g.calls++
	return g.userID, g.ok
}

type captureRecorder struct {
	mu     sync.Mutex
	events []recorder.AcquisitionEvent
}

func (r *captureRecorder) RecordAcquisition(ev *recorder.AcquisitionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *ev)
	return nil
}

func (r *captureRecorder) RecordCreditLog(*recorder.CreditLog) error { return nil }
func (r *captureRecorder) Close() error                              { return nil }

func successSession() *fakeSession {
	sess := newFakeSession()
	sess.exists[codePageSelector] = true
	sess.cookies["sessionid"] = testSessionID
	return sess
}

func newTestOrchestrator(t *testing.T, capacity int, build func() *fakeSession) (*Orchestrator, *ledger.Store, *fakeFactory) {
	t.Helper()
	shortDelays(t)

	store := ledger.NewStore(filepath.Join(t.TempDir(), "accounts.json"))
	factory := &fakeFactory{build: build}
	o := &Orchestrator{
		Slots:      slots.NewPool(capacity),
		Mailbox:    &fakeMail{inbox: mailbox.Inbox{Address: "x@tempmail.test", Token: "tok"}, code: "AB12CD"},
		Store:      store,
		NewSession: factory.New,
		LoginURL:   func(string) string { return "https://example.test/login" },
		Timeout:    5 * time.Second,
		AutoEmail:  true,
	}
	return o, store, factory
}

func TestAcquireSession_PersistsCredential(t *testing.T) {
	o, store, _ := newTestOrchestrator(t, 2, successSession)
	gw := &verifyGateway{userID: "9001", ok: true}
	rec := &captureRecorder{}
	o.Gateway = gw
	o.Recorder = rec

	res := o.AcquireSession(context.Background(), model.RegionUS, "")
	if res.Outcome != model.OutcomeSuccess {
		t.Fatalf("expected success, got %s", res.Outcome)
	}
	if !res.Verified {
		t.Error("verification should have succeeded")
	}
	if gw.calls != 1 {
		t.Errorf("expected one verification call, got %d", gw.calls)
	}

	state, err := store.Load()
	if err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	acct, ok := state.Accounts.Get("1")
	if !ok {
		t.Fatal("credential not persisted as account 1")
	}
	if acct.Region != model.RegionUS {
		t.Errorf("region = %q", acct.Region)
	}
	if acct.Email != "x@tempmail.test" {
		t.Errorf("email = %q", acct.Email)
	}
	if want := model.TruncateToken("us-" + testSessionID); acct.Token != want {
		t.Errorf("token = %q, want %q", acct.Token, want)
	}
	if acct.Credits != 0 {
		t.Errorf("fresh credential must start with zero credits, got %d", acct.Credits)
	}

	if free := o.Slots.Free(); free != o.Slots.Capacity() {
		t.Errorf("slot leaked: %d free of %d", free, o.Slots.Capacity())
	}
	if len(rec.events) != 1 || rec.events[0].Outcome != "success" {
		t.Errorf("unexpected recorder events: %+v", rec.events)
	} else if rec.events[0].AccountID != 1 {
		t.Errorf("recorded event should carry the persisted account id, got %d", rec.events[0].AccountID)
	}
}

func TestAcquireSession_ReleasesSlotOnMidFlowFailure(t *testing.T) {
	o, store, _ := newTestOrchestrator(t, 1, successSession)
	// Verification code never arrives.
	o.Mailbox = &fakeMail{
		inbox:   mailbox.Inbox{Address: "x@tempmail.test", Token: "tok"},
		codeErr: context.DeadlineExceeded,
	}
	rec := &captureRecorder{}
	o.Recorder = rec

	res := o.AcquireSession(context.Background(), model.RegionUS, "")
	if res.Outcome != model.OutcomeAbort {
		t.Fatalf("expected abort, got %s", res.Outcome)
	}
	if free := o.Slots.Free(); free != 1 {
		t.Fatalf("slot not released after failed flow: %d free", free)
	}

	state, err := store.Load()
	if err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	if state.Accounts.Len() != 0 {
		t.Error("failed flow must not persist a credential")
	}
	if len(rec.events) != 1 || rec.events[0].Outcome != "abort" {
		t.Errorf("unexpected recorder events: %+v", rec.events)
	}
}

func TestAcquireSession_TimeoutDoesNotPersist(t *testing.T) {
	// Registration goes through but a session cookie never appears.
	o, store, _ := newTestOrchestrator(t, 1, func() *fakeSession {
		sess := newFakeSession()
		sess.exists[codePageSelector] = true
		return sess
	})
	o.Timeout = 50 * time.Millisecond

	old := cookiePollInterval
	cookiePollInterval = 5 * time.Millisecond
	t.Cleanup(func() { cookiePollInterval = old })

	res := o.AcquireSession(context.Background(), model.RegionHK, "")
	if res.Outcome != model.OutcomeTimeout {
		t.Fatalf("expected timeout, got %s", res.Outcome)
	}

	state, err := store.Load()
	if err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	if state.Accounts.Len() != 0 {
		t.Error("timed-out flow must not persist a credential")
	}
	if free := o.Slots.Free(); free != 1 {
		t.Errorf("slot leaked: %d free", free)
	}
}

func TestBatchParallel_RespectsSlotCapacity(t *testing.T) {
	o, store, factory := newTestOrchestrator(t, 1, successSession)

	batch := o.BatchParallel(context.Background(), 3, 3, model.RegionUS)
	if batch.Success != 3 || batch.Failed != 0 {
		t.Fatalf("batch = %d ok, %d failed", batch.Success, batch.Failed)
	}
	if factory.peak > 1 {
		t.Errorf("%d sessions live at once with capacity 1", factory.peak)
	}
	if free := o.Slots.Free(); free != 1 {
		t.Errorf("slot leaked after batch: %d free", free)
	}

	state, err := store.Load()
	if err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	if state.Accounts.Len() != 3 {
		t.Fatalf("expected 3 persisted accounts, got %d", state.Accounts.Len())
	}
	ids := state.Accounts.IDs()
	for i, id := range ids {
		if id != strconv.Itoa(i+1) {
			t.Fatalf("account ids not dense: %v", ids)
		}
	}
}

func TestBatchSequential_CancelShortCircuits(t *testing.T) {
	o, _, factory := newTestOrchestrator(t, 2, successSession)

	ctx, cancel := context.WithCancel(context.Background())
	factory.onClose = cancel // first attempt finishes, then the batch is cancelled

	batch := o.BatchSequential(ctx, 3, model.RegionUS)
	if batch.Success != 1 {
		t.Fatalf("expected 1 success before cancel, got %d", batch.Success)
	}
	if batch.Failed != 2 {
		t.Fatalf("remaining attempts should count as failed, got %d", batch.Failed)
	}
}
