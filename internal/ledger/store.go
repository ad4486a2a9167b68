package ledger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bigbear0079/jimeng-pool/internal/model"
)

// The daily reset marker is computed in a fixed UTC+8 calendar, not the
// local system zone.
var utcPlus8 = time.FixedZone("UTC+8", 8*3600)

// DefaultMinCredits is the threshold below which an account is reported as
// low_credits (one 1K image costs 4 credits).
const DefaultMinCredits = 4

// Store persists the account ledger as a single JSON snapshot file.
//
// Load and Save are each guarded by the store mutex for the duration of that
// one call only; a caller doing its own Load, mutate, Save sequence is not
// atomic against other mutators and the last writer wins. In-process callers
// that need a safe read-modify-write go through UpdateAccount, which holds
// the lock across the whole sequence.
type Store struct {
	mu   sync.Mutex
	path string

	now func() time.Time
}

// NewStore creates a Store persisting to the given file path.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Load reads the current snapshot. A missing file is not an error and yields
// the empty default state; malformed JSON is.
func (s *Store) Load() (*model.LedgerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Save overwrites the entire persisted snapshot.
func (s *Store) Save(state *model.LedgerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(state)
}

func (s *Store) loadLocked() (*model.LedgerState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.NewLedgerState(), nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	state := model.NewLedgerState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parse ledger: %w", err)
	}
	if state.Accounts == nil {
		state.Accounts = model.NewAccountMap()
	}
	return state, nil
}

func (s *Store) saveLocked(state *model.LedgerState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create ledger dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

// Today returns the current calendar date in the fixed UTC+8 zone.
func (s *Store) Today() string {
	return s.now().In(utcPlus8).Format("2006-01-02")
}

// CheckAndResetDaily flips the daily reset marker when the UTC+8 calendar
// date has changed, persisting immediately. It only updates the marker;
// balances are refreshed by an explicit refresh pass. Idempotent within one
// UTC+8 day.
func (s *Store) CheckAndResetDaily(state *model.LedgerState) (*model.LedgerState, error) {
	today := s.Today()
	if state.LastResetDate == today {
		return state, nil
	}
	log.Printf("[ledger] new day (%s), marking credits for refresh", today)
	state.LastResetDate = today
	if err := s.Save(state); err != nil {
		return state, err
	}
	return state, nil
}

// UpdateAccount applies mutate to the record for id under one lock covering
// the full load-modify-save sequence. The mutator receives the current
// record (zero value if absent) and reports whether the account exists;
// mutating a missing account is a no-op.
func (s *Store) UpdateAccount(id int, mutate func(rec *model.AccountRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked()
	if err != nil {
		return err
	}
	key := strconv.Itoa(id)
	rec, ok := state.Accounts.Get(key)
	if !ok {
		return nil
	}
	mutate(&rec)
	state.Accounts.Put(key, rec)
	return s.saveLocked(state)
}

// PutAccount inserts or fully replaces the record for id.
func (s *Store) PutAccount(id int, rec model.AccountRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked()
	if err != nil {
		return err
	}
	state.Accounts.Put(strconv.Itoa(id), rec)
	return s.saveLocked(state)
}

// Deduct subtracts amount from an account balance, flooring at zero.
func (s *Store) Deduct(id, amount int) error {
	var remaining int
	err := s.UpdateAccount(id, func(rec *model.AccountRecord) {
		rec.Credits = max(0, rec.Credits-amount)
		rec.LastUpdate = s.now().Format(time.RFC3339)
		remaining = rec.Credits
	})
	if err != nil {
		return err
	}
	log.Printf("[account %d] deducted %d credits, remaining: %d", id, amount, remaining)
	return nil
}

// SetCredits overwrites an account balance.
func (s *Store) SetCredits(id, credits int) error {
	err := s.UpdateAccount(id, func(rec *model.AccountRecord) {
		rec.Credits = credits
		rec.LastUpdate = s.now().Format(time.RFC3339)
	})
	if err != nil {
		return err
	}
	log.Printf("[account %d] credits set to %d", id, credits)
	return nil
}

// NextID returns the smallest positive id not present in the ledger.
func (s *Store) NextID() (int, error) {
	state, err := s.Load()
	if err != nil {
		return 0, err
	}
	return nextIDLocked(state), nil
}

func nextIDLocked(state *model.LedgerState) int {
	next := 1
	for _, key := range state.Accounts.IDs() {
		if n, err := strconv.Atoi(key); err == nil && n >= next {
			next = n + 1
		}
	}
	return next
}

// AppendAccount stores rec under the next free id, allocating the id and
// writing the record under one lock so concurrent appends never collide.
func (s *Store) AppendAccount(rec model.AccountRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked()
	if err != nil {
		return 0, err
	}
	id := nextIDLocked(state)
	state.Accounts.Put(strconv.Itoa(id), rec)
	if err := s.saveLocked(state); err != nil {
		return 0, err
	}
	return id, nil
}

// ListAccounts returns a by-id sorted view of all accounts with a derived
// availability status against DefaultMinCredits.
func (s *Store) ListAccounts() ([]model.AccountView, error) {
	state, err := s.Load()
	if err != nil {
		return nil, err
	}
	if _, err := s.CheckAndResetDaily(state); err != nil {
		return nil, err
	}

	views := make([]model.AccountView, 0, state.Accounts.Len())
	for _, key := range state.Accounts.IDs() {
		rec, _ := state.Accounts.Get(key)
		id, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		status := model.StatusLowCredits
		if rec.Credits >= DefaultMinCredits {
			status = model.StatusAvailable
		}
		views = append(views, model.AccountView{
			ID:             id,
			Credits:        rec.Credits,
			GiftCredit:     rec.GiftCredit,
			PurchaseCredit: rec.PurchaseCredit,
			VIPCredit:      rec.VIPCredit,
			Email:          rec.Email,
			Region:         rec.Region,
			LastUpdate:     rec.LastUpdate,
			Status:         status,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views, nil
}
