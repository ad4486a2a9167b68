package ledger

import "strconv"

// GetAvailable returns the id of the first account, in persisted order, that
// is not excluded and holds at least minCredits. A zero minCredits falls
// back to DefaultMinCredits. Returns 0 when no account qualifies.
func (s *Store) GetAvailable(exclude map[int]bool, minCredits int) (int, error) {
	state, err := s.Load()
	if err != nil {
		return 0, err
	}
	if _, err := s.CheckAndResetDaily(state); err != nil {
		return 0, err
	}
	if minCredits <= 0 {
		minCredits = DefaultMinCredits
	}

	for _, key := range state.Accounts.IDs() {
		id, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		if exclude[id] {
			continue
		}
		rec, _ := state.Accounts.Get(key)
		if rec.Credits >= minCredits {
			return id, nil
		}
	}
	return 0, nil
}
