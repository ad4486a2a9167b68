package recorder

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists historical data to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so reporting reads don't block the pool's writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS acquisition_events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			region      TEXT,
			outcome     TEXT,
			email       TEXT,
			proxy       TEXT,
			duration_ms INTEGER,
			verified    INTEGER,
			account_id  INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_acquisition_ts ON acquisition_events(timestamp)`,

		`CREATE TABLE IF NOT EXISTS credit_logs (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp       INTEGER NOT NULL,
			account_id      INTEGER,
			credits         INTEGER,
			gift_credit     INTEGER,
			purchase_credit INTEGER,
			vip_credit      INTEGER,
			valid           INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_ts ON credit_logs(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordAcquisition(evt *AcquisitionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO acquisition_events
		(timestamp, region, outcome, email, proxy, duration_ms, verified, account_id)
		VALUES (?,?,?,?,?,?,?,?)`,
		time.Now().Unix(), evt.Region, evt.Outcome, evt.Email, evt.Proxy,
		evt.DurationMS, boolToInt(evt.Verified), evt.AccountID,
	)
	return err
}

func (r *SQLiteRecorder) RecordCreditLog(evt *CreditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO credit_logs
		(timestamp, account_id, credits, gift_credit, purchase_credit, vip_credit, valid)
		VALUES (?,?,?,?,?,?,?)`,
		time.Now().Unix(), evt.AccountID, evt.Credits,
		evt.GiftCredit, evt.PurchaseCredit, evt.VIPCredit, boolToInt(evt.Valid),
	)
	return err
}

func (r *SQLiteRecorder) Close() error {
	log.Println("[INFO] closing sqlite recorder")
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
