package recorder

// AcquisitionEvent records the outcome of one session-acquisition worker.
type AcquisitionEvent struct {
	Region     string
	Outcome    string // "success", "timeout", "abort"
	Email      string
	Proxy      string
	DurationMS int64
	Verified   bool
	AccountID  int // 0 when no credential was persisted
}

// CreditLog records one credit refresh result for an account.
type CreditLog struct {
	AccountID      int
	Credits        int
	GiftCredit     int
	PurchaseCredit int
	VIPCredit      int
	Valid          bool
}

// Recorder persists historical events for analysis. Recording failures are
// reported but never fatal to the operation being recorded.
type Recorder interface {
	RecordAcquisition(evt *AcquisitionEvent) error
	RecordCreditLog(evt *CreditLog) error
	Close() error
}
