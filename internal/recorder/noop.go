package recorder

// NoopRecorder drops all events. Used when no database is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordAcquisition(*AcquisitionEvent) error { return nil }
func (n *NoopRecorder) RecordCreditLog(*CreditLog) error          { return nil }
func (n *NoopRecorder) Close() error                              { return nil }
