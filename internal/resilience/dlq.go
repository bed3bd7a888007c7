package resilience

import (
	"time"
)

// DLQEntry records an invoice file that failed processing and can be
// retried in a later run.
type DLQEntry struct {
	ID            string    `json:"id"`
	Path          string    `json:"path"`
	InvoiceNumber string    `json:"invoice_number,omitempty"`
	Error         string    `json:"error"`
	ErrorType     string    `json:"error_type"` // "transient" or "permanent"
	FailedPhase   string    `json:"failed_phase,omitempty"`
	RetryCount    int       `json:"retry_count"`
	MaxRetries    int       `json:"max_retries"`
	CreatedAt     time.Time `json:"created_at"`
	LastFailedAt  time.Time `json:"last_failed_at"`
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
