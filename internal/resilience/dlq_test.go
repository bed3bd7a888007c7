package resilience

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDLQEntry_CanRetry(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		maxRetries int
		want       bool
	}{
		{"below max", 0, 3, true},
		{"one below max", 2, 3, true},
		{"at max", 3, 3, false},
		{"above max", 5, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := DLQEntry{RetryCount: tt.retryCount, MaxRetries: tt.maxRetries}
			assert.Equal(t, tt.want, e.CanRetry())
		})
	}
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "transient", ClassifyError(errors.New("connection reset by peer")))
	assert.Equal(t, "transient", ClassifyError(errors.New("database is locked")))
	assert.Equal(t, "permanent", ClassifyError(errors.New("invoice_number is required")))
}
