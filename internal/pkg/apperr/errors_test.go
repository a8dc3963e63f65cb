package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: nil, want: http.StatusOK},
		{err: fmt.Errorf("plan 9: %w", ErrNotFound), want: http.StatusNotFound},
		{err: ErrInvalidStateTransition, want: http.StatusConflict},
		{err: ErrConflict, want: http.StatusConflict},
		{err: ErrQuotaExceeded, want: http.StatusPaymentRequired},
		{err: ErrIntentExpired, want: http.StatusGone},
		{err: ErrAmountMismatch, want: http.StatusUnprocessableEntity},
		{err: ErrUnavailable, want: http.StatusServiceUnavailable},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "err=%v", tt.err)
	}
}

func TestPublicMessageHidesInternals(t *testing.T) {
	err := fmt.Errorf("dial tcp 10.0.0.3:3306: %w", ErrUnavailable)
	assert.NotContains(t, PublicMessage(err), "10.0.0.3")
	assert.NotContains(t, PublicMessage(errors.New("secret dsn")), "secret")

	notFound := fmt.Errorf("academy 4: %w", ErrNotFound)
	assert.Equal(t, notFound.Error(), PublicMessage(notFound))
}

func TestIsExpected(t *testing.T) {
	assert.True(t, IsExpected(ErrQuotaExceeded))
	assert.True(t, IsExpected(fmt.Errorf("x: %w", ErrInvalidStateTransition)))
	assert.False(t, IsExpected(ErrUnavailable))
}
