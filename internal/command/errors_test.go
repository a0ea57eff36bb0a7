package command

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyNetworkError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		wantSub   NetworkErrorSubtype
		retryable bool
	}{
		{
			name:      "timeout",
			err:       &net.OpError{Op: "dial", Err: os.ErrDeadlineExceeded},
			wantType:  ErrTypeTimeout,
			wantSub:   NetworkErrorTimeout,
			retryable: true,
		},
		{
			name:     "dns",
			err:      &net.OpError{Op: "dial", Err: &net.DNSError{Name: "proc.lan", Err: "no such host"}},
			wantType: ErrTypeDNS,
			wantSub:  NetworkErrorDNS,
		},
		{
			name:      "refused",
			err:       &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)},
			wantType:  ErrTypeConnectionRefused,
			wantSub:   NetworkErrorConnectionRefused,
			retryable: true,
		},
		{
			name:      "host unreachable",
			err:       &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.EHOSTUNREACH)},
			wantType:  ErrTypeNetwork,
			wantSub:   NetworkErrorHostUnreachable,
			retryable: true,
		},
		{
			name:      "network unreachable",
			err:       fmt.Errorf("wrapped: %w", syscall.ENETUNREACH),
			wantType:  ErrTypeNetwork,
			wantSub:   NetworkErrorNetworkUnreachable,
			retryable: true,
		},
		{
			name:      "generic",
			err:       errors.New("boom"),
			wantType:  ErrTypeNetwork,
			wantSub:   NetworkErrorGeneral,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyNetworkError(tt.err, "10.0.0.9:23")
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.wantSub, got.NetworkSubtype)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(got))
			assert.Equal(t, "10.0.0.9:23", got.Host)
			assert.ErrorIs(t, got, tt.err)
			assert.True(t, IsNetworkError(got))
		})
	}

	assert.Nil(t, ClassifyNetworkError(nil, ""))
}

func TestErrorHelpers(t *testing.T) {
	err := NewNetworkError("failed to connect to processor", "10.0.0.9:23",
		&net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)})

	assert.Contains(t, err.Error(), "Connection Refused: failed to connect to processor")
	assert.Equal(t, "Processor refused connection", ShortMessage(err))
	assert.True(t, strings.HasPrefix(TroubleshootingHint(err), "The processor refused the connection."))

	wrapped := fmt.Errorf("load: %w", err)
	assert.True(t, IsNetworkError(wrapped))
	assert.True(t, IsConnectionRefused(wrapped))
	assert.False(t, IsValidationError(wrapped))

	v := NewValidationError("invalid channel -1")
	assert.Equal(t, "Validation Error: invalid channel -1", v.Error())
	assert.Equal(t, "invalid channel -1", ShortMessage(v))
	assert.False(t, IsRetryable(v))
	assert.False(t, IsConnectionRefused(v))

	plain := errors.New("plain")
	assert.Equal(t, "plain", ShortMessage(plain))
	assert.False(t, IsNetworkError(plain))
	assert.Equal(t, "Timeout", ErrTypeTimeout.String())
	assert.Equal(t, "ErrorType(42)", ErrorType(42).String())
}
