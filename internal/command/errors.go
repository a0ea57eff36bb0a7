package command

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

// ErrorType represents the category of a command channel failure
type ErrorType int

const (
	// ErrTypeNetwork indicates a network-level error
	ErrTypeNetwork ErrorType = iota
	// ErrTypeTimeout indicates the processor did not accept the connection in time
	ErrTypeTimeout
	// ErrTypeConnectionRefused indicates nothing listens on the command port
	ErrTypeConnectionRefused
	// ErrTypeDNS indicates the processor host name could not be resolved
	ErrTypeDNS
	// ErrTypeValidation indicates invalid command arguments
	ErrTypeValidation
	// ErrTypeUnknown indicates an unexpected error
	ErrTypeUnknown
)

// NetworkErrorSubtype provides more specific network error classification
type NetworkErrorSubtype int

const (
	NetworkErrorGeneral NetworkErrorSubtype = iota
	NetworkErrorTimeout
	NetworkErrorConnectionRefused
	NetworkErrorDNS
	NetworkErrorHostUnreachable
	NetworkErrorNetworkUnreachable
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeNetwork:
		return "Network Error"
	case ErrTypeTimeout:
		return "Timeout"
	case ErrTypeConnectionRefused:
		return "Connection Refused"
	case ErrTypeDNS:
		return "DNS Error"
	case ErrTypeValidation:
		return "Validation Error"
	case ErrTypeUnknown:
		return "Unknown Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// Error is a failure to run a text command against a processor
type Error struct {
	Type           ErrorType           // Category of error
	Message        string              // Human-readable error message
	Err            error               // Underlying error (if any)
	NetworkSubtype NetworkErrorSubtype // More specific network error type
	Host           string              // Processor host (for context)
	Retryable      bool                // Whether the command may be retried
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ClassifyNetworkError maps a dial or I/O error to an *Error.
func ClassifyNetworkError(err error, host string) *Error {
	if err == nil {
		return nil
	}

	var cmdErr *Error
	if errors.As(err, &cmdErr) {
		return cmdErr
	}

	if os.IsTimeout(err) {
		return &Error{
			Type:           ErrTypeTimeout,
			Message:        "Connection timed out",
			Err:            err,
			NetworkSubtype: NetworkErrorTimeout,
			Host:           host,
			Retryable:      true,
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &Error{
			Type:           ErrTypeDNS,
			Message:        fmt.Sprintf("DNS resolution failed for %s", dnsErr.Name),
			Err:            err,
			NetworkSubtype: NetworkErrorDNS,
			Host:           host,
		}
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return &Error{
			Type:           ErrTypeConnectionRefused,
			Message:        "Processor refused connection",
			Err:            err,
			NetworkSubtype: NetworkErrorConnectionRefused,
			Host:           host,
			Retryable:      true,
		}
	case errors.Is(err, syscall.EHOSTUNREACH):
		return &Error{
			Type:           ErrTypeNetwork,
			Message:        "Host unreachable",
			Err:            err,
			NetworkSubtype: NetworkErrorHostUnreachable,
			Host:           host,
			Retryable:      true,
		}
	case errors.Is(err, syscall.ENETUNREACH):
		return &Error{
			Type:           ErrTypeNetwork,
			Message:        "Network unreachable",
			Err:            err,
			NetworkSubtype: NetworkErrorNetworkUnreachable,
			Host:           host,
			Retryable:      true,
		}
	}

	return &Error{
		Type:           ErrTypeNetwork,
		Message:        "Network error occurred",
		Err:            err,
		NetworkSubtype: NetworkErrorGeneral,
		Host:           host,
		Retryable:      true,
	}
}

// NewNetworkError creates a network-level error with automatic classification
func NewNetworkError(message, host string, err error) *Error {
	classified := ClassifyNetworkError(err, host)
	if classified == nil {
		return &Error{Type: ErrTypeNetwork, Message: message, Host: host, Retryable: true}
	}
	classified.Message = message
	return classified
}

// NewValidationError creates a validation error
func NewValidationError(message string) *Error {
	return &Error{Type: ErrTypeValidation, Message: message}
}

func errorType(err error) (ErrorType, bool) {
	var cmdErr *Error
	if !errors.As(err, &cmdErr) {
		return ErrTypeUnknown, false
	}
	return cmdErr.Type, true
}

// IsNetworkError checks if an error is a network error (including timeout, connection refused, DNS)
func IsNetworkError(err error) bool {
	t, ok := errorType(err)
	return ok && (t == ErrTypeNetwork || t == ErrTypeTimeout || t == ErrTypeConnectionRefused || t == ErrTypeDNS)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrTypeValidation
}

// IsConnectionRefused checks if the processor actively refused the connection
func IsConnectionRefused(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrTypeConnectionRefused
}

// IsRetryable checks if a command should be retried
func IsRetryable(err error) bool {
	var cmdErr *Error
	if errors.As(err, &cmdErr) {
		return cmdErr.Retryable
	}
	return false
}

// TroubleshootingHint returns user-facing advice for an error
func TroubleshootingHint(err error) string {
	var cmdErr *Error
	if !errors.As(err, &cmdErr) {
		return "An unexpected error occurred. Please try again."
	}

	switch cmdErr.Type {
	case ErrTypeTimeout:
		return strings.Join([]string{
			"The processor did not answer in time.",
			"Troubleshooting:",
			"  • Check that the processor is powered on",
			"  • Verify the address with 'roehn discover'",
			"  • Try increasing --timeout",
		}, "\n")

	case ErrTypeConnectionRefused:
		return strings.Join([]string{
			"The processor refused the connection.",
			"Troubleshooting:",
			"  • Verify the command port (default is 23)",
			"  • The processor may only accept a limited number of telnet sessions",
			"  • Close other tools connected to the processor and retry",
		}, "\n")

	case ErrTypeDNS:
		return strings.Join([]string{
			"Could not resolve the processor hostname.",
			"Troubleshooting:",
			"  • Use the IP address instead of hostname",
			"  • Run 'roehn discover' to find the processor",
		}, "\n")

	case ErrTypeNetwork:
		switch cmdErr.NetworkSubtype {
		case NetworkErrorHostUnreachable:
			return strings.Join([]string{
				"The processor is not reachable on the network.",
				"Troubleshooting:",
				"  • Verify the processor IP address is correct",
				"  • Try pinging the processor: ping " + cmdErr.Host,
			}, "\n")
		case NetworkErrorNetworkUnreachable:
			return strings.Join([]string{
				"Your computer cannot reach the processor's network.",
				"Troubleshooting:",
				"  • Check your network adapter settings",
				"  • Verify you are on the same network as the processor",
			}, "\n")
		}
		return "Network communication failed. Check your connection to the processor."

	case ErrTypeValidation:
		return "The command arguments are invalid. Check the error message for details."

	default:
		return "An error occurred. Please check the error message for details."
	}
}

// ShortMessage returns a concise, user-facing error message
func ShortMessage(err error) string {
	var cmdErr *Error
	if !errors.As(err, &cmdErr) {
		return err.Error()
	}

	switch cmdErr.Type {
	case ErrTypeTimeout:
		return "Processor not responding (timeout)"
	case ErrTypeConnectionRefused:
		return "Processor refused connection"
	case ErrTypeDNS:
		return "Cannot resolve processor hostname"
	case ErrTypeNetwork:
		return "Network error - check connection"
	default:
		return cmdErr.Message
	}
}
