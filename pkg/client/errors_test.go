package client

import (
	"errors"
	"strings"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	err := &APIError{
		StatusCode: 401,
		Class:      ErrorClassClient,
		URL:        "https://api.goshippo.com/addresses?results=1000",
		Message:    "401 Unauthorized",
	}

	msg := err.Error()
	for _, want := range []string{"client", "401", "addresses"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	inner := errors.New("connection reset by peer")
	err := &APIError{
		Class:   ErrorClassTransient,
		URL:     "https://api.goshippo.com/parcels?results=1000",
		Message: "request failed",
		Err:     inner,
	}

	if !errors.Is(err, inner) {
		t.Error("Expected errors.Is to find the wrapped error")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("Error() = %q, expected wrapped error text", err.Error())
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient retried", &APIError{Class: ErrorClassTransient}, true},
		{"client not retried", &APIError{Class: ErrorClassClient}, false},
		{"protocol not retried", &APIError{Class: ErrorClassProtocol}, false},
		{"bare network error retried", errors.New("i/o timeout"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldRetry(tt.err); got != tt.want {
				t.Errorf("shouldRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}
