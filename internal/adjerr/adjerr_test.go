package adjerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"direct", New(CodeNotFound, "missing"), CodeNotFound},
		{"wrapped once", fmt.Errorf("outer: %w", New(CodeTimeout, "slow")), CodeTimeout},
		{"wrapped twice", fmt.Errorf("a: %w", fmt.Errorf("b: %w", New(CodeStorage, "db"))), CodeStorage},
		{"unclassified", errors.New("plain"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(CodeStorage, nil, "insert"); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeStorage, cause, "insert message")
	if !errors.Is(err, cause) {
		t.Error("wrapped error lost its cause")
	}
	if CodeOf(err) != CodeStorage {
		t.Errorf("CodeOf = %q, want STORAGE_ERROR", CodeOf(err))
	}
}

func TestMessageOf(t *testing.T) {
	if got := MessageOf(New(CodeValidation, "body required")); got != "body required" {
		t.Errorf("MessageOf = %q", got)
	}
	if got := MessageOf(errors.New("oops")); got != "oops" {
		t.Errorf("MessageOf fallback = %q", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeInvalidArg, http.StatusBadRequest},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeNotFound, http.StatusNotFound},
		{CodeAlreadyExists, http.StatusConflict},
		{CodeAlreadyRunning, http.StatusConflict},
		{CodeAlreadyStopped, http.StatusConflict},
		{CodeNotSupported, http.StatusNotImplemented},
		{CodeUpstream, http.StatusBadGateway},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeStorage, http.StatusInternalServerError},
		{CodeSubprocess, http.StatusInternalServerError},
		{CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.code); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
