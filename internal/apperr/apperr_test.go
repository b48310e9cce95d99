package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validationf("send", "message required"), http.StatusBadRequest},
		{"quota", Quota("send", 5), http.StatusBadRequest},
		{"not ready", New(SessionNotReady, "send", "not connected"), http.StatusBadRequest},
		{"conflict", New(Conflict, "send", "job running"), http.StatusBadRequest},
		{"persistence", Wrap(Persistence, "quota", "store unavailable", errors.New("boom")), http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("api: %w", Validationf("x", "bad")), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestQuota_ClampsRemaining(t *testing.T) {
	err := Quota("send", -3)
	if err.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", err.Remaining)
	}
	if KindOf(err) != QuotaExceeded {
		t.Errorf("KindOf = %q, want %q", KindOf(err), QuotaExceeded)
	}
}

func TestPublicMessage_HidesInternalDetail(t *testing.T) {
	if got := PublicMessage(errors.New("dsn password=secret")); got != "internal server error" {
		t.Errorf("PublicMessage = %q", got)
	}
	if got := PublicMessage(Validationf("send", "message required")); got != "message required" {
		t.Errorf("PublicMessage = %q, want %q", got, "message required")
	}
}

func TestError_UnwrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(Persistence, "record", "write failed", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if err.Error() != "record: write failed: disk full" {
		t.Errorf("Error() = %q", err.Error())
	}
}
