package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "version conflict error", err: ErrOrderVersionConflict, want: true},
		{name: "wrapped version conflict error", err: fmt.Errorf("save: %w", ErrOrderVersionConflict), want: true},
		{name: "other error", err: ErrOrderNotFound, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsVersionConflict(tt.err); got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorClasses(t *testing.T) {
	tests := []struct {
		err   error
		class error
	}{
		{err: ErrCouponExpired, class: ErrValidation},
		{err: ErrCouponNotFound, class: ErrNotFound},
		{err: ErrDownloadExpired, class: ErrExpired},
		{err: ErrDownloadForbidden, class: ErrAuthorization},
		{err: ErrUnauthenticated, class: ErrAuthentication},
		{err: ErrPaymentAmountMismatch, class: ErrIntegrity},
		{err: ErrIdempotencyHashMismatch, class: ErrConflict},
		{err: ErrTooManyRequests, class: ErrRateLimited},
		{err: Validationf("product %q not found", "p-1"), class: ErrValidation},
		{err: UpstreamError("stripe create intent", errors.New("dial tcp: timeout")), class: ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if !errors.Is(tt.err, tt.class) {
				t.Fatalf("expected %q to be classified as %v", tt.err, tt.class)
			}
		})
	}
}

func TestClassifiedErrorMessageIsTheReason(t *testing.T) {
	if got := ErrCouponMinSubtotal.Error(); got != "cart subtotal is below the coupon minimum" {
		t.Fatalf("unexpected message %q", got)
	}
	if UpstreamError("op", nil) != nil {
		t.Fatal("expected nil for nil upstream error")
	}
}
