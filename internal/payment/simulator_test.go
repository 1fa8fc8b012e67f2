package payment

import (
	"context"
	"testing"
	"time"

	"github.com/bookstore/checkout/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorize(t *testing.T) {
	sim := NewSimulator(0, logger.NewLogger("test", "error"))
	ctx := context.Background()

	cases := []struct {
		name  string
		proof Proof
		want  bool
	}{
		{"token", Proof{Token: "tok_visa"}, true},
		{"empty token", Proof{}, false},
		{"decline token", Proof{Token: "decline_insufficient_funds"}, false},
		{"valid card", Proof{Token: "tok", CardNumber: "4242 4242 4242 4242"}, true},
		{"bad checksum", Proof{Token: "tok", CardNumber: "4242424242424241"}, false},
		{"not digits", Proof{Token: "tok", CardNumber: "4242-4242-4242-4242"}, false},
		{"too short", Proof{Token: "tok", CardNumber: "42"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := sim.Authorize(ctx, tc.proof)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestAuthorizeHonorsContext(t *testing.T) {
	sim := NewSimulator(time.Minute, logger.NewLogger("test", "error"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := sim.Authorize(ctx, Proof{Token: "tok"})
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}
