// Package payment simulates a payment gateway. No money moves: a proof is
// authorized or declined by inspecting its fields.
package payment

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Proof is what the client presents to pay for an order
type Proof struct {
	Token      string `json:"token"`
	CardNumber string `json:"card_number,omitempty"`
}

// DeclinePrefix marks tokens the simulator always declines
const DeclinePrefix = "decline"

// Simulator authorizes payment proofs
type Simulator struct {
	latency time.Duration
	log     *zap.Logger
}

// NewSimulator creates a simulator that waits latency before answering
func NewSimulator(latency time.Duration, log *zap.Logger) *Simulator {
	return &Simulator{
		latency: latency,
		log:     log,
	}
}

// Authorize reports whether the proof is accepted. A proof is declined when
// its token is empty or starts with DeclinePrefix, or when a card number is
// given that fails the Luhn check.
func (s *Simulator) Authorize(ctx context.Context, proof Proof) (bool, error) {
	if s.latency > 0 {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(s.latency):
		}
	}

	approved := proof.Token != "" && !strings.HasPrefix(proof.Token, DeclinePrefix)
	if approved && proof.CardNumber != "" {
		approved = luhnValid(proof.CardNumber)
	}

	s.log.Debug("Payment authorization simulated", zap.Bool("approved", approved))
	return approved, nil
}

func luhnValid(number string) bool {
	digits := strings.ReplaceAll(number, " ", "")
	if len(digits) < 12 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
