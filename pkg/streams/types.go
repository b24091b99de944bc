package streams

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/finance"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/ledger"
)

// StreamType distinguishes fixed recurring payments from linear vesting.
type StreamType uint8

const (
	Subscription StreamType = iota
	LinearStream
)

func (t StreamType) String() string {
	switch t {
	case Subscription:
		return "subscription"
	case LinearStream:
		return "linear_stream"
	}
	return fmt.Sprintf("stream_type(%d)", uint8(t))
}

func (t StreamType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *StreamType) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "subscription", "0":
		*t = Subscription
	case "linear_stream", "stream", "1":
		*t = LinearStream
	default:
		return fmt.Errorf("unknown stream type %q", b)
	}
	return nil
}

// Stream is a recurring or linear payment instruction.
//
// For a Subscription, Amount is paid once per Period starting at
// NextPaymentAt. For a LinearStream, Amount is the committed total vesting
// evenly from StartTime over Duration.
type Stream struct {
	ID            uint64         `json:"id"`
	AgentID       string         `json:"agent_id"`
	Creator       string         `json:"creator"`
	Recipient     string         `json:"recipient"`
	Amount        finance.Amount `json:"amount"`
	Type          StreamType     `json:"stream_type"`
	Period        time.Duration  `json:"period,omitempty"`
	NextPaymentAt time.Time      `json:"next_payment_at"`
	StartTime     time.Time      `json:"start_time"`
	Duration      time.Duration  `json:"duration,omitempty"`
	TotalPaid     finance.Amount `json:"total_paid"`
	Active        bool           `json:"active"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Tick reports the outcome of ProcessPayment. Paid is zero when nothing was due.
type Tick struct {
	StreamID uint64          `json:"stream_id"`
	Paid     finance.Amount  `json:"paid"`
	Receipt  *ledger.Receipt `json:"receipt,omitempty"`
	Stream   Stream          `json:"stream"`
}

// Due returns the stream as it stands after a tick at now and the amount that tick pays.
// It never pays more than one subscription period per call.
func Due(s Stream, now time.Time) (Stream, finance.Amount) {
	if !s.Active {
		return s, finance.Zero()
	}
	switch s.Type {
	case Subscription:
		if now.Before(s.NextPaymentAt) {
			return s, finance.Zero()
		}
		s.NextPaymentAt = s.NextPaymentAt.Add(s.Period)
		s.TotalPaid = s.TotalPaid.Add(s.Amount)
		return s, s.Amount

	case LinearStream:
		vested := Vested(s, now)
		delta, err := vested.Sub(s.TotalPaid)
		if err != nil || delta.IsZero() {
			return s, finance.Zero()
		}
		s.TotalPaid = vested
		if s.TotalPaid.Equal(s.Amount) {
			s.Active = false
		}
		return s, delta
	}
	return s, finance.Zero()
}

// Vested is total * min(now - start, duration) / duration, floored.
func Vested(s Stream, now time.Time) finance.Amount {
	if s.Duration <= 0 {
		return finance.Zero()
	}
	elapsed := now.Sub(s.StartTime)
	if elapsed <= 0 {
		return finance.Zero()
	}
	if elapsed >= s.Duration {
		return s.Amount
	}
	return s.Amount.MulDiv(big.NewInt(int64(elapsed)), big.NewInt(int64(s.Duration)))
}

const kindStream = "stream"
