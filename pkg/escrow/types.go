package escrow

import (
	"fmt"
	"strings"
	"time"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/finance"
)

// MaxMilestones bounds the number of tranches of a milestone escrow.
const MaxMilestones = 100

// Status is the lifecycle state of an escrow. Completed and Cancelled are terminal.
type Status uint8

const (
	Active Status = iota
	Completed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "active":
		*s = Active
	case "completed":
		*s = Completed
	case "cancelled":
		*s = Cancelled
	default:
		return fmt.Errorf("unknown escrow status %q", b)
	}
	return nil
}

// Type distinguishes single-release from milestone escrows.
type Type uint8

const (
	Single Type = iota
	Milestone
)

func (t Type) String() string {
	if t == Milestone {
		return "milestone"
	}
	return "single"
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "single":
		*t = Single
	case "milestone":
		*t = Milestone
	default:
		return fmt.Errorf("unknown escrow type %q", b)
	}
	return nil
}

// Escrow is payer funds held pending release to a payee.
type Escrow struct {
	ID                  uint64         `json:"id"`
	Payer               string         `json:"payer"`
	Payee               string         `json:"payee"`
	Description         string         `json:"description"`
	TotalAmount         finance.Amount `json:"total_amount"`
	ReleasedAmount      finance.Amount `json:"released_amount"`
	Status              Status         `json:"status"`
	Type                Type           `json:"escrow_type"`
	AutoRelease         bool           `json:"auto_release"`
	ReleaseTime         time.Time      `json:"release_time"`
	MilestoneCount      uint32         `json:"milestone_count,omitempty"`
	AmountPerMilestone  finance.Amount `json:"amount_per_milestone"`
	CompletedMilestones uint32         `json:"completed_milestones"`
	CreatedAt           time.Time      `json:"created_at"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
}

// Remaining is the amount still held.
func (e Escrow) Remaining() finance.Amount {
	left, err := e.TotalAmount.Sub(e.ReleasedAmount)
	if err != nil {
		return finance.Zero()
	}
	return left
}

// NextTranche is the amount the next milestone release pays; the final one absorbs the remainder.
func (e Escrow) NextTranche() finance.Amount {
	if e.CompletedMilestones+1 >= e.MilestoneCount {
		return e.Remaining()
	}
	return e.AmountPerMilestone
}

const (
	kindEscrow = "escrow"
	seqEscrow  = "escrow"
)
