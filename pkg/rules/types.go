package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/finance"
)

// RuleType selects how a rule's condition is evaluated.
type RuleType uint8

const (
	Always RuleType = iota
	TimeBased
	Threshold
	SuccessBased
)

var ruleTypeNames = [...]string{"always", "time_based", "threshold", "success_based"}

func (t RuleType) String() string {
	if int(t) < len(ruleTypeNames) {
		return ruleTypeNames[t]
	}
	return "rule_type(" + strconv.Itoa(int(t)) + ")"
}

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool { return int(t) < len(ruleTypeNames) }

// ParseRuleType accepts a type name or its numeric value.
func ParseRuleType(s string) (RuleType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range ruleTypeNames {
		if s == name || s == strings.ReplaceAll(name, "_", "") {
			return RuleType(i), nil
		}
	}
	if n, err := strconv.ParseUint(s, 10, 8); err == nil && RuleType(n).Valid() {
		return RuleType(n), nil
	}
	return 0, fmt.Errorf("unknown rule type %q", s)
}

func (t RuleType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown rule type %d", t)
	}
	return []byte(t.String()), nil
}

func (t *RuleType) UnmarshalText(b []byte) error {
	v, err := ParseRuleType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Rule is a one-shot conditional payment instruction.
type Rule struct {
	ID            uint64         `json:"id"`
	AgentID       string         `json:"agent_id"`
	Creator       string         `json:"creator"`
	Recipient     string         `json:"recipient"`
	Amount        finance.Amount `json:"amount"`
	Type          RuleType       `json:"rule_type"`
	ConditionData []byte         `json:"condition_data,omitempty"`
	Active        bool           `json:"active"`
	CreatedAt     time.Time      `json:"created_at"`
	ExecutedAt    *time.Time     `json:"executed_at,omitempty"`
}

const kindRule = "rule"
