package rules

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// TimeCondition unlocks a TimeBased rule at a unix time in seconds.
type TimeCondition struct {
	UnlockAt int64 `json:"unlock_at"`
}

// ThresholdCondition compares a numeric proof field against Threshold.
type ThresholdCondition struct {
	Field     string `json:"field"`
	Op        string `json:"op"`
	Threshold int64  `json:"threshold"`
}

var comparators = map[string]bool{"<": true, "<=": true, ">": true, ">=": true, "==": true, "!=": true}

var errNotBool = errors.New("not a boolean")

// Evaluator decides whether a rule's condition holds for a proof.
// Threshold comparisons run as CEL programs over int64 operands, compiled
// once per comparator.
type Evaluator struct {
	env      *cel.Env
	prgCache map[string]cel.Program
	mu       sync.RWMutex
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.IntType),
		cel.Variable("threshold", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Evaluator{env: env, prgCache: make(map[string]cel.Program)}, nil
}

// Validate checks that data is a well-formed condition for typ.
func (e *Evaluator) Validate(typ RuleType, data []byte) error {
	switch typ {
	case Always:
		return nil
	case TimeBased:
		var c TimeCondition
		if err := json.Unmarshal(data, &c); err != nil {
			return fmt.Errorf("time condition: %w", err)
		}
		if c.UnlockAt <= 0 {
			return errors.New("time condition: unlock_at must be a positive unix time")
		}
		return nil
	case Threshold:
		c, err := parseThreshold(data)
		if err != nil {
			return err
		}
		_, err = e.program(c.Op)
		return err
	case SuccessBased:
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		_, err := decodeBool(data)
		return err
	default:
		return fmt.Errorf("unknown rule type %d", typ)
	}
}

// Satisfied evaluates the condition at now. A non-nil error explains why the
// proof could not be evaluated; the condition is then unmet.
func (e *Evaluator) Satisfied(typ RuleType, data, proof []byte, now time.Time) (bool, error) {
	switch typ {
	case Always:
		return true, nil
	case TimeBased:
		var c TimeCondition
		if err := json.Unmarshal(data, &c); err != nil {
			return false, fmt.Errorf("time condition: %w", err)
		}
		return now.Unix() >= c.UnlockAt, nil
	case Threshold:
		return e.threshold(data, proof)
	case SuccessBased:
		ok, err := decodeBool(proof)
		if err != nil {
			return false, fmt.Errorf("proof: %w", err)
		}
		return ok, nil
	default:
		return false, fmt.Errorf("unknown rule type %d", typ)
	}
}

func (e *Evaluator) threshold(data, proof []byte) (bool, error) {
	c, err := parseThreshold(data)
	if err != nil {
		return false, err
	}
	dec := json.NewDecoder(bytes.NewReader(proof))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return false, fmt.Errorf("proof must be a JSON object: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return false, errors.New("proof has trailing data")
	}
	raw, ok := fields[c.Field]
	if !ok {
		return false, fmt.Errorf("proof has no field %q", c.Field)
	}
	value, err := proofInt(raw)
	if err != nil {
		return false, fmt.Errorf("proof field %q: %w", c.Field, err)
	}

	prg, err := e.program(c.Op)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{
		"value":     value,
		"threshold": c.Threshold,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate: %w", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("condition evaluated to %T, not bool", out.Value())
	}
	return ok, nil
}

func (e *Evaluator) program(op string) (cel.Program, error) {
	if !comparators[op] {
		return nil, fmt.Errorf("threshold condition: unsupported comparator %q", op)
	}
	expr := "value " + op + " threshold"

	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(1000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.prgCache[expr] = prg
	return prg, nil
}

// proofInt reads an exact integer from a JSON number or numeric string.
// Fractions and values outside int64 are rejected rather than rounded.
func proofInt(v any) (int64, error) {
	var text string
	switch n := v.(type) {
	case json.Number:
		text = n.String()
	case string:
		text = strings.TrimSpace(n)
	default:
		return 0, fmt.Errorf("want a number, got %T", v)
	}
	r, ok := new(big.Rat).SetString(text)
	if !ok {
		return 0, fmt.Errorf("invalid number %q", text)
	}
	if !r.IsInt() {
		return 0, fmt.Errorf("%s is not an integer", text)
	}
	if !r.Num().IsInt64() {
		return 0, fmt.Errorf("%s is out of range", text)
	}
	return r.Num().Int64(), nil
}

func parseThreshold(data []byte) (ThresholdCondition, error) {
	var c ThresholdCondition
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("threshold condition: %w", err)
	}
	if c.Field == "" {
		return c, errors.New("threshold condition: field is required")
	}
	if !comparators[c.Op] {
		return c, fmt.Errorf("threshold condition: unsupported comparator %q", c.Op)
	}
	return c, nil
}

// decodeBool accepts JSON true/false or a 32-byte ABI-encoded bool, either
// raw or as 0x-prefixed hex.
func decodeBool(b []byte) (bool, error) {
	trimmed := bytes.TrimSpace(b)
	var v bool
	if err := json.Unmarshal(trimmed, &v); err == nil {
		return v, nil
	}

	word := trimmed
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		word = []byte(s)
	}
	if hexStr, ok := strings.CutPrefix(string(word), "0x"); ok {
		decoded, err := hex.DecodeString(hexStr)
		if err != nil {
			return false, fmt.Errorf("%w: %v", errNotBool, err)
		}
		word = decoded
	}
	if len(word) != 32 {
		return false, errNotBool
	}
	for _, c := range word[:31] {
		if c != 0 {
			return false, errNotBool
		}
	}
	switch word[31] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, errNotBool
}
