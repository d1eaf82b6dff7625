// Package eligibility evaluates configured voter requirements against an
// external identity claim. Rules are compiled eagerly so that an unknown
// operator or attribute fails at configuration load, not per request.
package eligibility

import (
	"fmt"
	"time"
)

// Claim is the subset of an external identity used by rule evaluation.
type Claim struct {
	Username     string
	CreatedAt    time.Time
	LinkKarma    int64
	CommentKarma int64
}

// Operator is a comparison operator supported in rules.
type Operator string

const (
	OpGE Operator = ">="
	OpLE Operator = "<="
	OpEQ Operator = "=="
	OpNE Operator = "!="
	OpGT Operator = ">"
	OpLT Operator = "<"
)

// Attribute is a named derived attribute of a claim.
type Attribute string

const (
	// AttrAccountAge is the account age in whole days.
	AttrAccountAge Attribute = "account.age"
	// AttrTotalKarma is the sum of link and comment karma.
	AttrTotalKarma Attribute = "account.total_karma"
)

// RuleSpec is the raw, uncompiled form of a rule as it appears in the policy
// file. Either side may be a number literal or an attribute name.
type RuleSpec struct {
	LHS      any    `yaml:"lhs" json:"lhs"`
	Operator string `yaml:"operator" json:"operator"`
	RHS      any    `yaml:"rhs" json:"rhs"`
}

type operand struct {
	attr    Attribute
	literal float64
	isAttr  bool
}

// Rule is a compiled eligibility rule.
type Rule struct {
	spec RuleSpec
	lhs  operand
	rhs  operand
	op   Operator
}

// Spec returns the raw form the rule was compiled from.
func (r Rule) Spec() RuleSpec {
	return r.spec
}

// RuleResult pairs a rule with its outcome for a particular claim.
type RuleResult struct {
	Spec      RuleSpec `json:"rule"`
	Satisfied bool     `json:"satisfied"`
}

// Compile validates rule specs and produces evaluatable rules.
func Compile(specs []RuleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for i, spec := range specs {
		op := Operator(spec.Operator)
		switch op {
		case OpGE, OpLE, OpEQ, OpNE, OpGT, OpLT:
		default:
			return nil, fmt.Errorf("rule %d: unknown operator %q", i, spec.Operator)
		}

		lhs, err := compileOperand(spec.LHS)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rhs, err := compileOperand(spec.RHS)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}

		rules = append(rules, Rule{spec: spec, lhs: lhs, rhs: rhs, op: op})
	}

	return rules, nil
}

func compileOperand(value any) (operand, error) {
	switch v := value.(type) {
	case string:
		attr := Attribute(v)
		switch attr {
		case AttrAccountAge, AttrTotalKarma:
			return operand{attr: attr, isAttr: true}, nil
		default:
			return operand{}, fmt.Errorf("unknown attribute %q", v)
		}
	case int:
		return operand{literal: float64(v)}, nil
	case int64:
		return operand{literal: float64(v)}, nil
	case float64:
		return operand{literal: v}, nil
	default:
		return operand{}, fmt.Errorf("operand %v is neither a number nor an attribute name", value)
	}
}

func (o operand) value(claim Claim, now time.Time) float64 {
	if !o.isAttr {
		return o.literal
	}
	switch o.attr {
	case AttrAccountAge:
		return float64(int(now.Sub(claim.CreatedAt).Hours() / 24))
	case AttrTotalKarma:
		return float64(claim.LinkKarma + claim.CommentKarma)
	}
	return 0
}

// Evaluate applies the rule to a claim.
func (r Rule) Evaluate(claim Claim, now time.Time) bool {
	lhs := r.lhs.value(claim, now)
	rhs := r.rhs.value(claim, now)
	switch r.op {
	case OpGE:
		return lhs >= rhs
	case OpLE:
		return lhs <= rhs
	case OpEQ:
		return lhs == rhs
	case OpNE:
		return lhs != rhs
	case OpGT:
		return lhs > rhs
	case OpLT:
		return lhs < rhs
	}
	return false
}

// CheckAll evaluates every rule against a claim.
func CheckAll(rules []Rule, claim Claim, now time.Time) []RuleResult {
	results := make([]RuleResult, 0, len(rules))
	for _, rule := range rules {
		results = append(results, RuleResult{Spec: rule.Spec(), Satisfied: rule.Evaluate(claim, now)})
	}
	return results
}

// AllSatisfied reports whether every rule passes for a claim.
func AllSatisfied(rules []Rule, claim Claim, now time.Time) bool {
	for _, rule := range rules {
		if !rule.Evaluate(claim, now) {
			return false
		}
	}
	return true
}
