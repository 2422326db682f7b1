package shift

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"kasirinaja/pos/internal/money"
)

// Tier is the accountability level a closing variance requires.
type Tier int

const (
	TierForgiven Tier = iota
	TierReason
	TierApproval
)

func (t Tier) String() string {
	switch t {
	case TierForgiven:
		return "forgiven"
	case TierReason:
		return "reason"
	case TierApproval:
		return "approval"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// VariancePolicy holds the currency-unit boundaries between tiers.
type VariancePolicy struct {
	ReasonThreshold   decimal.Decimal
	ApprovalThreshold decimal.Decimal
}

func DefaultVariancePolicy() VariancePolicy {
	return VariancePolicy{
		ReasonThreshold:   decimal.NewFromInt(1),
		ApprovalThreshold: decimal.NewFromInt(5),
	}
}

func (p VariancePolicy) Validate() error {
	if p.ReasonThreshold.IsNegative() || p.ApprovalThreshold.IsNegative() {
		return fmt.Errorf("variance thresholds must not be negative")
	}
	if p.ApprovalThreshold.LessThan(p.ReasonThreshold) {
		return fmt.Errorf("approval threshold %s is below reason threshold %s", p.ApprovalThreshold, p.ReasonThreshold)
	}
	return nil
}

// Classify maps a variance to its tier by absolute value.
func (p VariancePolicy) Classify(variance decimal.Decimal) Tier {
	abs := variance.Abs()
	switch {
	case abs.LessThan(p.ReasonThreshold):
		return TierForgiven
	case abs.LessThan(p.ApprovalThreshold):
		return TierReason
	default:
		return TierApproval
	}
}

// ParseVariancePolicy builds a policy from configured decimal strings.
func ParseVariancePolicy(reason string, approval string) (VariancePolicy, error) {
	policy := DefaultVariancePolicy()
	if strings.TrimSpace(reason) != "" {
		value, err := money.Parse(reason)
		if err != nil {
			return VariancePolicy{}, fmt.Errorf("reason threshold: %w", err)
		}
		policy.ReasonThreshold = value
	}
	if strings.TrimSpace(approval) != "" {
		value, err := money.Parse(approval)
		if err != nil {
			return VariancePolicy{}, fmt.Errorf("approval threshold: %w", err)
		}
		policy.ApprovalThreshold = value
	}
	return policy, policy.Validate()
}
