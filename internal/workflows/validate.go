package workflows

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/expenseflow/internal/shared"
)

// Validate checks that the type-specific blocks required by w.Type are present and coherent.
// Every problem found is reported at once.
func Validate(w Workflow) error {
	problems := map[string]string{}
	if strings.TrimSpace(w.Name) == "" {
		problems["name"] = "is required"
	}
	switch w.Type {
	case TypePercentage:
		validatePercentage(w.Rules.Percentage, "rules.percentage", problems)
	case TypeSpecificApprover:
		validateSpecific(w.Rules.SpecificApprover, "rules.specific_approver", problems)
	case TypeHybrid:
		validateHybrid(w.Rules, problems)
	default:
		problems["type"] = fmt.Sprintf("must be one of %s, %s, %s", TypePercentage, TypeSpecificApprover, TypeHybrid)
	}
	validateConditions(w.Conditions, problems)
	validateLevels(w.Levels, problems)
	if w.Priority < 0 {
		problems["priority"] = "must be >= 0"
	}
	if len(problems) > 0 {
		return shared.Validation(problems)
	}
	return nil
}

func validatePercentage(rule *PercentageRule, field string, problems map[string]string) {
	if rule == nil {
		problems[field] = "is required"
		return
	}
	if rule.RequiredPercentage < 1 || rule.RequiredPercentage > 100 {
		problems[field+".required_percentage"] = "must be between 1 and 100"
	}
	if len(rule.EligibleApprovers) == 0 {
		problems[field+".eligible_approvers"] = "must list at least one approver"
	} else if hasNilOrDuplicate(rule.EligibleApprovers) {
		problems[field+".eligible_approvers"] = "must be distinct, non-empty ids"
	}
}

func validateSpecific(rule *SpecificApproverRule, field string, problems map[string]string) {
	if rule == nil {
		problems[field] = "is required"
		return
	}
	if rule.Approver == uuid.Nil {
		problems[field+".approver"] = "is required"
	}
}

func validateHybrid(rules Rules, problems map[string]string) {
	h := rules.Hybrid
	if h == nil {
		problems["rules.hybrid"] = "is required"
		return
	}
	validKind := func(k RuleKind) bool { return k == RulePercentage || k == RuleSpecificApprover }
	if !validKind(h.PrimaryRule) {
		problems["rules.hybrid.primary_rule"] = "must be percentage or specific_approver"
	}
	if !validKind(h.FallbackRule) {
		problems["rules.hybrid.fallback_rule"] = "must be percentage or specific_approver"
	}
	if validKind(h.PrimaryRule) && h.PrimaryRule == h.FallbackRule {
		problems["rules.hybrid.fallback_rule"] = "must differ from primary_rule"
	}
	for _, kind := range []RuleKind{h.PrimaryRule, h.FallbackRule} {
		switch kind {
		case RulePercentage:
			validatePercentage(rules.Percentage, "rules.percentage", problems)
		case RuleSpecificApprover:
			validateSpecific(rules.SpecificApprover, "rules.specific_approver", problems)
		}
	}
}

func validateConditions(c Conditions, problems map[string]string) {
	if c.MinAmount != nil && c.MinAmount.IsNegative() {
		problems["conditions.min_amount"] = "must be >= 0"
	}
	if c.MaxAmount != nil && c.MaxAmount.IsNegative() {
		problems["conditions.max_amount"] = "must be >= 0"
	}
	if c.MinAmount != nil && c.MaxAmount != nil && c.MinAmount.GreaterThan(*c.MaxAmount) {
		problems["conditions.max_amount"] = "must be >= min_amount"
	}
	for _, cat := range c.Categories {
		if strings.TrimSpace(cat) == "" {
			problems["conditions.categories"] = "must not contain blanks"
			break
		}
	}
	for _, role := range c.Roles {
		if _, ok := shared.ParseRole(string(role)); !ok {
			problems["conditions.roles"] = fmt.Sprintf("unknown role %q", role)
			break
		}
	}
}

func validateLevels(levels []Level, problems map[string]string) {
	prev := 0
	for i, lvl := range levels {
		field := fmt.Sprintf("levels[%d]", i)
		if lvl.Level <= prev {
			problems[field+".level"] = "must be strictly ascending and positive"
		}
		prev = lvl.Level
		if len(lvl.Approvers) == 0 {
			problems[field+".approvers"] = "must list at least one approver"
			continue
		}
		if hasNilOrDuplicate(lvl.Approvers) {
			problems[field+".approvers"] = "must be distinct, non-empty ids"
		}
		if lvl.RequiredApprovals < 1 || lvl.RequiredApprovals > len(lvl.Approvers) {
			problems[field+".required_approvals"] = fmt.Sprintf("must be between 1 and %d", len(lvl.Approvers))
		}
	}
}

func hasNilOrDuplicate(ids []uuid.UUID) bool {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			return true
		}
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
	}
	return false
}
