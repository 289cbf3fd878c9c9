package workflows

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ActiveLister reads a company's active workflows.
type ActiveLister interface {
	ListActive(ctx context.Context, companyID uuid.UUID) ([]Workflow, error)
}

// FindApplicable returns the workflow that governs subject, or nil when none matches.
func FindApplicable(ctx context.Context, lister ActiveLister, companyID uuid.UUID, subject Subject) (*Workflow, error) {
	candidates, err := lister.ListActive(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return Select(candidates, subject), nil
}

// Select picks the first active workflow by priority (highest first, then creation order)
// whose conditions all hold for subject. The input slice is not modified.
func Select(candidates []Workflow, subject Subject) *Workflow {
	ordered := make([]Workflow, 0, len(candidates))
	for _, wf := range candidates {
		if wf.IsActive {
			ordered = append(ordered, wf)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].Seq < ordered[j].Seq
	})
	for i := range ordered {
		if Matches(ordered[i].Conditions, subject) {
			wf := ordered[i]
			return &wf
		}
	}
	return nil
}

// Matches evaluates the condition conjunction.
func Matches(c Conditions, subject Subject) bool {
	if c.MinAmount != nil && subject.ConvertedAmount.LessThan(*c.MinAmount) {
		return false
	}
	if c.MinAmount == nil && subject.ConvertedAmount.IsNegative() {
		return false
	}
	if c.MaxAmount != nil && subject.ConvertedAmount.GreaterThan(*c.MaxAmount) {
		return false
	}
	if len(c.Categories) > 0 && !containsFold(c.Categories, subject.Category) {
		return false
	}
	if len(c.Roles) > 0 {
		found := false
		for _, role := range c.Roles {
			if role == subject.Role {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsFold(values []string, want string) bool {
	want = strings.TrimSpace(want)
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), want) {
			return true
		}
	}
	return false
}
