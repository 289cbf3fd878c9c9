package approval

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/expenseflow/internal/shared"
	"github.com/odyssey-erp/expenseflow/internal/workflows"
)

var now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func pendingState(submitter uuid.UUID) State {
	return State{ExpenseID: uuid.New(), SubmittedBy: submitter, Status: StatusPending}
}

func approve(id uuid.UUID, role shared.Role, comment string) Action {
	return Action{ApproverID: id, Role: role, Decision: DecisionApproved, Comment: comment, At: now}
}

func reject(id uuid.UUID, role shared.Role) Action {
	return Action{ApproverID: id, Role: role, Decision: DecisionRejected, At: now}
}

func TestManagerThenFinanceApproves(t *testing.T) {
	employee, manager, finance := uuid.New(), uuid.New(), uuid.New()
	state := pendingState(employee)

	state, entry, err := Apply(state, approve(manager, shared.RoleManager, "ok"))
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, state.Status)
	require.True(t, state.Approvals.Manager.Approved)
	require.False(t, state.Approvals.Finance.Approved)
	require.Equal(t, "ok", state.Approvals.Manager.Comment)
	require.Equal(t, manager, *state.Approvals.Manager.Approver)
	require.Equal(t, shared.ApprovalApprove, entry.Action)
	require.Equal(t, manager, entry.ActorID)

	state, _, err = Apply(state, approve(finance, shared.RoleFinance, ""))
	require.NoError(t, err)
	require.Equal(t, StatusApproved, state.Status)
}

func TestSelfApprovalForbidden(t *testing.T) {
	manager := uuid.New()
	state := pendingState(manager)
	_, _, err := Apply(state, approve(manager, shared.RoleManager, ""))
	require.ErrorIs(t, err, ErrSelfApproval)
	require.Equal(t, shared.KindForbidden, shared.KindOf(err))
	require.ErrorIs(t, CanBeApprovedBy(state, manager), ErrSelfApproval)
}

func TestRejectionOverridesPartialApproval(t *testing.T) {
	employee, manager, finance := uuid.New(), uuid.New(), uuid.New()
	state, _, err := Apply(pendingState(employee), approve(manager, shared.RoleManager, ""))
	require.NoError(t, err)

	state, entry, err := Apply(state, reject(finance, shared.RoleFinance))
	require.NoError(t, err)
	require.Equal(t, StatusRejected, state.Status)
	require.Equal(t, shared.ApprovalReject, entry.Action)

	_, _, err = Apply(state, approve(finance, shared.RoleFinance, ""))
	require.ErrorIs(t, err, ErrFinalized)
}

func TestDuplicateApprovalConflicts(t *testing.T) {
	employee, manager := uuid.New(), uuid.New()
	state, _, err := Apply(pendingState(employee), approve(manager, shared.RoleManager, ""))
	require.NoError(t, err)

	again, _, err := Apply(state, approve(manager, shared.RoleManager, ""))
	require.ErrorIs(t, err, ErrDuplicateApproval)
	require.Equal(t, shared.KindConflict, shared.KindOf(err))
	require.Equal(t, state, again)
	require.True(t, HasUserApproved(state, manager, shared.RoleManager))
	require.False(t, HasUserApproved(state, manager, shared.RoleFinance))
}

func TestSecondManagerCannotRefillSlot(t *testing.T) {
	employee, m1, m2 := uuid.New(), uuid.New(), uuid.New()
	state, _, err := Apply(pendingState(employee), approve(m1, shared.RoleManager, ""))
	require.NoError(t, err)
	_, _, err = Apply(state, approve(m2, shared.RoleManager, ""))
	require.ErrorIs(t, err, ErrSlotFilled)
}

func TestOnlyManagerOrFinanceMayAct(t *testing.T) {
	state := pendingState(uuid.New())
	for _, role := range []shared.Role{shared.RoleEmployee, shared.RoleAdmin, ""} {
		_, _, err := Apply(state, approve(uuid.New(), role, ""))
		require.ErrorIs(t, err, ErrRoleNotAllowed, "role %q", role)
	}
}

func TestInvalidDecision(t *testing.T) {
	_, _, err := Apply(pendingState(uuid.New()), Action{ApproverID: uuid.New(), Role: shared.RoleFinance, Decision: "maybe"})
	require.ErrorIs(t, err, ErrInvalidDecision)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	employee, manager, finance := uuid.New(), uuid.New(), uuid.New()
	first, _, err := Apply(pendingState(employee), approve(manager, shared.RoleManager, "first"))
	require.NoError(t, err)
	snapshot := first
	snapshotApprover := *first.Approvals.Manager.Approver

	second, _, err := Apply(first, approve(finance, shared.RoleFinance, ""))
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, first.Status)
	require.False(t, first.Approvals.Finance.Approved)
	require.Equal(t, snapshot.Status, first.Status)
	require.Equal(t, snapshotApprover, *first.Approvals.Manager.Approver)
	require.NotSame(t, first.Approvals.Manager.Approver, second.Approvals.Manager.Approver)
}

// TestRandomSequencesKeepInvariants drives the engine with random actions and
// checks the status invariants after every accepted or refused step.
func TestRandomSequencesKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	submitter := uuid.New()
	actors := []uuid.UUID{submitter, uuid.New(), uuid.New(), uuid.New()}
	roles := []shared.Role{shared.RoleManager, shared.RoleFinance, shared.RoleEmployee}
	decisions := []Decision{DecisionApproved, DecisionApproved, DecisionRejected}

	for run := 0; run < 500; run++ {
		state := pendingState(submitter)
		var history []HistoryEntry
		for step := 0; step < 6; step++ {
			action := Action{
				ApproverID: actors[rng.Intn(len(actors))],
				Role:       roles[rng.Intn(len(roles))],
				Decision:   decisions[rng.Intn(len(decisions))],
				At:         now.Add(time.Duration(step) * time.Minute),
			}
			next, entry, err := Apply(state, action)
			if err != nil {
				require.Equal(t, state, next)
				continue
			}
			require.NotEqual(t, submitter, action.ApproverID)
			history = append(history, entry)
			state = next

			rejected := false
			for _, h := range history {
				if h.Action == shared.ApprovalReject {
					rejected = true
				}
			}
			both := state.Approvals.Manager.Approved && state.Approvals.Finance.Approved
			one := state.Approvals.Manager.Approved != state.Approvals.Finance.Approved
			require.Equal(t, rejected, state.Status == StatusRejected)
			if !rejected {
				require.Equal(t, both, state.Status == StatusApproved)
				require.Equal(t, one, state.Status == StatusProcessing)
			}
		}
	}
}

func specificWorkflow(approver uuid.UUID, auto bool) *workflows.Workflow {
	return &workflows.Workflow{
		ID:       uuid.New(),
		Name:     "ceo sign-off",
		Type:     workflows.TypeSpecificApprover,
		IsActive: true,
		Rules:    workflows.Rules{SpecificApprover: &workflows.SpecificApproverRule{Approver: approver, AutoApprove: auto}},
	}
}

func TestAutoApproveByDesignatedApprover(t *testing.T) {
	u1, u2 := uuid.New(), uuid.New()
	wf := specificWorkflow(u1, true)
	state := pendingState(u2)

	approver, ok := AutoApprover(wf, state)
	require.True(t, ok)
	require.Equal(t, u1, approver)
	require.True(t, ShouldAutoApprove(wf, state, u1))
	require.False(t, ShouldAutoApprove(wf, state, u2))

	next, entry := AutoApprove(state, approver, shared.RoleManager, now)
	require.Equal(t, StatusApproved, next.Status)
	require.True(t, next.AutoApproved)
	require.False(t, next.Approvals.Manager.Approved)
	require.False(t, next.Approvals.Finance.Approved)
	require.Equal(t, shared.ApprovalAuto, entry.Action)
	require.Equal(t, u1, entry.ActorID)
	require.Equal(t, StatusPending, state.Status)
}

func TestAutoApproveGuards(t *testing.T) {
	u1, u2 := uuid.New(), uuid.New()
	state := pendingState(u2)

	require.False(t, ShouldAutoApprove(nil, state, u1))
	require.False(t, ShouldAutoApprove(specificWorkflow(u1, false), state, u1))

	selfWF := specificWorkflow(u2, true)
	_, ok := AutoApprover(selfWF, state)
	require.False(t, ok)

	pct := &workflows.Workflow{Type: workflows.TypePercentage, IsActive: true, Rules: workflows.Rules{
		SpecificApprover: &workflows.SpecificApproverRule{Approver: u1, AutoApprove: true},
	}}
	require.False(t, ShouldAutoApprove(pct, state, u1))

	hybrid := &workflows.Workflow{Type: workflows.TypeHybrid, IsActive: true, Rules: workflows.Rules{
		Hybrid:           &workflows.HybridRule{PrimaryRule: workflows.RuleSpecificApprover, FallbackRule: workflows.RulePercentage},
		SpecificApprover: &workflows.SpecificApproverRule{Approver: u1, AutoApprove: true},
	}}
	require.True(t, ShouldAutoApprove(hybrid, state, u1))

	hybrid.Rules.Hybrid.PrimaryRule = workflows.RulePercentage
	require.False(t, ShouldAutoApprove(hybrid, state, u1))
}
