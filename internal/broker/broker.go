// Package broker implements the three typed entry points the agent runtime
// awaits — requestPermission, requestPlanApproval, askUser — translating
// domain calls into generic interactions over internal/store.
//
// Grounded on internal/actor/user_interaction_client.go's
// RequestAuthorization/RequestUserInput/RequestMultipleAnswers/
// RequestPlanningQuestion request-wrapper idiom.
package broker

import (
	"context"

	"github.com/google/uuid"

	"github.com/humanloop/ibroker/internal/interaction"
	"github.com/humanloop/ibroker/internal/logger"
	"github.com/humanloop/ibroker/internal/store"
)

// acceptEditsTools is the tool set that short-circuits to an implicit allow
// under PermissionMode acceptEdits.
var acceptEditsTools = map[string]bool{
	"Read":  true,
	"Write": true,
	"Edit":  true,
}

// planModeAllowedTools is the tool allow-list under PermissionMode plan; any
// tool not in this set still raises a permission request even in plan mode.
var planModeAllowedTools = map[string]bool{
	"Read":             true,
	"Glob":             true,
	"Grep":             true,
	"Task":             true,
	"ExitPlanMode":     true,
	"TodoRead":         true,
	"TodoWrite":        true,
	"AskUserQuestion":  true,
}

// Broker is the facade the agent runtime calls into. It is constructed with
// an explicit *store.InteractionStore (dependency injection, no global
// singleton) so tests can substitute a fresh store per case.
type Broker struct {
	store *store.InteractionStore
}

// New constructs a Broker over s.
func New(s *store.InteractionStore) *Broker {
	return &Broker{store: s}
}

// await blocks on fut until it completes, ctx is cancelled, or ctx has no
// deadline and never returns early. On ctx cancellation it cancels the
// interaction in the store and returns ctx.Err().
func await[T any](ctx context.Context, s *store.InteractionStore, id uuid.UUID, fut *store.Future) (T, error) {
	var zero T
	select {
	case outcome := <-fut.Chan():
		if outcome.Err != nil {
			return zero, outcome.Err
		}
		v, ok := outcome.Response.(T)
		if !ok {
			return zero, interaction.ErrInternal
		}
		return v, nil
	case <-ctx.Done():
		_ = s.Cancel(id)
		// Draining the future prevents a goroutine leak if Cancel's reject
		// races with a concurrent resolve that already fired the channel.
		select {
		case <-fut.Chan():
		default:
		}
		return zero, ctx.Err()
	}
}

// RequestPermission raises a permission interaction for a tool invocation,
// unless mode short-circuits it: acceptEdits auto-allows {Read,Write,Edit};
// plan mode restricts execution to its allow-list, with everything else
// falling through to a real interaction.
func (b *Broker) RequestPermission(ctx context.Context, toolName string, toolInput map[string]any, sessionID uuid.UUID, userID string, suggestions []string, mode interaction.PermissionMode) (interaction.PermissionResponse, error) {
	if mode == interaction.ModeAcceptEdits && acceptEditsTools[toolName] {
		logger.Debug("permission for %s auto-allowed under acceptEdits", toolName)
		return interaction.PermissionResponse{Decision: interaction.DecisionAllow}, nil
	}
	if mode == interaction.ModePlan && planModeAllowedTools[toolName] {
		logger.Debug("permission for %s auto-allowed under plan mode allow-list", toolName)
		return interaction.PermissionResponse{Decision: interaction.DecisionAllow}, nil
	}

	payload := interaction.PermissionPayload{
		ToolName:    toolName,
		ToolInput:   toolInput,
		Suggestions: suggestions,
	}
	meta := interaction.Metadata{Suggestions: suggestions}

	id, fut, err := b.store.Create(interaction.KindPermission, sessionID, userID, payload, meta)
	if err != nil {
		return interaction.PermissionResponse{}, err
	}

	return await[interaction.PermissionResponse](ctx, b.store, id, fut)
}

// RequestPlanApproval raises a plan-approval interaction and awaits the
// human's decision on whether to proceed, and under which permission mode.
func (b *Broker) RequestPlanApproval(ctx context.Context, planMarkdown string, proposedSteps []string, sessionID uuid.UUID, userID string) (interaction.PlanApprovalResponse, error) {
	payload := interaction.PlanApprovalPayload{PlanMarkdown: planMarkdown, ProposedSteps: proposedSteps}

	id, fut, err := b.store.Create(interaction.KindPlanApproval, sessionID, userID, payload, interaction.Metadata{})
	if err != nil {
		return interaction.PlanApprovalResponse{}, err
	}

	return await[interaction.PlanApprovalResponse](ctx, b.store, id, fut)
}

// AskUser raises an ask-user interaction carrying one or more questions and
// awaits the human's answers.
func (b *Broker) AskUser(ctx context.Context, questions []interaction.Question, sessionID uuid.UUID, userID string) (interaction.AskUserResponse, error) {
	payload := interaction.AskUserPayload{Questions: questions}
	if err := payload.Validate(); err != nil {
		return interaction.AskUserResponse{}, err
	}

	id, fut, err := b.store.Create(interaction.KindAskUser, sessionID, userID, payload, interaction.Metadata{})
	if err != nil {
		return interaction.AskUserResponse{}, err
	}

	return await[interaction.AskUserResponse](ctx, b.store, id, fut)
}
