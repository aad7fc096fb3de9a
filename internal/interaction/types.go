// Package interaction defines the data model shared by the broker, store, and
// fanout layers: the three interaction kinds, their payloads and responses,
// and the error taxonomy they resolve with.
package interaction

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the three interaction payload shapes.
type Kind string

const (
	KindPermission   Kind = "permission"
	KindPlanApproval Kind = "plan-approval"
	KindAskUser      Kind = "ask-user"
)

// Status is the terminal/non-terminal state of an Interaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusResolved  Status = "resolved"
	StatusRejected  Status = "rejected"
	StatusTimedOut  Status = "timedOut"
)

// Metadata carries advisory, kind-agnostic context about a request.
type Metadata struct {
	RiskLevel   string   `json:"riskLevel,omitempty"`
	Category    string   `json:"category,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Interaction is a pending (or just-terminated) human-in-the-loop request.
// SessionId may be the zero uuid.UUID when the request is not session-scoped.
type Interaction struct {
	ID          uuid.UUID   `json:"id"`
	Kind        Kind        `json:"kind"`
	SessionID   uuid.UUID   `json:"sessionId"`
	UserID      string      `json:"userId"`
	Data        any         `json:"data"`
	Metadata    Metadata    `json:"metadata"`
	RequestedAt time.Time   `json:"requestedAt"`
	DecidedAt   *time.Time  `json:"decidedAt,omitempty"`
	Status      Status      `json:"status"`

	// CreatedBy and TraceID are observability-only fields, never interpreted
	// by wire consumers.
	CreatedBy string    `json:"-"`
	TraceID   uuid.UUID `json:"-"`
}

// Snapshot is the read-only view returned by InteractionStore.GetForSessions;
// it never aliases internal mutable state.
type Snapshot struct {
	ID          uuid.UUID `json:"id"`
	Kind        Kind      `json:"kind"`
	SessionID   uuid.UUID `json:"sessionId"`
	UserID      string    `json:"userId"`
	Data        any       `json:"data"`
	Metadata    Metadata  `json:"metadata"`
	RequestedAt time.Time `json:"requestedAt"`
	Status      Status    `json:"status"`
}

// ToSnapshot copies the wire-relevant fields of an Interaction.
func (i *Interaction) ToSnapshot() Snapshot {
	return Snapshot{
		ID:          i.ID,
		Kind:        i.Kind,
		SessionID:   i.SessionID,
		UserID:      i.UserID,
		Data:        i.Data,
		Metadata:    i.Metadata,
		RequestedAt: i.RequestedAt,
		Status:      i.Status,
	}
}

// PermissionDecision is the decision a human makes on a tool-call permission request.
type PermissionDecision string

const (
	DecisionAllow        PermissionDecision = "allow"
	DecisionDeny         PermissionDecision = "deny"
	DecisionAllowSession PermissionDecision = "allow-session"
	DecisionAllowAlways  PermissionDecision = "allow-always"
	DecisionModify       PermissionDecision = "modify"
)

// PermissionPayload describes a tool invocation awaiting authorization.
type PermissionPayload struct {
	ToolName    string         `json:"toolName"`
	ToolInput   map[string]any `json:"toolInput"`
	RiskLevel   string         `json:"riskLevel,omitempty"`
	Category    string         `json:"category,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
}

// PermissionResponse is the human decision on a PermissionPayload.
type PermissionResponse struct {
	Decision          PermissionDecision `json:"decision"`
	UpdatedInput       map[string]any     `json:"updatedInput,omitempty"`
	UpdatedPermissions map[string]any     `json:"updatedPermissions,omitempty"`
}

// Validate enforces the decision=modify ⇒ updatedInput non-nil invariant.
func (r PermissionResponse) Validate() error {
	if r.Decision == DecisionModify && r.UpdatedInput == nil {
		return WithMessage(ErrSchema, "decision=modify requires updatedInput")
	}
	return nil
}

// PermissionMode is the agent-side mode that may short-circuit a permission request.
type PermissionMode string

const (
	ModeDefault           PermissionMode = "default"
	ModeAcceptEdits       PermissionMode = "acceptEdits"
	ModePlan              PermissionMode = "plan"
	ModeBypassPermissions PermissionMode = "bypassPermissions"
)

// PlanApprovalPayload describes a proposed plan awaiting approval.
type PlanApprovalPayload struct {
	PlanMarkdown  string   `json:"planMarkdown"`
	ProposedSteps []string `json:"proposedSteps"`
}

// PlanApprovalResponse is the human decision on a PlanApprovalPayload.
type PlanApprovalResponse struct {
	PermissionMode     PermissionMode `json:"permissionMode"`
	Feedback           string         `json:"feedback,omitempty"`
	UpdatedPermissions map[string]any `json:"updatedPermissions,omitempty"`
}

// Question is a single multiple-choice (or free-text) prompt within an AskUserPayload.
type Question struct {
	Header     string             `json:"header"`
	Question   string             `json:"question"`
	Options    []QuestionOption   `json:"options,omitempty"`
	MultiSelect bool              `json:"multiSelect"`
}

// QuestionOption is one selectable choice for a Question.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// AskUserPayload carries one or more questions posed to the human.
type AskUserPayload struct {
	Questions []Question `json:"questions"`
}

// Validate enforces questions.length >= 1.
func (p AskUserPayload) Validate() error {
	if len(p.Questions) == 0 {
		return WithMessage(ErrSchema, "askUser requires at least one question")
	}
	return nil
}

// AskUserResponse maps question index (as a string key) to answer. A
// multi-select answer is JSON-encoded as an array; Go callers read it via
// AnswerStrings. Free text is carried with the literal "Other: " prefix.
type AskUserResponse struct {
	Answers map[string]any `json:"answers"`
}

// Validate enforces that every question index in payload has a matching
// answer key.
func (r AskUserResponse) Validate(payload AskUserPayload) error {
	for idx := range payload.Questions {
		key := strconv.Itoa(idx)
		if _, ok := r.Answers[key]; !ok {
			return WithMessage(ErrSchema, fmt.Sprintf("missing answer for question %d", idx))
		}
	}
	return nil
}

// AnswerStrings normalizes the answer for question index idx to a string slice,
// whether it was encoded as a single string or a set of strings.
func (r AskUserResponse) AnswerStrings(idx int) []string {
	key := strconv.Itoa(idx)
	v, ok := r.Answers[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
