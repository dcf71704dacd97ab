package domain

type User struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Role         Role   `json:"role" enum:"admin,pm,viewer"`
	PasswordHash string `json:"-"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// CanMutate reports whether the user may run mutating operations.
func (u User) CanMutate() bool {
	return u.Role == RoleAdmin || u.Role == RolePM
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

type Project struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Key       string `json:"key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ExitCriterion is one stage exit checklist row on an issue.
type ExitCriterion struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// EvidenceLink points at supporting material for a stage gate.
type EvidenceLink struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type Issue struct {
	ID                int64           `json:"id"`
	Key               string          `json:"key"`
	ProjectID         int64           `json:"project_id"`
	Type              IssueType       `json:"type"`
	Summary           string          `json:"summary"`
	Description       string          `json:"description,omitempty"`
	Status            IssueStatus     `json:"status"`
	PLCStage          Stage           `json:"plc_stage"`
	AssigneeID        *int64          `json:"assignee_id,omitempty"`
	ReporterID        *int64          `json:"reporter_id,omitempty"`
	Priority          Priority        `json:"priority"`
	RegulatoryImpact  RegulatoryLevel `json:"regulatory_impact"`
	StageExitCriteria []ExitCriterion `json:"stage_exit_criteria"`
	EvidenceLinks     []EvidenceLink  `json:"evidence_links"`
	CreatedAt         string          `json:"created_at" format:"date-time"`
	UpdatedAt         string          `json:"updated_at" format:"date-time"`
}

type Artifact struct {
	ID        int64          `json:"id"`
	IssueID   *int64         `json:"issue_id,omitempty"`
	ProjectID int64          `json:"project_id"`
	Kind      ArtifactKind   `json:"kind"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	Status    ArtifactStatus `json:"status"`
	CreatedBy *int64         `json:"created_by,omitempty"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type Approval struct {
	ID          int64          `json:"id"`
	ArtifactID  int64          `json:"artifact_id"`
	RequestedBy int64          `json:"requested_by"`
	ApproverID  *int64         `json:"approver_id,omitempty"`
	Status      ApprovalStatus `json:"status"`
	Comment     string         `json:"comment,omitempty"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	DecidedAt   *string        `json:"decided_at,omitempty" format:"date-time"`
}

// AuditEvent is an append-only record of a state change.
type AuditEvent struct {
	ID         int64  `json:"id"`
	ActorID    *int64 `json:"actor_user_id,omitempty"`
	ActionType string `json:"action_type"`
	ObjectType string `json:"object_type"`
	ObjectID   string `json:"object_id,omitempty"`
	Payload    string `json:"payload_json"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    int64  `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// MissingRequirement explains why a stage gate blocked a transition.
type MissingRequirement struct {
	Type    string `json:"type" enum:"stage_gate,permission,data"`
	Message string `json:"message"`
}

const (
	RequirementStageGate  = "stage_gate"
	RequirementPermission = "permission"
	RequirementData       = "data"
)
