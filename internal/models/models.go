// Package models holds the shared entity structs described in spec.md §3.
// Repositories map rows to these types; services operate on them; nothing
// below owns a foreign entity by pointer -- everything is resolved by id
// through a repository (spec.md §9, "graph as arena+indices").
package models

import "time"

// TaskStatus is the closed set of task lifecycle states.
type TaskStatus string

const (
	StatusBacklog            TaskStatus = "backlog"
	StatusReady              TaskStatus = "ready"
	StatusPlanning           TaskStatus = "planning"
	StatusActive             TaskStatus = "active"
	StatusBlocked            TaskStatus = "blocked"
	StatusReview             TaskStatus = "review"
	StatusHumanNeedsToReview TaskStatus = "human_needs_to_review"
	StatusDone               TaskStatus = "done"
	StatusCancelled          TaskStatus = "cancelled"
)

// AssigneeKind is who a task is currently assigned to.
type AssigneeKind string

const (
	AssigneeHuman AssigneeKind = "human"
	AssigneeAgent AssigneeKind = "agent"
)

// VALID_TRANSITIONS is the fixed status transition DAG spec.md §3 requires
// every service to expose. done and cancelled are terminal except for the
// explicit revive transition back to backlog.
// active -> ready is the heartbeat reaper's recovery edge (spec.md:259):
// a stalled run's task returns to the pool rather than staying stuck active.
var VALID_TRANSITIONS = map[TaskStatus][]TaskStatus{
	StatusBacklog:            {StatusReady, StatusPlanning, StatusCancelled},
	StatusReady:              {StatusPlanning, StatusActive, StatusBlocked, StatusCancelled},
	StatusPlanning:           {StatusReady, StatusActive, StatusBlocked, StatusCancelled},
	StatusActive:             {StatusReady, StatusBlocked, StatusReview, StatusHumanNeedsToReview, StatusDone, StatusCancelled},
	StatusBlocked:            {StatusReady, StatusActive, StatusCancelled},
	StatusReview:             {StatusActive, StatusHumanNeedsToReview, StatusDone, StatusCancelled},
	StatusHumanNeedsToReview: {StatusActive, StatusDone, StatusCancelled},
	StatusDone:               {StatusBacklog}, // revive
	StatusCancelled:          {StatusBacklog}, // revive
}

// CanTransition reports whether from -> to is a legal edge in VALID_TRANSITIONS.
func CanTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range VALID_TRANSITIONS[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ReadyCapableStatuses is the policy the Ready service uses to decide which
// statuses permit execution. spec.md §4.F and §9's Open Questions leave the
// exact set to the implementer with `ready` as the documented default;
// SPEC_FULL keeps that default.
var ReadyCapableStatuses = map[TaskStatus]bool{
	StatusReady: true,
}

// Task is the base entity (spec.md §3).
type Task struct {
	ID           string
	Title        string
	Description  string
	Status       TaskStatus
	ParentID     *string
	Score        int
	Metadata     map[string]any
	AssigneeKind *AssigneeKind
	AssigneeID   *string
	AssignedAt   *time.Time
	AssignedBy   *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// TaskWithDeps is the canonical read-time API response shape (spec.md §3,
// §6): a task plus four derived fields. No endpoint may return a bare Task.
type TaskWithDeps struct {
	Task
	BlockedBy []Task `json:"blockedBy"`
	Blocks    []Task `json:"blocks"`
	Children  []Task `json:"children"`
	IsReady   bool   `json:"isReady"`
}

// Dependency is an unordered (blocker, blocked) pair.
type Dependency struct {
	BlockerID string
	BlockedID string
	CreatedAt time.Time
}

// WorkerStatus is the closed set of worker lifecycle states.
type WorkerStatus string

const (
	WorkerStarting WorkerStatus = "starting"
	WorkerIdle     WorkerStatus = "idle"
	WorkerBusy     WorkerStatus = "busy"
	WorkerStopping WorkerStatus = "stopping"
	WorkerDead     WorkerStatus = "dead"
)

// Worker is a registered executor.
type Worker struct {
	ID              string
	Name            string
	Hostname        string
	PID             int
	Status          WorkerStatus
	RegisteredAt    time.Time
	LastHeartbeatAt time.Time
	CurrentTaskID   *string
	Capabilities    []string
	Metadata        map[string]any
}

// ClaimStatus is the closed set of claim lifecycle states.
type ClaimStatus string

const (
	ClaimActive   ClaimStatus = "active"
	ClaimReleased ClaimStatus = "released"
	ClaimExpired  ClaimStatus = "expired"
)

// Claim links a task to a worker for a bounded lease.
type Claim struct {
	ID             int64
	TaskID         string
	WorkerID       string
	ClaimedAt      time.Time
	LeaseExpiresAt time.Time
	RenewedCount   int
	Status         ClaimStatus
}

// RunStatus is the closed set of run lifecycle states.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunTimeout   RunStatus = "timeout"
	RunCancelled RunStatus = "cancelled"
)

// LogCaptureState is the per-stream state of a run's captured output.
type LogCaptureState string

const (
	LogCaptured    LogCaptureState = "captured"
	LogNotReported LogCaptureState = "not_reported"
	LogUnreadable  LogCaptureState = "unreadable"
)

// LogCapture describes one stream (stdout/stderr/transcript)'s capture
// outcome -- the contract the run-detail API surfaces without mutating
// state (spec.md §4.I).
type LogCapture struct {
	Path   string          `json:"path,omitempty"`
	State  LogCaptureState `json:"state"`
	Reason string          `json:"reason,omitempty"`
	Bytes  int64           `json:"bytes,omitempty"`
}

// RunMetadata is the structured subset of Run.Metadata the core itself
// reads back (logCapture); arbitrary caller fields ride alongside it in the
// same JSON object.
type RunMetadata struct {
	LogCapture map[string]LogCapture `json:"logCapture,omitempty"`
	Extra      map[string]any        `json:"-"`
}

// Run is a single agent invocation.
type Run struct {
	ID             string
	TaskID         *string
	AgentName      string
	StartedAt      time.Time
	EndedAt        *time.Time
	Status         RunStatus
	ExitCode       *int
	PID            *int
	TranscriptPath *string
	StdoutPath     *string
	StderrPath     *string
	ContextPath    *string
	Summary        *string
	Error          *string
	Metadata       map[string]any
}

// HeartbeatState is the sole source of truth for a run's staleness
// classification.
type HeartbeatState struct {
	RunID           string
	LastCheckAt     time.Time
	LastActivityAt  time.Time
	StdoutBytes     int64
	StderrBytes     int64
	TranscriptBytes int64
	LastDeltaBytes  int64
}

// LearningSourceType is the closed set of learning provenance kinds.
type LearningSourceType string

const (
	SourceCompaction LearningSourceType = "compaction"
	SourceRun        LearningSourceType = "run"
	SourceManual     LearningSourceType = "manual"
	SourceClaudeMD   LearningSourceType = "claude_md"
)

// Learning is an append-only, FTS-indexed insight.
type Learning struct {
	ID           int64
	Content      string
	SourceType   LearningSourceType
	SourceRef    *string
	Keywords     string
	Category     string
	UsageCount   int
	LastUsedAt   *time.Time
	OutcomeScore float64
	Embedding    []float32
	RunID        *string
	CreatedAt    time.Time
}

// AnchorKind is the closed set of anchor binding kinds.
type AnchorKind string

const (
	AnchorGlob      AnchorKind = "glob"
	AnchorHash      AnchorKind = "hash"
	AnchorSymbol    AnchorKind = "symbol"
	AnchorLineRange AnchorKind = "line_range"
)

// AnchorStatus is the closed set of anchor verification states.
type AnchorStatus string

const (
	AnchorValid   AnchorStatus = "valid"
	AnchorDrifted AnchorStatus = "drifted"
	AnchorInvalid AnchorStatus = "invalid"
)

// Anchor binds a learning to a file location.
type Anchor struct {
	ID           int64
	LearningID   int64
	Kind         AnchorKind
	FilePath     string
	Value        string
	ContentHash  *string
	SymbolFQName *string
	LineStart    *int
	LineEnd      *int
	Status       AnchorStatus
	CreatedAt    time.Time
}

// NodeKind is the closed set of graph endpoint kinds.
type NodeKind string

const (
	NodeLearning NodeKind = "learning"
	NodeFile     NodeKind = "file"
	NodeRun      NodeKind = "run"
	NodeTask     NodeKind = "task"
)

// EdgeType is the (open-ended, extensible) vocabulary of typed edges;
// spec.md §3 lists the closed minimum this core must support.
type EdgeType string

const (
	EdgeAnchoredTo    EdgeType = "ANCHORED_TO"
	EdgeDerivedFrom   EdgeType = "DERIVED_FROM"
	EdgeSimilarTo     EdgeType = "SIMILAR_TO"
	EdgeLinksTo       EdgeType = "LINKS_TO"
	EdgeImports       EdgeType = "IMPORTS"
	EdgeCoChangesWith EdgeType = "CO_CHANGES_WITH"
	EdgeUsedInRun     EdgeType = "USED_IN_RUN"
)

// KnownEdgeTypes is the edge-type vocabulary edge.CreateEdge accepts. It is
// a fixed set; no configuration setting extends it.
var KnownEdgeTypes = map[EdgeType]bool{
	EdgeAnchoredTo: true, EdgeDerivedFrom: true, EdgeSimilarTo: true,
	EdgeLinksTo: true, EdgeImports: true, EdgeCoChangesWith: true, EdgeUsedInRun: true,
}

// Node identifies one endpoint of an Edge.
type Node struct {
	Kind NodeKind
	ID   string
}

// Edge is a directed, weighted, typed relationship between two Nodes.
type Edge struct {
	ID        int64
	Type      EdgeType
	Source    Node
	Target    Node
	Weight    float64
	Metadata  map[string]any
	Valid     bool
	CreatedAt time.Time
}

// Attempt is an append-only log of a task-solving attempt.
type Attempt struct {
	ID        int64
	TaskID    string
	RunID     *string
	Outcome   string
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FileLearning links a file path to a learning.
type FileLearning struct {
	ID         int64
	FilePath   string
	LearningID int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EventType is the closed (extensible) set of activity-log event kinds.
type EventType string

const (
	EventRunStarted       EventType = "run_started"
	EventRunCompleted     EventType = "run_completed"
	EventRunFailed        EventType = "run_failed"
	EventTaskCreated      EventType = "task_created"
	EventTaskUpdated      EventType = "task_updated"
	EventTaskCompleted    EventType = "task_completed"
	EventToolCall         EventType = "tool_call"
	EventToolResult       EventType = "tool_result"
	EventError            EventType = "error"
	EventLearningCaptured EventType = "learning_captured"
	EventMetric           EventType = "metric"
)

// Event is one append-only activity log row.
type Event struct {
	ID         int64
	Timestamp  time.Time
	Type       EventType
	RunID      *string
	TaskID     *string
	Agent      *string
	ToolName   *string
	Content    string
	Metadata   map[string]any
	DurationMS *int64
}
