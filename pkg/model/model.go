// Package model defines Chengis's persistent entities: the tagged,
// concretely-typed data model that the Store reads and writes. Every entity
// is scoped under an OrgID tenancy boundary; cross-org reads are forbidden
// by convention at the Store boundary.
package model

import "time"

// BuildStatus is the terminal-or-not lifecycle state of a Build.
type BuildStatus string

const (
	BuildQueued           BuildStatus = "queued"
	BuildRunning          BuildStatus = "running"
	BuildSuccess          BuildStatus = "success"
	BuildFailure          BuildStatus = "failure"
	BuildAborted          BuildStatus = "aborted"
	BuildWaitingApproval  BuildStatus = "waiting-approval"
)

// Terminal reports whether the status ends the build's lifecycle.
func (s BuildStatus) Terminal() bool {
	switch s {
	case BuildSuccess, BuildFailure, BuildAborted:
		return true
	default:
		return false
	}
}

// StageStatus mirrors the per-stage outcome vocabulary used when computing
// the worst-status rollup for a build.
type StageStatus string

const (
	StageSkipped StageStatus = "skipped"
	StageRunning StageStatus = "running"
	StageSuccess StageStatus = "success"
	StageFailure StageStatus = "failure"
	StageAborted StageStatus = "aborted"
)

// severity ranks stage statuses for worst-of rollups: failure > aborted >
// success > skipped > running.
var severity = map[StageStatus]int{
	StageFailure: 3,
	StageAborted: 2,
	StageSuccess: 1,
	StageSkipped: 0,
	StageRunning: -1,
}

// WorstStageStatus returns the more severe of a and b per the ranking
// failure > aborted > success > skipped.
func WorstStageStatus(a, b StageStatus) StageStatus {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

// StepStatus is the outcome of a single step execution.
type StepStatus string

const (
	StepSuccess   StepStatus = "success"
	StepFailure   StepStatus = "failure"
	StepAborted   StepStatus = "aborted"
	StepSkipped   StepStatus = "skipped"
	StepTimedOut  StepStatus = "timed-out"
)

// TriggerType names the origin of a build.
type TriggerType string

const (
	TriggerWebhook    TriggerType = "webhook"
	TriggerCron       TriggerType = "cron"
	TriggerAPI        TriggerType = "api"
	TriggerDependency TriggerType = "dependency"
	TriggerManual     TriggerType = "manual"
)

// Job is the immutable-once-created pipeline definition pointer. Only
// PipelineSource and Triggers may be updated after creation.
type Job struct {
	ID             string
	OrgID          string
	Name           string
	PipelineSource string
	Triggers       []string
	Dependencies   []string
	CreatedAt      time.Time
}

// Build is one execution attempt of a Job against a source ref.
type Build struct {
	ID                    string
	OrgID                 string
	JobID                 string
	BuildNumber           int64
	Status                BuildStatus
	TriggerType           TriggerType
	StartedAt             *time.Time
	CompletedAt           *time.Time
	CreatedAt             time.Time
	GitBranch             string
	GitCommit             string
	GitCommitShort        string
	GitAuthor             string
	GitMessage            string
	PRNumber              *int
	MergeRequestNumber    *int
	Parameters            map[string]string
}

// Stage is a named phase of a pipeline run.
type Stage struct {
	ID                string
	BuildID           string
	StageName         string
	Status            StageStatus
	StartedAt         *time.Time
	CompletedAt       *time.Time
	DependsOn         []string
	MatrixCombination map[string]string
}

// Step is a leaf command inside a Stage.
type Step struct {
	ID               string
	BuildID          string
	StageName        string
	StepName         string
	Status           StepStatus
	ExitCode         *int
	StdoutTruncated  bool
	StderrTruncated  bool
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// BuildLog is an append-only log line attached to a build.
type BuildLog struct {
	BuildID   string
	Timestamp time.Time
	Level     string
	Source    string
	Message   string
}

// EventType enumerates the known event-bus event kinds. Critical types are
// those the event bus backpressures on instead of dropping.
type EventType string

const (
	EventBuildStarted     EventType = "build-started"
	EventBuildCompleted   EventType = "build-completed"
	EventBuildCancelled   EventType = "build-cancelled"
	EventStageStarted     EventType = "stage-started"
	EventStageCompleted   EventType = "stage-completed"
	EventStepStarted      EventType = "step-started"
	EventStepCompleted    EventType = "step-completed"
	EventLogLine          EventType = "log-line"
	EventHeartbeat        EventType = "heartbeat"
	EventProgress         EventType = "progress"
	EventApprovalRequested EventType = "approval-requested"
	EventCacheHit         EventType = "cache-hit"
	EventProvenanceNotice EventType = "provenance-notice"
)

// criticalEventTypes backs IsCritical.
var criticalEventTypes = map[EventType]bool{
	EventBuildStarted:   true,
	EventBuildCompleted: true,
	EventBuildCancelled: true,
	EventStageStarted:   true,
	EventStageCompleted: true,
	EventStepStarted:    true,
	EventStepCompleted:  true,
}

// IsCritical reports whether t must be delivered via the backpressured,
// blocking-with-timeout publish path rather than dropped on a full channel.
func (t EventType) IsCritical() bool {
	return criticalEventTypes[t]
}

// BuildEvent is an append-only, time-ordered record on the event bus.
// Replaying events for a build in ID order reproduces the full build story.
type BuildEvent struct {
	ID        string
	BuildID   string
	EventType EventType
	StageName string
	StepName  string
	Data      map[string]any
	CreatedAt time.Time
}

// GateStatus is the approval-gate state machine's vocabulary.
type GateStatus string

const (
	GatePending   GateStatus = "pending"
	GateApproved  GateStatus = "approved"
	GateRejected  GateStatus = "rejected"
	GateTimedOut  GateStatus = "timed-out"
	GateCancelled GateStatus = "cancelled"
)

// Terminal reports whether the gate status ends the approval wait.
func (s GateStatus) Terminal() bool { return s != GatePending }

// ApprovalGate is an approval barrier attached to a stage.
type ApprovalGate struct {
	ID             string
	BuildID        string
	StageName      string
	Status         GateStatus
	RequiredRole   string
	Message        string
	TimeoutMinutes int
	ApprovedBy     string
	ApprovedAt     *time.Time
	RejectedBy     string
	RejectedAt     *time.Time
	CreatedAt      time.Time
}

// AuditLog is one entry in the tamper-evident, hash-chained audit trail.
type AuditLog struct {
	ID           int64
	UserID       string
	Username     string
	Action       string
	ResourceType string
	ResourceID   string
	Detail       string
	IPAddress    string
	Timestamp    time.Time
	PrevHash     string
	Hash         string
}

// CacheEntry is an immutable (job-id, resolved-key) -> path artifact cache
// row. Once written, it is never overwritten.
type CacheEntry struct {
	JobID       string
	ResolvedKey string
	Path        string
	CreatedAt   time.Time
	// BaseArtifactPath is non-empty when Path holds a block delta rather
	// than a full copy: the artifact was reconstructed by diffing against
	// the prior save at this path, which must still exist for Restore to
	// apply the delta.
	BaseArtifactPath string
}

// StageCacheRecord is a (job-id, fingerprint) -> stage-result row.
type StageCacheRecord struct {
	JobID       string
	Fingerprint string
	StageName   string
	Status      StageStatus
	Steps       []Step
	CreatedAt   time.Time
}

// IaCState is one immutable, gzip-compressed version of a project's
// infrastructure state.
type IaCState struct {
	ProjectID     string
	WorkspaceName string
	Version       int64
	StateContent  []byte // base64 text of the gzip-compressed plaintext
	StateHash     string // SHA-256 of plaintext
	StateSize     int64
	CreatedBy     string
	CreatedAt     time.Time
}

// IaCLock is a per-project exclusive lock held during plan/apply.
type IaCLock struct {
	ProjectID string
	LockedBy  string
	LockedAt  time.Time
}

// Environment is a deployment target ordered within a promotion chain.
type Environment struct {
	ID               string
	OrgID            string
	Name             string
	EnvOrder         int
	RequiresApproval bool
	AutoPromote      bool
	LockedBy         string
	LockedAt         *time.Time
}

// DeploymentStrategy names the deployment shape.
type DeploymentStrategy string

const (
	StrategyDirect     DeploymentStrategy = "direct"
	StrategyBlueGreen  DeploymentStrategy = "blue-green"
	StrategyCanary     DeploymentStrategy = "canary"
)

// DeploymentStatus mirrors the deployment lifecycle.
type DeploymentStatus string

const (
	DeploymentPending   DeploymentStatus = "pending"
	DeploymentRunning   DeploymentStatus = "running"
	DeploymentSucceeded DeploymentStatus = "succeeded"
	DeploymentFailed    DeploymentStatus = "failed"
)

// Deployment is a deployment attempt of a Build to an Environment.
type Deployment struct {
	ID            string
	BuildID       string
	EnvironmentID string
	Strategy      DeploymentStrategy
	Status        DeploymentStatus
	LockID        string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// DeploymentStep is one step of a deployment's strategy expansion.
type DeploymentStep struct {
	ID           string
	DeploymentID string
	Name         string
	Status       StepStatus
	Percent      int // for canary promote-X% steps; 0 otherwise
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// PromotionStatus mirrors the promotion lifecycle.
type PromotionStatus string

const (
	PromotionPending PromotionStatus = "pending"
	PromotionPlaced  PromotionStatus = "placed"
	PromotionRejected PromotionStatus = "rejected"
)

// Promotion moves a Build's artifact from one Environment to another,
// ordered by EnvOrder.
type Promotion struct {
	ID         string
	BuildID    string
	FromEnvID  string
	ToEnvID    string
	Status     PromotionStatus
	CreatedAt  time.Time
}

// EnvironmentArtifact records that a build's artifact is placed in an
// environment, the unit a Promotion moves.
type EnvironmentArtifact struct {
	EnvironmentID string
	BuildID       string
	PlacedAt      time.Time
}

// Signature is a detached signature over a build artifact.
type Signature struct {
	BuildID       string
	Signer        string
	KeyReference  string
	SignatureValue string
	TargetDigest  string
	Verified      bool
	CreatedAt     time.Time
}

// Attestation is a DSSE-enveloped SLSA predicate for a build. SourceRepo,
// SourceBranch, and SourceCommit are persisted alongside the envelope
// itself rather than left to decode out of the base64 Payload, so the
// build's provenance is queryable without parsing the envelope.
type Attestation struct {
	BuildID      string
	PayloadType  string
	Payload      string // base64 of JSON({_type, subject, predicate})
	Signatures   []string
	SourceRepo   string
	SourceBranch string
	SourceCommit string
	CreatedAt    time.Time
}

// SBOM is a generated software bill of materials for a build.
type SBOM struct {
	BuildID        string
	Format         string
	Version        string
	ComponentCount int
	ContentHash    string
	ToolName       string
	ToolVersion    string
	Content        []byte
	CreatedAt      time.Time
}

// WebhookPayload is a raw inbound webhook delivery, kept verbatim so it
// can be replayed against the configured inbound handler later.
type WebhookPayload struct {
	ID         string
	Provider   string // "github", "gitlab"
	EventType  string // x-github-event / x-gitlab-event header value
	Headers    map[string]string
	Body       []byte
	ReceivedAt time.Time
}

// LicenseReport is the license policy evaluation result for a build's SBOM.
type LicenseReport struct {
	BuildID string
	Allowed []string
	Denied  []string
	Unknown []string
	Passed  bool
}
