// Package store declares the persistence boundary the build execution
// engine consumes. The relational schema, migrations, and DB driver are out
// of scope for the core; this package only types the interface and ships an
// in-memory reference implementation suitable for tests and for embedding
// in tools that do not need durability.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sremani/chengis/pkg/model"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = fmt.Errorf("not found")

// ErrConflict is returned when a write violates a uniqueness or
// conditional-update constraint (lock already held, duplicate webhook
// payload ID).
var ErrConflict = fmt.Errorf("conflict")

// Store is the full persistence surface: builds, stages, steps, logs,
// events, approval gates, audit, caches, IaC state/locks, deployment
// entities, and provenance outputs. All reads and writes are implicitly
// scoped by OrgID carried on the entity itself; the in-memory implementation
// does not enforce cross-org isolation beyond what callers pass in, since
// access control is a control-plane concern.
type Store interface {
	CreateJob(ctx context.Context, j model.Job) error
	GetJob(ctx context.Context, id string) (model.Job, error)
	UpdateJobSource(ctx context.Context, id, pipelineSource string, triggers []string) error

	CreateBuild(ctx context.Context, b model.Build) error
	GetBuild(ctx context.Context, id string) (model.Build, error)
	UpdateBuildStatus(ctx context.Context, id string, status model.BuildStatus, completedAt *int64) error
	NextBuildNumber(ctx context.Context, jobID string) (int64, error)
	NonTerminalBuildExists(ctx context.Context, jobID, gitCommit string) (bool, error)

	AppendStage(ctx context.Context, s model.Stage) error
	UpdateStage(ctx context.Context, s model.Stage) error
	ListStages(ctx context.Context, buildID string) ([]model.Stage, error)

	AppendStep(ctx context.Context, s model.Step) error
	UpdateStep(ctx context.Context, s model.Step) error
	ListSteps(ctx context.Context, buildID, stageName string) ([]model.Step, error)

	AppendLog(ctx context.Context, l model.BuildLog) error
	ListLogs(ctx context.Context, buildID string) ([]model.BuildLog, error)

	AppendEvent(ctx context.Context, e model.BuildEvent) error
	ListEvents(ctx context.Context, buildID string) ([]model.BuildEvent, error)

	CreateGate(ctx context.Context, g model.ApprovalGate) error
	GetGate(ctx context.Context, id string) (model.ApprovalGate, error)
	// ApproveGate performs the conditional update
	// SET status='approved' WHERE id=id AND status='pending', returning
	// the number of rows affected (0 or 1). Exactly one caller among any
	// number of concurrent callers observes 1.
	ApproveGate(ctx context.Context, id, user string, at int64) (int, error)
	// RejectGate is ApproveGate's symmetric counterpart.
	RejectGate(ctx context.Context, id, user string, at int64) (int, error)

	AppendAudit(ctx context.Context, a model.AuditLog) (model.AuditLog, error)
	ListAudit(ctx context.Context) ([]model.AuditLog, error)
	LastAuditHash(ctx context.Context) (string, error)

	// SaveCacheEntry writes an artifact cache row iff one does not already
	// exist for (jobID, resolvedKey); second writer is a no-op and the
	// bool return reports whether this call actually wrote.
	SaveCacheEntry(ctx context.Context, e model.CacheEntry) (wrote bool, err error)
	GetCacheEntry(ctx context.Context, jobID, resolvedKey string) (model.CacheEntry, error)

	// SaveStageCacheRecord writes a stage-result cache row iff one does not
	// already exist for (jobID, fingerprint); first writer wins.
	SaveStageCacheRecord(ctx context.Context, r model.StageCacheRecord) (wrote bool, err error)
	GetStageCacheRecord(ctx context.Context, jobID, fingerprint string) (model.StageCacheRecord, error)

	SaveIaCState(ctx context.Context, s model.IaCState) (model.IaCState, error)
	LatestIaCState(ctx context.Context, projectID, workspaceName string) (model.IaCState, error)
	// AcquireIaCLock succeeds if no lock exists or the existing lock is
	// already owned by lockedBy.
	AcquireIaCLock(ctx context.Context, projectID, lockedBy string, at int64) error
	ReleaseIaCLock(ctx context.Context, projectID, lockedBy string) error
	ForceUnlockIaC(ctx context.Context, projectID string) error
	GetIaCLock(ctx context.Context, projectID string) (model.IaCLock, bool, error)

	CreateEnvironment(ctx context.Context, e model.Environment) error
	GetEnvironment(ctx context.Context, id string) (model.Environment, error)
	ListEnvironments(ctx context.Context, orgID string) ([]model.Environment, error)
	// LockEnvironment succeeds if unlocked or already locked by lockID.
	LockEnvironment(ctx context.Context, id, lockID string) error
	UnlockEnvironment(ctx context.Context, id, lockID string) error

	CreateDeployment(ctx context.Context, d model.Deployment) error
	UpdateDeploymentStatus(ctx context.Context, id string, status model.DeploymentStatus) error
	GetDeployment(ctx context.Context, id string) (model.Deployment, error)
	LastSucceededDeployment(ctx context.Context, environmentID string, beforeCreatedAt int64) (model.Deployment, bool, error)
	CreateDeploymentStep(ctx context.Context, s model.DeploymentStep) error
	UpdateDeploymentStep(ctx context.Context, s model.DeploymentStep) error
	ListDeploymentSteps(ctx context.Context, deploymentID string) ([]model.DeploymentStep, error)

	CreatePromotion(ctx context.Context, p model.Promotion) error
	UpdatePromotionStatus(ctx context.Context, id string, status model.PromotionStatus) error
	PlaceArtifact(ctx context.Context, a model.EnvironmentArtifact) error
	ArtifactPlaced(ctx context.Context, environmentID, buildID string) (bool, error)

	SaveSignature(ctx context.Context, s model.Signature) error
	SaveAttestation(ctx context.Context, a model.Attestation) error
	SaveSBOM(ctx context.Context, s model.SBOM) error
	SaveLicenseReport(ctx context.Context, r model.LicenseReport) error

	SaveWebhookPayload(ctx context.Context, p model.WebhookPayload) (model.WebhookPayload, error)
	GetWebhookPayload(ctx context.Context, id string) (model.WebhookPayload, error)
	ListWebhookPayloads(ctx context.Context, provider string) ([]model.WebhookPayload, error)
	DeleteWebhookPayload(ctx context.Context, id string) error
}

// Memory is an in-memory Store suitable for tests and embedding. All
// methods are safe for concurrent use; conditional updates use a single
// package-level lock per store instance rather than per-row locking, which
// is sufficient at in-memory scale and keeps the single-winner and dedup
// invariants trivially serializable.
type Memory struct {
	mu sync.Mutex

	jobs   map[string]model.Job
	builds map[string]model.Build
	stages map[string][]model.Stage // buildID -> stages in append order
	steps  map[string][]model.Step  // buildID -> steps in append order
	logs   map[string][]model.BuildLog
	events map[string][]model.BuildEvent

	gates map[string]model.ApprovalGate

	audit []model.AuditLog

	cacheEntries map[string]model.CacheEntry       // jobID|resolvedKey
	stageCache   map[string]model.StageCacheRecord // jobID|fingerprint

	iacStates map[string][]model.IaCState // projectID|workspace -> versions
	iacLocks  map[string]model.IaCLock

	environments map[string]model.Environment
	deployments  map[string]model.Deployment
	deploySteps  map[string][]model.DeploymentStep
	promotions   map[string]model.Promotion
	artifacts    map[string]model.EnvironmentArtifact // environmentID|buildID

	signatures     map[string][]model.Signature
	attestations   map[string][]model.Attestation
	sboms          map[string][]model.SBOM
	licenseReports map[string][]model.LicenseReport

	buildNumbers map[string]int64 // jobID -> last issued number

	webhooks     map[string]model.WebhookPayload // id -> payload
	webhookOrder []string                         // insertion order, for listing
}

// NewMemory constructs an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		jobs:           make(map[string]model.Job),
		builds:         make(map[string]model.Build),
		stages:         make(map[string][]model.Stage),
		steps:          make(map[string][]model.Step),
		logs:           make(map[string][]model.BuildLog),
		events:         make(map[string][]model.BuildEvent),
		gates:          make(map[string]model.ApprovalGate),
		cacheEntries:   make(map[string]model.CacheEntry),
		stageCache:     make(map[string]model.StageCacheRecord),
		iacStates:      make(map[string][]model.IaCState),
		iacLocks:       make(map[string]model.IaCLock),
		environments:   make(map[string]model.Environment),
		deployments:    make(map[string]model.Deployment),
		deploySteps:    make(map[string][]model.DeploymentStep),
		promotions:     make(map[string]model.Promotion),
		artifacts:      make(map[string]model.EnvironmentArtifact),
		signatures:     make(map[string][]model.Signature),
		attestations:   make(map[string][]model.Attestation),
		sboms:          make(map[string][]model.SBOM),
		licenseReports: make(map[string][]model.LicenseReport),
		buildNumbers:   make(map[string]int64),
		webhooks:       make(map[string]model.WebhookPayload),
	}
}

var _ Store = (*Memory)(nil)

func cacheKey(a, b string) string { return a + "|" + b }

// --- Job ---

func (m *Memory) CreateJob(_ context.Context, j model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return model.Job{}, ErrNotFound
	}
	return j, nil
}

func (m *Memory) UpdateJobSource(_ context.Context, id, pipelineSource string, triggers []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.PipelineSource = pipelineSource
	j.Triggers = triggers
	m.jobs[id] = j
	return nil
}

// --- Build ---

func (m *Memory) CreateBuild(_ context.Context, b model.Build) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.builds[b.ID] = b
	return nil
}

func (m *Memory) GetBuild(_ context.Context, id string) (model.Build, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.builds[id]
	if !ok {
		return model.Build{}, ErrNotFound
	}
	return b, nil
}

func (m *Memory) UpdateBuildStatus(_ context.Context, id string, status model.BuildStatus, completedAtUnix *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.builds[id]
	if !ok {
		return ErrNotFound
	}
	b.Status = status
	if completedAtUnix != nil {
		t := unixToTime(*completedAtUnix)
		b.CompletedAt = &t
	}
	m.builds[id] = b
	return nil
}

func (m *Memory) NextBuildNumber(_ context.Context, jobID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buildNumbers[jobID]++
	return m.buildNumbers[jobID], nil
}

func (m *Memory) NonTerminalBuildExists(_ context.Context, jobID, gitCommit string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.builds {
		if b.JobID == jobID && b.GitCommit == gitCommit && !b.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

// --- Stage / Step ---

func (m *Memory) AppendStage(_ context.Context, s model.Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[s.BuildID] = append(m.stages[s.BuildID], s)
	return nil
}

func (m *Memory) UpdateStage(_ context.Context, s model.Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.stages[s.BuildID]
	for i := range rows {
		if rows[i].ID == s.ID {
			rows[i] = s
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ListStages(_ context.Context, buildID string) ([]model.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Stage, len(m.stages[buildID]))
	copy(out, m.stages[buildID])
	return out, nil
}

func (m *Memory) AppendStep(_ context.Context, s model.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[s.BuildID] = append(m.steps[s.BuildID], s)
	return nil
}

func (m *Memory) UpdateStep(_ context.Context, s model.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.steps[s.BuildID]
	for i := range rows {
		if rows[i].ID == s.ID {
			rows[i] = s
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ListSteps(_ context.Context, buildID, stageName string) ([]model.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Step
	for _, s := range m.steps[buildID] {
		if s.StageName == stageName {
			out = append(out, s)
		}
	}
	return out, nil
}

// --- Logs / Events ---

func (m *Memory) AppendLog(_ context.Context, l model.BuildLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[l.BuildID] = append(m.logs[l.BuildID], l)
	return nil
}

func (m *Memory) ListLogs(_ context.Context, buildID string) ([]model.BuildLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.BuildLog, len(m.logs[buildID]))
	copy(out, m.logs[buildID])
	return out, nil
}

func (m *Memory) AppendEvent(_ context.Context, e model.BuildEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.BuildID] = append(m.events[e.BuildID], e)
	return nil
}

func (m *Memory) ListEvents(_ context.Context, buildID string) ([]model.BuildEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.BuildEvent, len(m.events[buildID]))
	copy(out, m.events[buildID])
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Approval gates ---

func (m *Memory) CreateGate(_ context.Context, g model.ApprovalGate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gates[g.ID] = g
	return nil
}

func (m *Memory) GetGate(_ context.Context, id string) (model.ApprovalGate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gates[id]
	if !ok {
		return model.ApprovalGate{}, ErrNotFound
	}
	return g, nil
}

func (m *Memory) ApproveGate(_ context.Context, id, user string, at int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gates[id]
	if !ok {
		return 0, ErrNotFound
	}
	if g.Status != model.GatePending {
		return 0, nil
	}
	g.Status = model.GateApproved
	g.ApprovedBy = user
	t := unixToTime(at)
	g.ApprovedAt = &t
	m.gates[id] = g
	return 1, nil
}

func (m *Memory) RejectGate(_ context.Context, id, user string, at int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gates[id]
	if !ok {
		return 0, ErrNotFound
	}
	if g.Status != model.GatePending {
		return 0, nil
	}
	g.Status = model.GateRejected
	g.RejectedBy = user
	t := unixToTime(at)
	g.RejectedAt = &t
	m.gates[id] = g
	return 1, nil
}

// --- Audit ---

func (m *Memory) AppendAudit(_ context.Context, a model.AuditLog) (model.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.audit) > 0 {
		a.PrevHash = m.audit[len(m.audit)-1].Hash
	}
	a.ID = int64(len(m.audit) + 1)
	m.audit = append(m.audit, a)
	return a, nil
}

func (m *Memory) ListAudit(_ context.Context) ([]model.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AuditLog, len(m.audit))
	copy(out, m.audit)
	return out, nil
}

func (m *Memory) LastAuditHash(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.audit) == 0 {
		return "", nil
	}
	return m.audit[len(m.audit)-1].Hash, nil
}

// --- Caches ---

func (m *Memory) SaveCacheEntry(_ context.Context, e model.CacheEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cacheKey(e.JobID, e.ResolvedKey)
	if _, exists := m.cacheEntries[key]; exists {
		return false, nil
	}
	m.cacheEntries[key] = e
	return true, nil
}

func (m *Memory) GetCacheEntry(_ context.Context, jobID, resolvedKey string) (model.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cacheEntries[cacheKey(jobID, resolvedKey)]
	if !ok {
		return model.CacheEntry{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) SaveStageCacheRecord(_ context.Context, r model.StageCacheRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cacheKey(r.JobID, r.Fingerprint)
	if _, exists := m.stageCache[key]; exists {
		return false, nil
	}
	m.stageCache[key] = r
	return true, nil
}

func (m *Memory) GetStageCacheRecord(_ context.Context, jobID, fingerprint string) (model.StageCacheRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.stageCache[cacheKey(jobID, fingerprint)]
	if !ok {
		return model.StageCacheRecord{}, ErrNotFound
	}
	return r, nil
}

// --- IaC ---

func (m *Memory) SaveIaCState(_ context.Context, s model.IaCState) (model.IaCState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cacheKey(s.ProjectID, s.WorkspaceName)
	versions := m.iacStates[key]
	s.Version = int64(len(versions)) + 1
	m.iacStates[key] = append(versions, s)
	return s, nil
}

func (m *Memory) LatestIaCState(_ context.Context, projectID, workspaceName string) (model.IaCState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions := m.iacStates[cacheKey(projectID, workspaceName)]
	if len(versions) == 0 {
		return model.IaCState{}, ErrNotFound
	}
	return versions[len(versions)-1], nil
}

func (m *Memory) AcquireIaCLock(_ context.Context, projectID, lockedBy string, at int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.iacLocks[projectID]
	if ok && existing.LockedBy != lockedBy {
		return ErrConflict
	}
	m.iacLocks[projectID] = model.IaCLock{ProjectID: projectID, LockedBy: lockedBy, LockedAt: unixToTime(at)}
	return nil
}

func (m *Memory) ReleaseIaCLock(_ context.Context, projectID, lockedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.iacLocks[projectID]
	if !ok {
		return nil
	}
	if existing.LockedBy != lockedBy {
		return ErrConflict
	}
	delete(m.iacLocks, projectID)
	return nil
}

func (m *Memory) ForceUnlockIaC(_ context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.iacLocks, projectID)
	return nil
}

func (m *Memory) GetIaCLock(_ context.Context, projectID string) (model.IaCLock, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.iacLocks[projectID]
	return l, ok, nil
}

// --- Environments / Deployments / Promotions ---

func (m *Memory) CreateEnvironment(_ context.Context, e model.Environment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.environments[e.ID] = e
	return nil
}

func (m *Memory) GetEnvironment(_ context.Context, id string) (model.Environment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.environments[id]
	if !ok {
		return model.Environment{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) ListEnvironments(_ context.Context, orgID string) ([]model.Environment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Environment
	for _, e := range m.environments {
		if e.OrgID == orgID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnvOrder < out[j].EnvOrder })
	return out, nil
}

func (m *Memory) LockEnvironment(_ context.Context, id, lockID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.environments[id]
	if !ok {
		return ErrNotFound
	}
	if e.LockedBy != "" && e.LockedBy != lockID {
		return ErrConflict
	}
	e.LockedBy = lockID
	m.environments[id] = e
	return nil
}

func (m *Memory) UnlockEnvironment(_ context.Context, id, lockID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.environments[id]
	if !ok {
		return ErrNotFound
	}
	if e.LockedBy != "" && e.LockedBy != lockID {
		return ErrConflict
	}
	e.LockedBy = ""
	m.environments[id] = e
	return nil
}

func (m *Memory) CreateDeployment(_ context.Context, d model.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deployments[d.ID] = d
	return nil
}

func (m *Memory) UpdateDeploymentStatus(_ context.Context, id string, status model.DeploymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deployments[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	m.deployments[id] = d
	return nil
}

func (m *Memory) GetDeployment(_ context.Context, id string) (model.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deployments[id]
	if !ok {
		return model.Deployment{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) LastSucceededDeployment(_ context.Context, environmentID string, beforeCreatedAt int64) (model.Deployment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best model.Deployment
	found := false
	for _, d := range m.deployments {
		if d.EnvironmentID != environmentID || d.Status != model.DeploymentSucceeded {
			continue
		}
		if d.CreatedAt.Unix() >= beforeCreatedAt {
			continue
		}
		if !found || d.CreatedAt.After(best.CreatedAt) {
			best = d
			found = true
		}
	}
	return best, found, nil
}

func (m *Memory) CreateDeploymentStep(_ context.Context, s model.DeploymentStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deploySteps[s.DeploymentID] = append(m.deploySteps[s.DeploymentID], s)
	return nil
}

func (m *Memory) UpdateDeploymentStep(_ context.Context, s model.DeploymentStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.deploySteps[s.DeploymentID]
	for i := range rows {
		if rows[i].ID == s.ID {
			rows[i] = s
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ListDeploymentSteps(_ context.Context, deploymentID string) ([]model.DeploymentStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.DeploymentStep, len(m.deploySteps[deploymentID]))
	copy(out, m.deploySteps[deploymentID])
	return out, nil
}

func (m *Memory) CreatePromotion(_ context.Context, p model.Promotion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promotions[p.ID] = p
	return nil
}

func (m *Memory) UpdatePromotionStatus(_ context.Context, id string, status model.PromotionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.promotions[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	m.promotions[id] = p
	return nil
}

func (m *Memory) PlaceArtifact(_ context.Context, a model.EnvironmentArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[cacheKey(a.EnvironmentID, a.BuildID)] = a
	return nil
}

func (m *Memory) ArtifactPlaced(_ context.Context, environmentID, buildID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.artifacts[cacheKey(environmentID, buildID)]
	return ok, nil
}

// --- Provenance ---

func (m *Memory) SaveSignature(_ context.Context, s model.Signature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signatures[s.BuildID] = append(m.signatures[s.BuildID], s)
	return nil
}

func (m *Memory) SaveAttestation(_ context.Context, a model.Attestation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attestations[a.BuildID] = append(m.attestations[a.BuildID], a)
	return nil
}

func (m *Memory) SaveSBOM(_ context.Context, s model.SBOM) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sboms[s.BuildID] = append(m.sboms[s.BuildID], s)
	return nil
}

func (m *Memory) SaveLicenseReport(_ context.Context, r model.LicenseReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.licenseReports[r.BuildID] = append(m.licenseReports[r.BuildID], r)
	return nil
}

func (m *Memory) SaveWebhookPayload(_ context.Context, p model.WebhookPayload) (model.WebhookPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.webhooks[p.ID]; exists {
		return model.WebhookPayload{}, fmt.Errorf("webhook %s: %w", p.ID, ErrConflict)
	}
	m.webhooks[p.ID] = p
	m.webhookOrder = append(m.webhookOrder, p.ID)
	return p, nil
}

func (m *Memory) GetWebhookPayload(_ context.Context, id string) (model.WebhookPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.webhooks[id]
	if !ok {
		return model.WebhookPayload{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListWebhookPayloads(_ context.Context, provider string) ([]model.WebhookPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.WebhookPayload, 0, len(m.webhookOrder))
	for _, id := range m.webhookOrder {
		p := m.webhooks[id]
		if provider == "" || p.Provider == provider {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) DeleteWebhookPayload(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.webhooks[id]; !ok {
		return ErrNotFound
	}
	delete(m.webhooks, id)
	for i, got := range m.webhookOrder {
		if got == id {
			m.webhookOrder = append(m.webhookOrder[:i], m.webhookOrder[i+1:]...)
			break
		}
	}
	return nil
}

func unixToTime(u int64) time.Time {
	return time.Unix(u, 0).UTC()
}
