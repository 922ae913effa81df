// Package chengisconfig declares the configuration surface the build
// execution engine consumes. Loading this structure from a file, env, or
// flags is explicitly out of scope (owned by the surrounding control plane);
// this package only types the shape every subsystem reads from.
package chengisconfig

import "time"

// FeatureFlags gates optional subsystems. A disabled feature must degrade to
// a documented no-op rather than an error.
type FeatureFlags struct {
	BuildAnalytics        bool `toml:"build-analytics"`
	AutoMerge             bool `toml:"auto-merge"`
	PRStatusChecks        bool `toml:"pr-status-checks"`
	BranchOverrides       bool `toml:"branch-overrides"`
	MonorepoFiltering     bool `toml:"monorepo-filtering"`
	BuildDependencies     bool `toml:"build-dependencies"`
	ArtifactCache         bool `toml:"artifact-cache"`
	BuildResultCache      bool `toml:"build-result-cache"`
	CostAttribution       bool `toml:"cost-attribution"`
	LicenseScanning       bool `toml:"license-scanning"`
	SBOMGeneration        bool `toml:"sbom-generation"`
	SLSAProvenance        bool `toml:"slsa-provenance"`
	ArtifactSigning       bool `toml:"artifact-signing"`
	ArtifactChecksums     bool `toml:"artifact-checksums"`
	PolicyEngine          bool `toml:"policy-engine"`
	CronScheduling        bool `toml:"cron-scheduling"`
	Tracing               bool `toml:"tracing"`
	WebhookReplay         bool `toml:"webhook-replay"`
	SecretRotation        bool `toml:"secret-rotation"`
	RegulatoryDashboards  bool `toml:"regulatory-dashboards"`
	ParallelStageExecution bool `toml:"parallel-stage-execution"`
}

// WorkspaceConfig configures the workspace manager (component C).
type WorkspaceConfig struct {
	Root string `toml:"root"`
}

// CacheConfig configures the artifact and stage-result cache (component G).
type CacheConfig struct {
	Root             string `toml:"root"`
	DeltaThresholdMB int    `toml:"delta-threshold-mb"`
}

// EventBusConfig configures component D.
type EventBusConfig struct {
	BufferSize        int           `toml:"buffer-size"`
	CriticalTimeout   time.Duration `toml:"critical-timeout"`
	LogLineBufferSize int           `toml:"log-line-buffer-size"`
}

// ApprovalConfig configures the approval-gate waiter in the pipeline
// executor (component J/K).
type ApprovalConfig struct {
	PollInterval time.Duration `toml:"poll-interval"`
}

// SCMProviderConfig is per-provider SCM authentication and base URL config.
type SCMProviderConfig struct {
	Token       string `toml:"token"`
	Username    string `toml:"username"`
	AppPassword string `toml:"app-password"`
	BaseURL     string `toml:"base-url"`
}

// SCMConfig configures component M.
type SCMConfig struct {
	GitHub    SCMProviderConfig `toml:"github"`
	GitLab    SCMProviderConfig `toml:"gitlab"`
	Bitbucket SCMProviderConfig `toml:"bitbucket"`
	Gitea     SCMProviderConfig `toml:"gitea"`
}

// ProvenanceConfig configures component Q.
type ProvenanceConfig struct {
	SBOMFormat  string        `toml:"sbom-format"`
	SigningTool string        `toml:"signing-tool"`
	SigningKey  string        `toml:"signing-key-ref"`
	ToolTimeout time.Duration `toml:"tool-timeout"`
}

// PolicyConfig configures component L.
type PolicyConfig struct {
	OPAEvalTimeout time.Duration `toml:"opa-eval-timeout"`
}

// CronConfig configures component O.
type CronConfig struct {
	MissedRunThreshold time.Duration `toml:"missed-run-threshold"`
	MaxConcurrent      int           `toml:"max-concurrent"`
}

// SchedulerConfig configures the background loops of component P.
type SchedulerConfig struct {
	RetentionInterval time.Duration `toml:"retention-interval"`
	RotationInterval  time.Duration `toml:"rotation-interval"`
	AnalyticsInterval time.Duration `toml:"analytics-interval"`
}

// MatrixConfig configures component I.
type MatrixConfig struct {
	MaxExpandedStages int `toml:"max-expanded-stages"`
}

// DAGConfig configures component H.
type DAGConfig struct {
	MaxConcurrent int `toml:"max-concurrent"`
}

// Config is the full configuration surface consumed by the core. It carries
// no loader: constructing one from disk/env/flags is the surrounding
// control plane's responsibility.
type Config struct {
	Features   FeatureFlags    `toml:"feature-flags"`
	Workspace  WorkspaceConfig `toml:"workspace"`
	Cache      CacheConfig     `toml:"cache"`
	EventBus   EventBusConfig  `toml:"event-bus"`
	Approvals  ApprovalConfig  `toml:"approvals"`
	SCM        SCMConfig       `toml:"scm"`
	Provenance ProvenanceConfig `toml:"provenance"`
	Policy     PolicyConfig    `toml:"policy"`
	Cron       CronConfig      `toml:"cron"`
	Scheduler  SchedulerConfig `toml:"scheduler"`
	Matrix     MatrixConfig    `toml:"matrix"`
	DAG        DAGConfig       `toml:"dag"`
	MasterKey  string          `toml:"master-key"`
}

// Default returns a Config populated with the defaults named throughout the
// component design (e.g. matrix expansion cap of 100, bounded event-bus
// buffers).
func Default() Config {
	return Config{
		Features: FeatureFlags{},
		Workspace: WorkspaceConfig{
			Root: "/var/lib/chengis/workspaces",
		},
		Cache: CacheConfig{
			Root:             "/var/lib/chengis/cache",
			DeltaThresholdMB: 1,
		},
		EventBus: EventBusConfig{
			BufferSize:        256,
			CriticalTimeout:   5 * time.Second,
			LogLineBufferSize: 1024,
		},
		Approvals: ApprovalConfig{
			PollInterval: 2 * time.Second,
		},
		Provenance: ProvenanceConfig{
			SBOMFormat:  "cyclonedx-json",
			SigningTool: "cosign",
			ToolTimeout: 2 * time.Minute,
		},
		Policy: PolicyConfig{
			OPAEvalTimeout: 5 * time.Second,
		},
		Cron: CronConfig{
			MissedRunThreshold: 5 * time.Minute,
			MaxConcurrent:      8,
		},
		Scheduler: SchedulerConfig{
			RetentionInterval: time.Hour,
			RotationInterval:  time.Hour,
			AnalyticsInterval: 15 * time.Minute,
		},
		Matrix: MatrixConfig{
			MaxExpandedStages: 100,
		},
		DAG: DAGConfig{
			MaxConcurrent: 4,
		},
	}
}
