// Package provenance is the provenance chain (component Q): SBOM
// generation, license scanning, artifact signing, and SLSA attestation for
// a successful build. Each step is independently feature-flagged and a
// skip in one step never blocks the ones after it.
package provenance

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sremani/chengis/internal/telemetry/logging"
	"github.com/sremani/chengis/pkg/clock"
	"github.com/sremani/chengis/pkg/model"
	"github.com/sremani/chengis/pkg/process"
	"github.com/sremani/chengis/pkg/store"
)

var log = logging.New("provenance")

// toolNotFoundExitCode is the shell's "command not found" exit status;
// a missing external tool is a silent skip, not a failure.
const toolNotFoundExitCode = 127

// Config is the per-org/per-job provenance configuration. Zero values
// disable every step.
type Config struct {
	SBOMEnabled        bool
	SBOMTool           string // default "syft"
	SBOMFormat         string // default "cyclonedx-json"
	LicenseScanEnabled bool
	AllowedLicenses    []string
	DeniedLicenses     []string
	SigningEnabled     bool
	SigningTool        string // "cosign" or "gpg"
	KeyReference       string
	AttestationEnabled bool
	BuilderVersion     string // default "1.0"
}

func (c Config) sbomTool() string {
	if c.SBOMTool == "" {
		return "syft"
	}
	return c.SBOMTool
}

func (c Config) sbomFormat() string {
	if c.SBOMFormat == "" {
		return "cyclonedx-json"
	}
	return c.SBOMFormat
}

func (c Config) builderVersion() string {
	if c.BuilderVersion == "" {
		return "1.0"
	}
	return c.BuilderVersion
}

// RunChain executes the four provenance steps in order for a successful
// build, persisting each step's result as it completes. A step that is
// disabled or whose tool is missing is skipped without affecting the
// steps after it.
func RunChain(ctx context.Context, st store.Store, clk clock.Clock, cfg Config, build model.Build, job model.Job, workspacePath string, artifactPaths []string) error {
	var components []sbomComponent

	if cfg.SBOMEnabled {
		sbom, parsed, err := GenerateSBOM(ctx, cfg, build.ID, workspacePath)
		if err != nil {
			return fmt.Errorf("provenance: generate sbom: %w", err)
		}
		if sbom != nil {
			if err := st.SaveSBOM(ctx, *sbom); err != nil {
				return fmt.Errorf("provenance: save sbom: %w", err)
			}
			components = parsed
		}
	}

	if cfg.LicenseScanEnabled && components != nil {
		report := EvaluateLicenses(build.ID, components, cfg)
		if err := st.SaveLicenseReport(ctx, report); err != nil {
			return fmt.Errorf("provenance: save license report: %w", err)
		}
	}

	var signatures []model.Signature
	if cfg.SigningEnabled {
		for _, path := range artifactPaths {
			sig, err := SignArtifact(ctx, cfg, build.ID, path)
			if err != nil {
				log.Warn("sign artifact failed", "build_id", build.ID, "path", path, "error", err)
				continue
			}
			if sig == nil {
				continue
			}
			if err := st.SaveSignature(ctx, *sig); err != nil {
				return fmt.Errorf("provenance: save signature: %w", err)
			}
			signatures = append(signatures, *sig)
		}
	}

	if cfg.AttestationEnabled {
		att, err := BuildAttestation(cfg, build, job, artifactPaths)
		if err != nil {
			return fmt.Errorf("provenance: build attestation: %w", err)
		}
		if err := st.SaveAttestation(ctx, att); err != nil {
			return fmt.Errorf("provenance: save attestation: %w", err)
		}
	}

	return nil
}

type sbomComponent struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	LicenseID string `json:"license-id"`
}

type cyclonedxDoc struct {
	Components []struct {
		Name     string `json:"name"`
		Version  string `json:"version"`
		Licenses []struct {
			License struct {
				ID string `json:"id"`
			} `json:"license"`
		} `json:"licenses"`
	} `json:"components"`
}

// GenerateSBOM shells out to the configured SBOM tool against workspacePath.
// A missing tool (exit 127) is a silent skip: both return values are nil
// with a nil error.
func GenerateSBOM(ctx context.Context, cfg Config, buildID, workspacePath string) (*model.SBOM, []sbomComponent, error) {
	cmd := fmt.Sprintf("%s %s -o %s", cfg.sbomTool(), workspacePath, cfg.sbomFormat())
	res, err := process.Execute(ctx, process.Request{Command: cmd, Dir: workspacePath, Timeout: 0})
	if err != nil {
		return nil, nil, err
	}
	if res.ExitCode == toolNotFoundExitCode {
		return nil, nil, nil
	}
	if res.ExitCode != 0 {
		return nil, nil, fmt.Errorf("provenance: %s exited %d", cfg.sbomTool(), res.ExitCode)
	}

	content := []byte(strings.Join(res.StdoutLines, "\n"))
	var doc cyclonedxDoc
	components := []sbomComponent{}
	if err := json.Unmarshal(content, &doc); err == nil {
		for _, c := range doc.Components {
			licenseID := ""
			if len(c.Licenses) > 0 {
				licenseID = c.Licenses[0].License.ID
			}
			components = append(components, sbomComponent{Name: c.Name, Version: c.Version, LicenseID: licenseID})
		}
	}

	sbom := &model.SBOM{
		BuildID:        buildID,
		Format:         cfg.sbomFormat(),
		Version:        "1",
		ComponentCount: len(components),
		ContentHash:    clock.SHA256Hex(content),
		ToolName:       cfg.sbomTool(),
		ToolVersion:    "",
		Content:        content,
	}
	return sbom, components, nil
}

// EvaluateLicenses evaluates each component's license against the
// configured allow/deny policy. A license that appears in neither list is
// unknown. Passed is true iff nothing was denied.
func EvaluateLicenses(buildID string, components []sbomComponent, cfg Config) model.LicenseReport {
	allow := toSet(cfg.AllowedLicenses)
	deny := toSet(cfg.DeniedLicenses)

	report := model.LicenseReport{BuildID: buildID}
	for _, c := range components {
		switch {
		case c.LicenseID == "":
			report.Unknown = append(report.Unknown, c.Name)
		case deny[c.LicenseID]:
			report.Denied = append(report.Denied, c.Name)
		case allow[c.LicenseID]:
			report.Allowed = append(report.Allowed, c.Name)
		default:
			report.Unknown = append(report.Unknown, c.Name)
		}
	}
	report.Passed = len(report.Denied) == 0
	return report
}

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

// SignArtifact shells out to the configured signing tool to produce a
// detached signature over path. A missing tool (exit 127) is a silent
// skip.
func SignArtifact(ctx context.Context, cfg Config, buildID, path string) (*model.Signature, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	digest := clock.SHA256Hex(content)

	var cmd string
	switch cfg.SigningTool {
	case "cosign":
		cmd = fmt.Sprintf("cosign sign-blob --key %s --yes %s", cfg.KeyReference, path)
	default:
		cmd = fmt.Sprintf("gpg --batch --yes --local-user %s --detach-sign --armor -o - %s", cfg.KeyReference, path)
	}

	res, err := process.Execute(ctx, process.Request{Command: cmd})
	if err != nil {
		return nil, err
	}
	if res.ExitCode == toolNotFoundExitCode {
		return nil, nil
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("provenance: signing tool exited %d", res.ExitCode)
	}

	signer := cfg.SigningTool
	if signer == "" {
		signer = "gpg"
	}
	return &model.Signature{
		BuildID:        buildID,
		Signer:         signer,
		KeyReference:   cfg.KeyReference,
		SignatureValue: strings.Join(res.StdoutLines, "\n"),
		TargetDigest:   digest,
		Verified:       false,
	}, nil
}

type slsaSubject struct {
	Name   string            `json:"name"`
	Digest map[string]string `json:"digest"`
}

type slsaPredicate struct {
	BuildDefinition struct {
		BuildType          string         `json:"buildType"`
		ExternalParameters map[string]any `json:"externalParameters"`
		InternalParameters map[string]any `json:"internalParameters"`
	} `json:"buildDefinition"`
	RunDetails struct {
		Builder struct {
			ID      string `json:"id"`
			Version string `json:"version"`
		} `json:"builder"`
		Metadata struct {
			InvocationID string `json:"invocationId"`
			StartedOn    string `json:"startedOn"`
			FinishedOn   string `json:"finishedOn"`
		} `json:"metadata"`
		Byproducts []any `json:"byproducts"`
	} `json:"runDetails"`
}

type dsseEnvelope struct {
	PayloadType string   `json:"payloadType"`
	Payload     string   `json:"payload"`
	Signatures  []string `json:"signatures"`
}

type inTotoStatement struct {
	Type    string        `json:"_type"`
	Subject []slsaSubject `json:"subject"`
	Predicate slsaPredicate `json:"predicate"`
}

// BuildAttestation builds the SLSA v1 predicate and wraps it in a DSSE
// envelope, with one subject per artifact path.
func BuildAttestation(cfg Config, build model.Build, job model.Job, artifactPaths []string) (model.Attestation, error) {
	var predicate slsaPredicate
	predicate.BuildDefinition.BuildType = "chengis/pipeline/v1"
	predicate.BuildDefinition.ExternalParameters = map[string]any{
		"pipeline":   job.Name,
		"parameters": build.Parameters,
	}
	predicate.BuildDefinition.InternalParameters = map[string]any{
		"build-id": build.ID, "job-id": job.ID, "build-number": build.BuildNumber,
	}
	predicate.RunDetails.Builder.ID = "chengis"
	predicate.RunDetails.Builder.Version = cfg.builderVersion()
	predicate.RunDetails.Metadata.InvocationID = build.ID
	if build.StartedAt != nil {
		predicate.RunDetails.Metadata.StartedOn = build.StartedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	if build.CompletedAt != nil {
		predicate.RunDetails.Metadata.FinishedOn = build.CompletedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	predicate.RunDetails.Byproducts = []any{}

	var subjects []slsaSubject
	for _, path := range artifactPaths {
		content, err := os.ReadFile(path)
		if err != nil {
			return model.Attestation{}, fmt.Errorf("read artifact %s: %w", path, err)
		}
		subjects = append(subjects, slsaSubject{
			Name:   path,
			Digest: map[string]string{"sha256": clock.SHA256Hex(content)},
		})
	}

	statement := inTotoStatement{
		Type:      "https://in-toto.io/Statement/v1",
		Subject:   subjects,
		Predicate: predicate,
	}
	payloadJSON, err := json.Marshal(statement)
	if err != nil {
		return model.Attestation{}, err
	}

	return model.Attestation{
		BuildID:      build.ID,
		PayloadType:  "https://slsa.dev/provenance/v1",
		Payload:      base64.StdEncoding.EncodeToString(payloadJSON),
		Signatures:   []string{},
		SourceRepo:   job.PipelineSource,
		SourceBranch: build.GitBranch,
		SourceCommit: build.GitCommit,
	}, nil
}
