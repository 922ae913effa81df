package provenance

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sremani/chengis/pkg/model"
)

func TestGenerateSBOM_MissingToolSkipsSilently(t *testing.T) {
	dir := t.TempDir()
	sbom, components, err := GenerateSBOM(context.Background(), Config{SBOMTool: "definitely-not-a-real-tool-xyz"}, "build-1", dir)
	require.NoError(t, err)
	assert.Nil(t, sbom)
	assert.Nil(t, components)
}

func TestGenerateSBOM_ParsesComponentCount(t *testing.T) {
	dir := t.TempDir()
	fakeSyft := writeFakeSyft(t, dir)
	cfg := Config{SBOMTool: fakeSyft, SBOMFormat: "cyclonedx-json"}

	sbom, components, err := GenerateSBOM(context.Background(), cfg, "build-1", dir)
	require.NoError(t, err)
	require.NotNil(t, sbom)
	assert.Equal(t, 2, sbom.ComponentCount)
	assert.Len(t, components, 2)
	assert.NotEmpty(t, sbom.ContentHash)
}

func writeFakeSyft(t *testing.T, dir string) string {
	t.Helper()
	doc := map[string]any{
		"components": []map[string]any{
			{"name": "left-pad", "version": "1.0.0", "licenses": []map[string]any{{"license": map[string]any{"id": "MIT"}}}},
			{"name": "gpl-lib", "version": "2.0.0", "licenses": []map[string]any{{"license": map[string]any{"id": "GPL-3.0"}}}},
		},
	}
	payload, err := json.Marshal(doc)
	require.NoError(t, err)

	script := filepath.Join(dir, "fake-syft.sh")
	content := "#!/bin/sh\ncat <<'EOF'\n" + string(payload) + "\nEOF\n"
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))
	return script
}

func TestEvaluateLicenses_ClassifiesAllowDenyUnknown(t *testing.T) {
	components := []sbomComponent{
		{Name: "left-pad", LicenseID: "MIT"},
		{Name: "gpl-lib", LicenseID: "GPL-3.0"},
		{Name: "mystery-lib", LicenseID: ""},
	}
	cfg := Config{AllowedLicenses: []string{"MIT"}, DeniedLicenses: []string{"GPL-3.0"}}

	report := EvaluateLicenses("build-1", components, cfg)
	assert.Equal(t, []string{"left-pad"}, report.Allowed)
	assert.Equal(t, []string{"gpl-lib"}, report.Denied)
	assert.Equal(t, []string{"mystery-lib"}, report.Unknown)
	assert.False(t, report.Passed)
}

func TestEvaluateLicenses_PassesWhenNothingDenied(t *testing.T) {
	components := []sbomComponent{{Name: "left-pad", LicenseID: "MIT"}}
	report := EvaluateLicenses("build-1", components, Config{AllowedLicenses: []string{"MIT"}})
	assert.True(t, report.Passed)
}

func TestSignArtifact_MissingToolSkipsSilently(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.bin")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))

	sig, err := SignArtifact(context.Background(), Config{SigningTool: "definitely-not-a-real-signer"}, "build-1", path)
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestBuildAttestation_WrapsPredicateInDSSEEnvelope(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.bin")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))

	build := model.Build{ID: "build-1", JobID: "job-1", BuildNumber: 7, GitBranch: "main", GitCommit: "abc123"}
	job := model.Job{ID: "job-1", Name: "widgets", PipelineSource: "git@host/widgets.git"}

	att, err := BuildAttestation(Config{}, build, job, []string{path})
	require.NoError(t, err)
	assert.Equal(t, "build-1", att.BuildID)
	assert.Equal(t, "https://slsa.dev/provenance/v1", att.PayloadType)
	assert.Empty(t, att.Signatures)
	assert.Equal(t, "git@host/widgets.git", att.SourceRepo)
	assert.Equal(t, "main", att.SourceBranch)
	assert.Equal(t, "abc123", att.SourceCommit)

	decoded, err := base64.StdEncoding.DecodeString(att.Payload)
	require.NoError(t, err)

	var statement inTotoStatement
	require.NoError(t, json.Unmarshal(decoded, &statement))
	assert.Equal(t, "https://in-toto.io/Statement/v1", statement.Type)
	require.Len(t, statement.Subject, 1)
	assert.Equal(t, path, statement.Subject[0].Name)
	assert.NotEmpty(t, statement.Subject[0].Digest["sha256"])
	assert.Equal(t, "chengis/pipeline/v1", statement.Predicate.BuildDefinition.BuildType)
	assert.Equal(t, "widgets", statement.Predicate.BuildDefinition.ExternalParameters["pipeline"])
}
