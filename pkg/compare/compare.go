// Package compare is the build comparator (component U): a structural
// diff of two builds' stages, steps, and artifacts.
package compare

import (
	"context"
	"fmt"

	"github.com/sremani/chengis/pkg/model"
	"github.com/sremani/chengis/pkg/store"
)

// StageDiff reports whether a named stage's status or step set changed
// between two builds.
type StageDiff struct {
	StageName  string
	OnlyInA    bool
	OnlyInB    bool
	StatusDiff bool
	StatusA    model.StageStatus
	StatusB    model.StageStatus
	Steps      []StepDiff
}

// StepDiff reports a changed or one-sided step within a stage.
type StepDiff struct {
	StepName string
	OnlyInA  bool
	OnlyInB  bool
	StatusA  model.StepStatus
	StatusB  model.StepStatus
}

// BuildDiff is the full structural comparison of two builds.
type BuildDiff struct {
	BuildIDA string
	BuildIDB string
	Stages   []StageDiff
}

// Compare loads build A and build B's stages and steps from st and
// returns their structural diff. Stages and steps are matched by name;
// entries present in only one build are reported as OnlyInA/OnlyInB
// rather than diffed field-by-field.
func Compare(ctx context.Context, st store.Store, buildIDA, buildIDB string) (BuildDiff, error) {
	stagesA, err := st.ListStages(ctx, buildIDA)
	if err != nil {
		return BuildDiff{}, fmt.Errorf("compare: list stages for %s: %w", buildIDA, err)
	}
	stagesB, err := st.ListStages(ctx, buildIDB)
	if err != nil {
		return BuildDiff{}, fmt.Errorf("compare: list stages for %s: %w", buildIDB, err)
	}

	byNameA := stagesByName(stagesA)
	byNameB := stagesByName(stagesB)

	diff := BuildDiff{BuildIDA: buildIDA, BuildIDB: buildIDB}
	for name := range unionKeys(byNameA, byNameB) {
		sa, inA := byNameA[name]
		sb, inB := byNameB[name]

		sd := StageDiff{StageName: name}
		switch {
		case inA && !inB:
			sd.OnlyInA = true
			sd.StatusA = sa.Status
		case inB && !inA:
			sd.OnlyInB = true
			sd.StatusB = sb.Status
		default:
			sd.StatusA, sd.StatusB = sa.Status, sb.Status
			sd.StatusDiff = sa.Status != sb.Status

			stepsA, err := st.ListSteps(ctx, buildIDA, name)
			if err != nil {
				return BuildDiff{}, fmt.Errorf("compare: list steps for %s/%s: %w", buildIDA, name, err)
			}
			stepsB, err := st.ListSteps(ctx, buildIDB, name)
			if err != nil {
				return BuildDiff{}, fmt.Errorf("compare: list steps for %s/%s: %w", buildIDB, name, err)
			}
			sd.Steps = diffSteps(stepsA, stepsB)
		}

		if sd.OnlyInA || sd.OnlyInB || sd.StatusDiff || len(sd.Steps) > 0 {
			diff.Stages = append(diff.Stages, sd)
		}
	}
	return diff, nil
}

func stagesByName(stages []model.Stage) map[string]model.Stage {
	out := make(map[string]model.Stage, len(stages))
	for _, s := range stages {
		out[s.StageName] = s
	}
	return out
}

func unionKeys(a, b map[string]model.Stage) map[string]bool {
	out := make(map[string]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}

func diffSteps(stepsA, stepsB []model.Step) []StepDiff {
	byNameA := make(map[string]model.Step, len(stepsA))
	for _, s := range stepsA {
		byNameA[s.StepName] = s
	}
	byNameB := make(map[string]model.Step, len(stepsB))
	for _, s := range stepsB {
		byNameB[s.StepName] = s
	}

	seen := make(map[string]bool, len(byNameA)+len(byNameB))
	var diffs []StepDiff
	for _, s := range stepsA {
		seen[s.StepName] = true
		b, inB := byNameB[s.StepName]
		if !inB {
			diffs = append(diffs, StepDiff{StepName: s.StepName, OnlyInA: true, StatusA: s.Status})
			continue
		}
		if s.Status != b.Status {
			diffs = append(diffs, StepDiff{StepName: s.StepName, StatusA: s.Status, StatusB: b.Status})
		}
	}
	for _, s := range stepsB {
		if seen[s.StepName] {
			continue
		}
		diffs = append(diffs, StepDiff{StepName: s.StepName, OnlyInB: true, StatusB: s.Status})
	}
	return diffs
}

// ArtifactDiff reports the environment IDs where one build's artifact is
// placed and the other build's is not.
type ArtifactDiff struct {
	OnlyInA []string
	OnlyInB []string
}

// CompareArtifacts diffs the set of environments where each build's
// artifact has been placed.
func CompareArtifacts(ctx context.Context, st store.Store, buildIDA, buildIDB string, environmentIDs []string) (ArtifactDiff, error) {
	var diff ArtifactDiff
	for _, envID := range environmentIDs {
		placedA, err := st.ArtifactPlaced(ctx, envID, buildIDA)
		if err != nil {
			return ArtifactDiff{}, fmt.Errorf("compare: artifact placed for %s in %s: %w", buildIDA, envID, err)
		}
		placedB, err := st.ArtifactPlaced(ctx, envID, buildIDB)
		if err != nil {
			return ArtifactDiff{}, fmt.Errorf("compare: artifact placed for %s in %s: %w", buildIDB, envID, err)
		}
		switch {
		case placedA && !placedB:
			diff.OnlyInA = append(diff.OnlyInA, envID)
		case placedB && !placedA:
			diff.OnlyInB = append(diff.OnlyInB, envID)
		}
	}
	return diff, nil
}
