package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/sremani/chengis/pkg/approval"
	"github.com/sremani/chengis/pkg/bus"
	"github.com/sremani/chengis/pkg/cache"
	"github.com/sremani/chengis/pkg/clock"
	"github.com/sremani/chengis/pkg/matrix"
	"github.com/sremani/chengis/pkg/model"
	"github.com/sremani/chengis/pkg/pipeline"
	"github.com/sremani/chengis/pkg/registry"
	"github.com/sremani/chengis/pkg/stepexec"
	"github.com/sremani/chengis/pkg/store"
	"github.com/sremani/chengis/pkg/workspace"
)

// yamlStep and yamlStage are the on-disk shapes a pipeline file is parsed
// from, kept separate from stepexec.StepDef/pipeline.StageDef so the wire
// format can evolve independently of the executor's internal types.
type yamlCondition struct {
	Type       string `yaml:"type"`
	Branch     string `yaml:"branch"`
	ParamKey   string `yaml:"param-key"`
	ParamValue string `yaml:"param-value"`
}

type yamlStep struct {
	Name      string            `yaml:"name"`
	Type      string            `yaml:"type"`
	Command   string            `yaml:"command"`
	Image     string            `yaml:"image"`
	Env       map[string]string `yaml:"env"`
	Timeout   string            `yaml:"timeout"`
	Condition *yamlCondition    `yaml:"condition"`
}

type yamlStage struct {
	Name      string     `yaml:"name"`
	DependsOn []string   `yaml:"depends-on"`
	Steps     []yamlStep `yaml:"steps"`
}

type yamlMatrix struct {
	Axes    map[string][]string `yaml:"axes"`
	Exclude []map[string]string `yaml:"exclude"`
}

type yamlDefinition struct {
	Name   string     `yaml:"name"`
	Source struct {
		URL string `yaml:"url"`
	} `yaml:"source"`
	Stages []yamlStage `yaml:"stages"`
	Matrix yamlMatrix  `yaml:"matrix"`
}

var (
	runBranch    string
	runWorkspace string
	runCacheRoot string
)

var runCmd = &cobra.Command{
	Use:   "run <pipeline.yaml>",
	Short: "Execute a pipeline definition once against a fresh in-memory store",
	Args:  cobra.ExactArgs(1),
	RunE:  runPipeline,
}

func init() {
	runCmd.Flags().StringVar(&runBranch, "branch", "main", "git branch recorded on the synthesized build")
	runCmd.Flags().StringVar(&runWorkspace, "workspace-root", "", "workspace root directory (defaults to a temp dir)")
	runCmd.Flags().StringVar(&runCacheRoot, "cache-root", "", "artifact cache root directory (defaults to a temp dir)")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read pipeline file: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse pipeline file: %w", err)
	}
	if err := validatePipelineDocument(doc); err != nil {
		return err
	}

	var def yamlDefinition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return fmt.Errorf("parse pipeline file: %w", err)
	}

	pipelineDef, err := toDefinition(def)
	if err != nil {
		return fmt.Errorf("build pipeline definition: %w", err)
	}

	wsRoot := runWorkspace
	if wsRoot == "" {
		wsRoot, err = os.MkdirTemp("", "chengis-ws-")
		if err != nil {
			return fmt.Errorf("create workspace root: %w", err)
		}
	}
	cacheRoot := runCacheRoot
	if cacheRoot == "" {
		cacheRoot, err = os.MkdirTemp("", "chengis-cache-")
		if err != nil {
			return fmt.Errorf("create cache root: %w", err)
		}
	}

	st := store.NewMemory()
	clk := clock.System{}
	events := bus.New(st, 256, 5*time.Second)

	wsm, err := workspace.New(wsRoot)
	if err != nil {
		return fmt.Errorf("init workspace manager: %w", err)
	}
	stepExec := stepexec.New(registry.New())
	artifacts := cache.NewArtifactCache(cacheRoot, st)
	stageCache := cache.NewStageCache(st)
	gates := approval.New(st, clk)

	exec := pipeline.New(st, events, wsm, stepExec, artifacts, stageCache, gates, clk, nil, pipeline.Config{
		ApprovalPollInterval: time.Second,
	})

	job := model.Job{ID: clock.NewID(clk), Name: def.Name, PipelineSource: args[0], CreatedAt: clk.Now()}
	if err := st.CreateJob(cmd.Context(), job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	build := model.Build{
		ID: clock.NewID(clk), JobID: job.ID, BuildNumber: 1,
		TriggerType: model.TriggerManual, GitBranch: runBranch, CreatedAt: clk.Now(),
	}
	if err := st.CreateBuild(cmd.Context(), build); err != nil {
		return fmt.Errorf("create build: %w", err)
	}

	status, execErr := exec.Execute(context.Background(), job, build, pipelineDef, pipeline.Flags{})

	result := map[string]any{
		"build_id": build.ID,
		"job_name": job.Name,
		"status":   status,
	}
	if execErr != nil {
		result["error"] = execErr.Error()
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if status != model.BuildSuccess {
		os.Exit(1)
	}
	return nil
}

func toDefinition(def yamlDefinition) (pipeline.Definition, error) {
	stages := make([]pipeline.StageDef, 0, len(def.Stages))
	for _, s := range def.Stages {
		steps := make([]stepexec.StepDef, 0, len(s.Steps))
		for _, st := range s.Steps {
			stepType := stepexec.TypeShell
			if st.Type != "" {
				stepType = stepexec.StepType(st.Type)
			}
			var timeout time.Duration
			if st.Timeout != "" {
				d, err := time.ParseDuration(st.Timeout)
				if err != nil {
					return pipeline.Definition{}, fmt.Errorf("step %q: parse timeout: %w", st.Name, err)
				}
				timeout = d
			}
			var cond *stepexec.Condition
			if st.Condition != nil {
				cond = &stepexec.Condition{
					Type:       stepexec.ConditionType(st.Condition.Type),
					Branch:     st.Condition.Branch,
					ParamKey:   st.Condition.ParamKey,
					ParamValue: st.Condition.ParamValue,
				}
			}
			steps = append(steps, stepexec.StepDef{
				StepName:  st.Name,
				Type:      stepType,
				Command:   st.Command,
				Image:     st.Image,
				Env:       st.Env,
				Timeout:   timeout,
				Condition: cond,
			})
		}
		stages = append(stages, pipeline.StageDef{
			StageName: s.Name,
			DependsOn: s.DependsOn,
			Steps:     steps,
		})
	}

	return pipeline.Definition{
		PipelineName: def.Name,
		SourceURL:    def.Source.URL,
		Stages:       stages,
		Matrix:       matrix.Definition{Axes: def.Matrix.Axes, Exclude: def.Matrix.Exclude},
	}, nil
}
