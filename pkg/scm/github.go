package scm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cli/go-gh/v2/pkg/api"

	"github.com/sremani/chengis/pkg/model"
)

// ghRESTClient is the subset of api.RESTClient a status/merge reporter
// needs, narrowed so tests can supply a fake instead of a live GitHub
// connection. The method signatures must match api.RESTClient exactly for
// *api.RESTClient to satisfy this interface.
type ghRESTClient interface {
	Post(path string, body io.Reader, response any) error
	Put(path string, body io.Reader, response any) error
}

// githubReporter posts commit statuses and dispatches PR merges via the
// GitHub REST API through go-gh's client, the same client the CLI itself
// authenticates through (GH_TOKEN/GITHUB_TOKEN, gh config host tokens).
type githubReporter struct {
	client ghRESTClient
}

// NewGitHubReporter constructs a Reporter backed by an existing go-gh REST
// client, for tests and for callers that already built one.
func NewGitHubReporter(client ghRESTClient) Reporter {
	return &githubReporter{client: client}
}

// NewDefaultGitHubReporter builds a Reporter using go-gh's default REST
// client, which resolves auth the same way the gh CLI does.
func NewDefaultGitHubReporter() (Reporter, error) {
	client, err := api.DefaultRESTClient()
	if err != nil {
		return nil, fmt.Errorf("scm: build github rest client: %w", err)
	}
	return &githubReporter{client: client}, nil
}

func (r *githubReporter) Report(ctx context.Context, info BuildInfo, status model.BuildStatus, description string) error {
	if info.CommitSHA == "" || info.Owner == "" || info.Repo == "" {
		return nil
	}
	body := map[string]any{
		"state":       MapStatus(status),
		"description": description,
		"context":     "chengis",
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("scm: marshal github status body: %w", err)
	}
	path := fmt.Sprintf("repos/%s/%s/statuses/%s", info.Owner, info.Repo, info.CommitSHA)
	if err := r.client.Post(path, bytes.NewReader(payload), nil); err != nil {
		return fmt.Errorf("scm: github status request: %w", err)
	}
	return nil
}

// DispatchGitHubMerge issues PUT repos/{owner}/{repo}/pulls/{number}/merge.
// Unlike the other providers this call surfaces structured errors from the
// REST client rather than a raw status code, so any non-2xx response
// reaches the caller as err != nil and is classified Failed.
func DispatchGitHubMerge(ctx context.Context, client ghRESTClient, req MergeRequest) (MergeOutcome, error) {
	body := map[string]any{"merge_method": string(req.Method)}
	payload, err := json.Marshal(body)
	if err != nil {
		return Failed, fmt.Errorf("scm: marshal github merge body: %w", err)
	}
	path := fmt.Sprintf("repos/%s/%s/pulls/%d/merge", req.Info.Owner, req.Info.Repo, req.Info.PRNumber)
	if err := client.Put(path, bytes.NewReader(payload), nil); err != nil {
		return Failed, fmt.Errorf("scm: github merge request: %w", err)
	}
	return Merged, nil
}
