// Package scm is the SCM subsystem (component M): provider detection from
// a repository URL, status reporting, and auto-merge dispatch across
// GitHub, GitLab, Bitbucket, and Gitea.
package scm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/sremani/chengis/internal/telemetry/logging"
	"github.com/sremani/chengis/pkg/model"
)

var log = logging.New("scm")

// Provider names a detected SCM host.
type Provider string

const (
	GitHub    Provider = "github"
	GitLab    Provider = "gitlab"
	Bitbucket Provider = "bitbucket"
	Gitea     Provider = "gitea"
)

var knownHosts = map[string]Provider{
	"github.com":    GitHub,
	"gitlab.com":    GitLab,
	"bitbucket.org": Bitbucket,
}

// DetectProvider identifies the provider from a repo URL (HTTPS or SSH).
// Matching is by exact host equality, never substring containment, so
// look-alike hosts like "evil-github.com" never match. A nil/unknown URL,
// or one whose host matches nothing (including the configured Gitea base
// URL), returns ok=false.
func DetectProvider(repoURL, giteaBaseURL string) (Provider, bool) {
	if repoURL == "" {
		return "", false
	}
	host := extractHost(repoURL)
	if host == "" {
		return "", false
	}
	if p, ok := knownHosts[host]; ok {
		return p, true
	}
	if giteaBaseURL != "" {
		if giteaHost := extractHost(giteaBaseURL); giteaHost != "" && giteaHost == host {
			return Gitea, true
		}
	}
	return "", false
}

var scpLikePattern = regexp.MustCompile(`^[\w.-]+@([\w.-]+):`)

// extractHost pulls the bare hostname out of either an HTTPS URL
// (https://github.com/org/repo.git) or an SSH/scp-like URL
// (git@github.com:org/repo.git).
func extractHost(raw string) string {
	if m := scpLikePattern.FindStringSubmatch(raw); m != nil {
		return strings.ToLower(m[1])
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// MapStatus is the total function from internal build status to SCM
// commit status.
func MapStatus(s model.BuildStatus) string {
	switch s {
	case model.BuildSuccess:
		return "success"
	case model.BuildFailure:
		return "failure"
	case model.BuildAborted:
		return "error"
	case model.BuildRunning, model.BuildQueued, model.BuildWaitingApproval:
		return "pending"
	default:
		return "pending"
	}
}

// BuildInfo is what a status report or merge dispatch needs about the
// triggering build.
type BuildInfo struct {
	Provider           Provider
	RepoURL            string
	CommitSHA          string
	Owner              string
	Repo                string
	PRNumber           int
	MergeRequestNumber int
}

// Reporter posts a commit status to an SCM provider.
type Reporter interface {
	Report(ctx context.Context, info BuildInfo, status model.BuildStatus, description string) error
}

// HTTPDoer is the minimal surface Reporter/AutoMerge implementations need
// from an HTTP client, making them testable with httptest without pulling
// in a full client mock.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// genericReporter posts a JSON body to a provider-specific status URL. Used
// for GitLab, Bitbucket, and Gitea; GitHub uses the go-gh client instead
// (see github.go).
type genericReporter struct {
	client HTTPDoer
	token  string
}

// Skip reports whether status reporting should be skipped per the
// contract: no commit SHA, no repo URL, or no registered reporter.
func Skip(info BuildInfo, reporterRegistered bool) bool {
	return info.CommitSHA == "" || info.RepoURL == "" || !reporterRegistered
}

// MergeMethod names the merge strategy requested for auto-merge.
type MergeMethod string

const (
	MergeMerge    MergeMethod = "merge"
	MergeSquash   MergeMethod = "squash"
	MergeRebase   MergeMethod = "rebase"
)

// MergeRequest is what a caller supplies to dispatch an auto-merge.
type MergeRequest struct {
	Info               BuildInfo
	Method             MergeMethod
	DeleteBranchAfter  bool
}

// MergeOutcome is the result of an HTTP 2xx/≥300 merge dispatch.
type MergeOutcome string

const (
	Merged MergeOutcome = "merged"
	Failed MergeOutcome = "failed"
)

// httpOutcome applies the HTTP merge-boundary rule common to all four
// providers: status < 300 => merged, status >= 300 => failed.
func httpOutcome(statusCode int) MergeOutcome {
	if statusCode < 300 {
		return Merged
	}
	return Failed
}

// RequiredChecksReady reports whether every required check in required has
// a "success" result recorded in results; any missing or non-success check
// makes auto-merge "not-ready".
func RequiredChecksReady(required []string, results map[string]string) bool {
	for _, name := range required {
		if results[name] != "success" {
			return false
		}
	}
	return true
}

// AutoMergeEnabled reports whether auto-merge should be attempted at all:
// the feature flag, the job's own opt-in, and a PR/MR number must all be
// present.
func AutoMergeEnabled(featureFlag, jobOptIn bool, prOrMRNumber int) bool {
	return featureFlag && jobOptIn && prOrMRNumber > 0
}

// DispatchGitLab issues PUT /projects/{encoded-path}/merge_requests/{n}/merge.
func DispatchGitLab(ctx context.Context, client HTTPDoer, baseURL, token string, req MergeRequest) (MergeOutcome, error) {
	encodedPath := url.PathEscape(fmt.Sprintf("%s/%s", req.Info.Owner, req.Info.Repo))
	endpoint := fmt.Sprintf("%s/projects/%s/merge_requests/%d/merge", strings.TrimRight(baseURL, "/"), encodedPath, req.Info.MergeRequestNumber)

	body := map[string]any{
		"squash":                     req.Method == MergeSquash,
		"should_remove_source_branch": req.DeleteBranchAfter,
	}
	return dispatch(ctx, client, http.MethodPut, endpoint, token, body)
}

// DispatchBitbucket issues POST /repositories/{ws}/{repo}/pullrequests/{n}/merge.
func DispatchBitbucket(ctx context.Context, client HTTPDoer, baseURL, username, appPassword string, req MergeRequest) (MergeOutcome, error) {
	endpoint := fmt.Sprintf("%s/repositories/%s/%s/pullrequests/%d/merge", strings.TrimRight(baseURL, "/"), req.Info.Owner, req.Info.Repo, req.Info.PRNumber)

	strategy := string(req.Method)
	if req.Method == MergeRebase {
		strategy = "fast_forward"
	}
	body := map[string]any{"merge_strategy": strategy}

	outcome, err := dispatchBasicAuth(ctx, client, http.MethodPost, endpoint, username, appPassword, body)
	return outcome, err
}

// DispatchGitea issues POST {base}/repos/{o}/{r}/pulls/{n}/merge.
func DispatchGitea(ctx context.Context, client HTTPDoer, baseURL, token string, req MergeRequest) (MergeOutcome, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/pulls/%d/merge", strings.TrimRight(baseURL, "/"), req.Info.Owner, req.Info.Repo, req.Info.PRNumber)
	body := map[string]any{"Do": string(req.Method)}
	return dispatch(ctx, client, http.MethodPost, endpoint, token, body)
}

func dispatch(ctx context.Context, client HTTPDoer, method, endpoint, token string, body map[string]any) (MergeOutcome, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Failed, fmt.Errorf("scm: marshal merge body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Failed, fmt.Errorf("scm: build merge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Failed, fmt.Errorf("scm: merge request: %w", err)
	}
	defer resp.Body.Close()

	return httpOutcome(resp.StatusCode), nil
}

func dispatchBasicAuth(ctx context.Context, client HTTPDoer, method, endpoint, username, password string, body map[string]any) (MergeOutcome, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Failed, fmt.Errorf("scm: marshal merge body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Failed, fmt.Errorf("scm: build merge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(username, password)

	resp, err := client.Do(req)
	if err != nil {
		return Failed, fmt.Errorf("scm: merge request: %w", err)
	}
	defer resp.Body.Close()

	return httpOutcome(resp.StatusCode), nil
}

// DeleteBranch deletes the head ref after a successful merge. Failure is
// logged and never propagated: it must not turn a successful merge into a
// reported failure.
func DeleteBranch(ctx context.Context, client HTTPDoer, deleteURL, token string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, deleteURL, nil)
	if err != nil {
		log.Warn("failed to build branch-delete request", "error", err)
		return
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Warn("branch deletion request failed", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Warn("branch deletion returned non-2xx", "status", resp.StatusCode)
	}
}

// NewGenericReporter constructs a Reporter for GitLab/Bitbucket/Gitea that
// POSTs a commit status using client.
func NewGenericReporter(client HTTPDoer, token string) Reporter {
	return &genericReporter{client: client, token: token}
}

func (r *genericReporter) Report(ctx context.Context, info BuildInfo, status model.BuildStatus, description string) error {
	if info.CommitSHA == "" || info.RepoURL == "" {
		return nil
	}
	body := map[string]any{
		"state":       MapStatus(status),
		"description": description,
		"context":     "chengis",
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("scm: marshal status body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/statuses/%s", strings.TrimRight(info.RepoURL, "/"), info.CommitSHA)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("scm: build status request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("scm: status request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("scm: status request returned %d", resp.StatusCode)
	}
	return nil
}
