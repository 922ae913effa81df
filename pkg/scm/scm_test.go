package scm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sremani/chengis/pkg/model"
)

func TestDetectProvider_HTTPSExactHostMatch(t *testing.T) {
	p, ok := DetectProvider("https://github.com/acme/widgets.git", "")
	require.True(t, ok)
	assert.Equal(t, GitHub, p)
}

func TestDetectProvider_SSHForm(t *testing.T) {
	p, ok := DetectProvider("git@gitlab.com:acme/widgets.git", "")
	require.True(t, ok)
	assert.Equal(t, GitLab, p)
}

func TestDetectProvider_LookalikeHostRejected(t *testing.T) {
	_, ok := DetectProvider("https://evil-github.com/acme/widgets.git", "")
	assert.False(t, ok)
}

func TestDetectProvider_GiteaByConfiguredBaseURL(t *testing.T) {
	p, ok := DetectProvider("https://git.internal.example/acme/widgets.git", "https://git.internal.example")
	require.True(t, ok)
	assert.Equal(t, Gitea, p)
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, "success", MapStatus(model.BuildSuccess))
	assert.Equal(t, "failure", MapStatus(model.BuildFailure))
	assert.Equal(t, "pending", MapStatus(model.BuildRunning))
}

func TestRequiredChecksReady(t *testing.T) {
	results := map[string]string{"lint": "success", "test": "failure"}
	assert.False(t, RequiredChecksReady([]string{"lint", "test"}, results))
	assert.True(t, RequiredChecksReady([]string{"lint"}, results))
}

func TestAutoMergeEnabled(t *testing.T) {
	assert.True(t, AutoMergeEnabled(true, true, 42))
	assert.False(t, AutoMergeEnabled(true, true, 0))
	assert.False(t, AutoMergeEnabled(false, true, 42))
}

func TestDispatchGitLab_SuccessStatusMeansMerged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	outcome, err := DispatchGitLab(context.Background(), srv.Client(), srv.URL, "tok", MergeRequest{
		Info:   BuildInfo{Owner: "acme", Repo: "widgets", MergeRequestNumber: 7},
		Method: MergeSquash,
	})
	require.NoError(t, err)
	assert.Equal(t, Merged, outcome)
}

func TestDispatchGitea_NonSuccessStatusMeansFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	outcome, err := DispatchGitea(context.Background(), srv.Client(), srv.URL, "tok", MergeRequest{
		Info:   BuildInfo{Owner: "acme", Repo: "widgets", PRNumber: 3},
		Method: MergeMerge,
	})
	require.NoError(t, err)
	assert.Equal(t, Failed, outcome)
}

func TestGenericReporter_SkipsWhenNoCommitSHA(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewGenericReporter(srv.Client(), "tok")
	err := r.Report(context.Background(), BuildInfo{RepoURL: srv.URL}, model.BuildSuccess, "ok")
	require.NoError(t, err)
	assert.False(t, called)
}

func TestGenericReporter_PostsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	r := NewGenericReporter(srv.Client(), "tok")
	err := r.Report(context.Background(), BuildInfo{RepoURL: srv.URL, CommitSHA: "abc123"}, model.BuildFailure, "build failed")
	require.NoError(t, err)
}
