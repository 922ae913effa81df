package scm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sremani/chengis/pkg/model"
)

type fakeGHClient struct {
	postPath string
	postBody map[string]any
	putPath  string
	putBody  map[string]any
	postErr  error
	putErr   error
}

func (f *fakeGHClient) Post(path string, body io.Reader, response any) error {
	f.postPath = path
	f.postBody = decodeBody(body)
	return f.postErr
}

func (f *fakeGHClient) Put(path string, body io.Reader, response any) error {
	f.putPath = path
	f.putBody = decodeBody(body)
	return f.putErr
}

func decodeBody(r io.Reader) map[string]any {
	var buf bytes.Buffer
	buf.ReadFrom(r)
	var m map[string]any
	json.Unmarshal(buf.Bytes(), &m)
	return m
}

func TestGitHubReporter_Report_PostsStatus(t *testing.T) {
	client := &fakeGHClient{}
	r := NewGitHubReporter(client)

	err := r.Report(context.Background(), BuildInfo{
		CommitSHA: "abc123",
		Owner:     "acme",
		Repo:      "widgets",
	}, model.BuildSuccess, "build passed")

	require.NoError(t, err)
	assert.Equal(t, "repos/acme/widgets/statuses/abc123", client.postPath)
	assert.Equal(t, "success", client.postBody["state"])
}

func TestGitHubReporter_Report_SkipsWhenMissingIdentifiers(t *testing.T) {
	client := &fakeGHClient{}
	r := NewGitHubReporter(client)

	err := r.Report(context.Background(), BuildInfo{}, model.BuildSuccess, "")
	require.NoError(t, err)
	assert.Empty(t, client.postPath)
}

func TestDispatchGitHubMerge_Success(t *testing.T) {
	client := &fakeGHClient{}
	outcome, err := DispatchGitHubMerge(context.Background(), client, MergeRequest{
		Info:   BuildInfo{Owner: "acme", Repo: "widgets", PRNumber: 42},
		Method: MergeSquash,
	})
	require.NoError(t, err)
	assert.Equal(t, Merged, outcome)
	assert.Equal(t, "repos/acme/widgets/pulls/42/merge", client.putPath)
	assert.Equal(t, "squash", client.putBody["merge_method"])
}

func TestDispatchGitHubMerge_FailureClassifiesFailed(t *testing.T) {
	client := &fakeGHClient{putErr: errors.New("422 unprocessable")}
	outcome, err := DispatchGitHubMerge(context.Background(), client, MergeRequest{
		Info: BuildInfo{Owner: "acme", Repo: "widgets", PRNumber: 42},
	})
	assert.Error(t, err)
	assert.Equal(t, Failed, outcome)
}
