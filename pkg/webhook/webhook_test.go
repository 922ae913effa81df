package webhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sremani/chengis/pkg/clock"
	"github.com/sremani/chengis/pkg/store"
)

func TestReceive_PersistsPayloadVerbatim(t *testing.T) {
	st := store.NewMemory()
	clk := clock.System{}
	headers := map[string]string{"x-github-event": "push"}
	body := []byte(`{"ref":"refs/heads/main"}`)

	saved, err := Receive(context.Background(), st, clk, ProviderGitHub, "push", headers, body)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, ProviderGitHub, saved.Provider)
	assert.Equal(t, body, saved.Body)

	loaded, err := st.GetWebhookPayload(context.Background(), saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "push", loaded.EventType)
	assert.Equal(t, "push", loaded.Headers["x-github-event"])
}

func TestReplay_InvokesHandlerWithOriginalHeaders(t *testing.T) {
	st := store.NewMemory()
	clk := clock.System{}
	headers := map[string]string{"x-gitlab-event": "Push Hook"}
	body := []byte(`{"ref":"refs/heads/develop"}`)

	saved, err := Receive(context.Background(), st, clk, ProviderGitLab, "Push Hook", headers, body)
	require.NoError(t, err)

	var gotProvider, gotEvent string
	var gotHeaders map[string]string
	var gotBody []byte
	handler := func(ctx context.Context, provider, eventType string, h map[string]string, b []byte) error {
		gotProvider, gotEvent, gotHeaders, gotBody = provider, eventType, h, b
		return nil
	}

	require.NoError(t, Replay(context.Background(), st, saved.ID, handler))
	assert.Equal(t, ProviderGitLab, gotProvider)
	assert.Equal(t, "Push Hook", gotEvent)
	assert.Equal(t, "Push Hook", gotHeaders["x-gitlab-event"])
	assert.Equal(t, body, gotBody)
}

func TestReplay_UnknownIDReturnsError(t *testing.T) {
	st := store.NewMemory()
	err := Replay(context.Background(), st, "missing-id", func(context.Context, string, string, map[string]string, []byte) error {
		return nil
	})
	assert.Error(t, err)
}

func TestListDeliveries_FiltersByProvider(t *testing.T) {
	st := store.NewMemory()
	clk := clock.System{}
	_, err := Receive(context.Background(), st, clk, ProviderGitHub, "push", nil, []byte("{}"))
	require.NoError(t, err)
	_, err = Receive(context.Background(), st, clk, ProviderGitLab, "push", nil, []byte("{}"))
	require.NoError(t, err)

	githubOnly, err := ListDeliveries(context.Background(), st, ProviderGitHub)
	require.NoError(t, err)
	assert.Len(t, githubOnly, 1)

	all, err := ListDeliveries(context.Background(), st, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestChangedFiles_UnionsAddedModifiedRemovedAcrossCommits(t *testing.T) {
	body := []byte(`{
		"ref": "refs/heads/main",
		"commits": [
			{"id": "c1", "added": ["a.go"], "modified": ["b.go"], "removed": []},
			{"id": "c2", "added": [], "modified": ["b.go"], "removed": ["c.go"]}
		]
	}`)
	files, err := ChangedFiles(body)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.go", "b.go", "c.go"}, files)
}

func TestPushBranch_StripsRefsHeadsPrefix(t *testing.T) {
	body := []byte(`{"ref": "refs/heads/feature/x"}`)
	branch, err := PushBranch(body)
	require.NoError(t, err)
	assert.Equal(t, "feature/x", branch)
}
