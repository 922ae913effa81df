// Package webhook is the webhook replay subsystem (component N): persists
// raw inbound GitHub/GitLab delivery payloads and can re-invoke the
// configured inbound handler against a previously stored one.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sremani/chengis/internal/telemetry/logging"
	"github.com/sremani/chengis/pkg/clock"
	"github.com/sremani/chengis/pkg/model"
	"github.com/sremani/chengis/pkg/store"
)

var log = logging.New("webhook")

const (
	ProviderGitHub = "github"
	ProviderGitLab = "gitlab"
)

// Handler is the inbound webhook entry point a build trigger registers.
// Replay calls it with the original provider, event type, headers, and
// raw body, exactly as the live HTTP endpoint would have.
type Handler func(ctx context.Context, provider, eventType string, headers map[string]string, body []byte) error

// Receive persists a raw webhook delivery and returns the stored record.
// It does not itself dispatch to a Handler; the live HTTP endpoint calls
// the Handler directly and Receive separately for the replay log, so a
// handler panic or error does not prevent the payload from being kept.
func Receive(ctx context.Context, st store.Store, clk clock.Clock, provider, eventType string, headers map[string]string, body []byte) (model.WebhookPayload, error) {
	p := model.WebhookPayload{
		ID:         clock.NewID(clk),
		Provider:   provider,
		EventType:  eventType,
		Headers:    headers,
		Body:       append([]byte(nil), body...),
		ReceivedAt: clk.Now(),
	}
	saved, err := st.SaveWebhookPayload(ctx, p)
	if err != nil {
		return model.WebhookPayload{}, fmt.Errorf("webhook: save payload: %w", err)
	}
	return saved, nil
}

// Replay loads a previously stored payload by ID and re-invokes handler
// with its original provider, event type, headers, and body.
func Replay(ctx context.Context, st store.Store, id string, handler Handler) error {
	p, err := st.GetWebhookPayload(ctx, id)
	if err != nil {
		return fmt.Errorf("webhook: load payload %s: %w", id, err)
	}
	log.Info("replaying webhook", "id", id, "provider", p.Provider, "event", p.EventType)
	if err := handler(ctx, p.Provider, p.EventType, p.Headers, p.Body); err != nil {
		return fmt.Errorf("webhook: replay handler: %w", err)
	}
	return nil
}

// ListDeliveries returns stored payloads for a provider, or every stored
// payload if provider is empty.
func ListDeliveries(ctx context.Context, st store.Store, provider string) ([]model.WebhookPayload, error) {
	payloads, err := st.ListWebhookPayloads(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("webhook: list payloads: %w", err)
	}
	return payloads, nil
}

// pushCommit is the shape shared by GitHub and GitLab push event commits:
// each lists the file paths it added, modified, and removed.
type pushCommit struct {
	ID       string   `json:"id"`
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Removed  []string `json:"removed"`
}

type pushPayload struct {
	Ref     string       `json:"ref"`
	Commits []pushCommit `json:"commits"`
}

// ChangedFiles parses a GitHub or GitLab push event body (the two share
// the same commits[].added/modified/removed shape) and returns the union
// of every file path touched across all commits in the push, used to
// scope monorepo path-filtered triggers.
func ChangedFiles(body []byte) ([]string, error) {
	var payload pushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("webhook: parse push payload: %w", err)
	}

	seen := make(map[string]bool)
	var files []string
	add := func(paths []string) {
		for _, p := range paths {
			if !seen[p] {
				seen[p] = true
				files = append(files, p)
			}
		}
	}
	for _, c := range payload.Commits {
		add(c.Added)
		add(c.Modified)
		add(c.Removed)
	}
	return files, nil
}

// PushBranch extracts the branch name from a push event's "refs/heads/<branch>" ref.
func PushBranch(body []byte) (string, error) {
	var payload pushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("webhook: parse push payload: %w", err)
	}
	const prefix = "refs/heads/"
	if len(payload.Ref) > len(prefix) && payload.Ref[:len(prefix)] == prefix {
		return payload.Ref[len(prefix):], nil
	}
	return payload.Ref, nil
}
