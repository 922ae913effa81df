package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sremani/chengis/pkg/clock"
	"github.com/sremani/chengis/pkg/store"
	"github.com/sremani/chengis/pkg/webhook"
)

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Inspect and replay webhook deliveries",
}

var webhookReplayFileCmd = &cobra.Command{
	Use:   "replay-file <payload.json>",
	Short: "Load a raw delivery from disk, persist it, and replay it against an echo handler",
	Long: `The live control plane persists webhook deliveries as they arrive and
replays them by ID from the store. A standalone CLI invocation has no
prior-process store to look an ID up in, so this command instead loads the
delivery from a JSON file shaped {"provider", "event_type", "headers", "body"},
stores it, and immediately replays it so the round trip can be exercised
without a running server.`,
	Args: cobra.ExactArgs(1),
	RunE: webhookReplayFile,
}

func init() {
	webhookCmd.AddCommand(webhookReplayFileCmd)
}

type deliveryFile struct {
	Provider  string            `json:"provider"`
	EventType string            `json:"event_type"`
	Headers   map[string]string `json:"headers"`
	Body      json.RawMessage   `json:"body"`
}

func webhookReplayFile(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read delivery file: %w", err)
	}
	var d deliveryFile
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("parse delivery file: %w", err)
	}

	st := store.NewMemory()
	clk := clock.System{}
	saved, err := webhook.Receive(cmd.Context(), st, clk, d.Provider, d.EventType, d.Headers, d.Body)
	if err != nil {
		return fmt.Errorf("persist delivery: %w", err)
	}

	handler := func(ctx context.Context, provider, eventType string, headers map[string]string, body []byte) error {
		fmt.Fprintf(os.Stdout, "replayed %s/%s: %s\n", provider, eventType, string(body))
		if branch, err := webhook.PushBranch(body); err == nil && branch != "" {
			fmt.Fprintf(os.Stdout, "branch: %s\n", branch)
		}
		if files, err := webhook.ChangedFiles(body); err == nil && len(files) > 0 {
			fmt.Fprintf(os.Stdout, "changed files: %v\n", files)
		}
		return nil
	}

	return webhook.Replay(context.Background(), st, saved.ID, handler)
}
