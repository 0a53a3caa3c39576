package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/painscan/internal/gateway"
	"github.com/CosmoTheDev/painscan/internal/tui"
	"github.com/CosmoTheDev/painscan/models"
)

var (
	watchAddr string
	watchRepo string
)

var watchCmd = &cobra.Command{
	Use:   "watch [scan-id]",
	Short: "Follow a scan running on a painscan gateway",
	Long: `Streams a scan's progress from a running gateway ('painscan serve').

Pass a scan id to follow an existing scan, or --repo to submit a new one
and follow it:
  painscan watch 3f1c...
  painscan watch --repo https://github.com/example/myapp`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchAddr, "addr", "http://127.0.0.1:6080", "Gateway base URL")
	watchCmd.Flags().StringVar(&watchRepo, "repo", "", "Submit this repository first, then follow it")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := gateway.NewClient(watchAddr)

	var scanID string
	switch {
	case len(args) == 1 && watchRepo != "":
		return fmt.Errorf("pass either a scan id or --repo, not both")
	case len(args) == 1:
		scanID = args[0]
	case watchRepo != "":
		id, err := client.Submit(ctx, watchRepo)
		if err != nil {
			return fmt.Errorf("submitting scan: %w", err)
		}
		scanID = id
	default:
		return fmt.Errorf("a scan id or --repo is required")
	}

	m := tui.NewWatchModel(ctx, scanID, func(ctx context.Context, fn func(gateway.StreamEvent) error) error {
		return client.Follow(ctx, scanID, fn)
	})
	if err := m.Run(); err != nil {
		return err
	}
	if err := m.Err(); err != nil {
		return err
	}

	t := m.Terminal()
	if t == nil {
		fmt.Printf("Stopped watching scan %s\n", scanID)
		return nil
	}
	fmt.Printf("Scan %s %s with %d findings\n", scanID, t.Status, t.FindingsCount)
	if t.Status == models.StatusFailed {
		return fmt.Errorf("scan %s failed: %s", scanID, t.Error)
	}
	return nil
}
