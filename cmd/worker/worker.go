package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// NewWorkerCmd returns the parent "worker" command.
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run background workers",
	}
	cmd.AddCommand(
		roleCmd("outbox", "Publish PENDING outbox events to the events topic", roleOutbox),
		roleCmd("retry", "Dispatch due retry jobs and reclaim stale ones", roleRetry),
		roleCmd("events", "Consume events and fan them out to endpoints", roleEvents),
		roleCmd("jobs", "Consume retry messages and re-attempt delivery", roleJobs),
		roleCmd("all", "Run every worker role in one process", roleOutbox, roleRetry, roleEvents, roleJobs),
	)
	return cmd
}

type role func(ctx context.Context, rt *runtime, g *errgroup.Group) error

func roleCmd(use, short string, roles ...role) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
			return run(cfgPath, use, roles)
		},
	}
}

func run(cfgPath, name string, roles []role) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(cfgPath, name)
	if err != nil {
		return err
	}
	defer rt.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.serveMetrics(gctx) })
	for _, r := range roles {
		if err := r(gctx, rt, g); err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("start %s: %w", name, err)
		}
	}

	rt.log.Info("worker started")
	return g.Wait()
}
