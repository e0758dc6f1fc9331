package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tonero-cloud/safeguard/internal/app"
	"github.com/tonero-cloud/safeguard/internal/models"
)

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueCountCmd)
	queueCmd.AddCommand(queueFlushCmd)
	queueCmd.AddCommand(queueDeleteCmd)
	queueCmd.AddCommand(queueRetryCmd)
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and drain the offline report queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued reports and pings",
	Run: func(cmd *cobra.Command, args []string) {
		withApp(cmd, "List", func(ctx context.Context, a *app.App) error {
			reports := a.Queue.List(ctx)
			pings := a.Pings.List(ctx)
			if len(reports) == 0 && len(pings) == 0 {
				fmt.Println("Queue is empty")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tRETRIES\tERROR")
			for _, r := range reports {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.Type, r.Status, r.RetryCount, r.ErrorMessage)
			}
			for _, p := range pings {
				fmt.Fprintf(w, "%s\t%s ping\t%s\t%d\t%s\n", p.ID, p.Kind, p.Status, p.RetryCount, p.ErrorMessage)
			}
			return w.Flush()
		})
	},
}

var queueCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print how many reports are waiting to upload",
	Run: func(cmd *cobra.Command, args []string) {
		withApp(cmd, "Count", func(ctx context.Context, a *app.App) error {
			fmt.Printf("%d pending reports, %d pending pings\n", a.Queue.PendingCount(ctx), a.Pings.PendingCount(ctx))
			return nil
		})
	},
}

var queueFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Upload everything pending now",
	Run: func(cmd *cobra.Command, args []string) {
		withApp(cmd, "Flush", func(ctx context.Context, a *app.App) error {
			res := a.Processor.Drain(ctx)
			if res.Aborted != "" {
				fmt.Printf("Flush stopped: %s\n", res.Aborted)
			}
			fmt.Printf("Uploaded %d, failed %d (pings: sent %d, failed %d)\n",
				res.Success, res.Failed, res.PingSuccess, res.PingFailed)
			return nil
		})
	},
}

var queueDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Drop a queued report",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withApp(cmd, "Delete", func(ctx context.Context, a *app.App) error {
			if _, ok := a.Queue.Get(ctx, args[0]); !ok {
				return fmt.Errorf("report %s not found", args[0])
			}
			if err := a.Queue.Remove(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Report %s deleted\n", args[0])
			return nil
		})
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Move a failed report back to pending",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withApp(cmd, "Retry", func(ctx context.Context, a *app.App) error {
			r, ok := a.Queue.Get(ctx, args[0])
			if !ok {
				return fmt.Errorf("report %s not found", args[0])
			}
			if r.Status != models.StatusFailed {
				return errors.New("only failed reports can be retried")
			}
			if !a.Queue.Retry(ctx, args[0]) {
				return errors.New("could not update the queue")
			}
			fmt.Printf("Report %s will be retried\n", args[0])
			return nil
		})
	},
}
