package client

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonero-cloud/safeguard/internal/app"
	"github.com/tonero-cloud/safeguard/internal/models"
)

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().String("caption", "", "Short description")
	reportCmd.Flags().Bool("anonymous", false, "Hide your identity from responders")
	reportCmd.Flags().Float64("lat", 0, "Latitude of the incident")
	reportCmd.Flags().Float64("lng", 0, "Longitude of the incident")
	reportCmd.Flags().Int("duration", 0, "Recording length in seconds")
}

var reportCmd = &cobra.Command{
	Use:   "report <video|audio> <file>",
	Short: "Submit a recorded report, queueing it when offline",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		kind := models.ReportType(args[0])
		if !kind.Valid() {
			fmt.Printf("Unknown report type %q (want video or audio)\n", args[0])
			return
		}
		path, err := filepath.Abs(args[1])
		if err != nil {
			fmt.Println("Error resolving file:", err)
			return
		}

		r := models.NewReport{
			Type:      kind,
			LocalURI:  (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String(),
			Timestamp: time.Now().UTC(),
		}
		r.Caption, _ = cmd.Flags().GetString("caption")
		r.IsAnonymous, _ = cmd.Flags().GetBool("anonymous")
		r.Latitude, _ = cmd.Flags().GetFloat64("lat")
		r.Longitude, _ = cmd.Flags().GetFloat64("lng")
		r.DurationSeconds, _ = cmd.Flags().GetInt("duration")

		withApp(cmd, "Report", func(ctx context.Context, a *app.App) error {
			sub, err := a.SubmitReport(ctx, r)
			if err != nil {
				return err
			}
			if sub.Uploaded {
				fmt.Printf("Report %s uploaded\n", sub.ID)
				return nil
			}
			fmt.Printf("Report %s queued (%d pending)\n", sub.ID, a.Queue.PendingCount(ctx))
			if sub.Attempt != nil && sub.Attempt.Err != nil {
				fmt.Println("Upload error:", sub.Attempt.Err)
			}
			return nil
		})
	},
}
