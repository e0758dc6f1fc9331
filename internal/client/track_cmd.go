package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonero-cloud/safeguard/internal/app"
	"github.com/tonero-cloud/safeguard/internal/apperr"
	"github.com/tonero-cloud/safeguard/internal/models"
)

func init() {
	rootCmd.AddCommand(panicCmd)
	panicCmd.AddCommand(panicStartCmd)
	panicCmd.AddCommand(panicStopCmd)
	rootCmd.AddCommand(escortCmd)
	escortCmd.AddCommand(escortStartCmd)
	escortCmd.AddCommand(escortStopCmd)

	for _, c := range []*cobra.Command{panicStartCmd, escortStartCmd, escortStopCmd} {
		c.Flags().Float64("lat", 0, "Current latitude")
		c.Flags().Float64("lng", 0, "Current longitude")
	}
	for _, c := range []*cobra.Command{panicStartCmd, escortStartCmd} {
		c.Flags().Bool("follow", false, "Keep sending location pings until interrupted, then stop")
	}
	panicStartCmd.Flags().String("category", "other", "Emergency category")
}

var panicCmd = &cobra.Command{
	Use:   "panic",
	Short: "Raise or clear a panic alert",
}

var escortCmd = &cobra.Command{
	Use:   "escort",
	Short: "Start or end an escort session (premium)",
}

// locate records the --lat/--lng fix as the current location.
func locate(cmd *cobra.Command, a *app.App) error {
	if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lng") {
		return errors.New("--lat and --lng are required")
	}
	lat, _ := cmd.Flags().GetFloat64("lat")
	lng, _ := cmd.Flags().GetFloat64("lng")
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return apperr.New(apperr.KindValidation, "INVALID_LOCATION", "coordinates out of range")
	}
	a.Location.Set(models.LocationPoint{Latitude: lat, Longitude: lng, Timestamp: time.Now().UTC()})
	return nil
}

// follow keeps the tracker and processor running until ctx is cancelled.
func follow(ctx context.Context, a *app.App, what string) {
	a.Start(ctx)
	fmt.Printf("Sending %s location every %s, interrupt to stop\n", what, a.Config.PingInterval.Duration)
	<-ctx.Done()
}

var panicStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Raise a panic alert at the given location",
	Run: func(cmd *cobra.Command, args []string) {
		category, _ := cmd.Flags().GetString("category")
		keep, _ := cmd.Flags().GetBool("follow")

		withApp(cmd, "Panic", func(ctx context.Context, a *app.App) error {
			if err := locate(cmd, a); err != nil {
				return err
			}
			id, err := a.Tracker.StartPanic(ctx, category)
			if err != nil {
				return err
			}
			fmt.Printf("Panic %s raised (%s)\n", id, category)
			if !keep {
				return nil
			}

			follow(ctx, a, "panic")
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.RequestTimeout.Duration)
			defer cancel()
			if err := a.Tracker.StopPanic(stopCtx); err != nil {
				return err
			}
			fmt.Println("Panic cleared")
			return nil
		})
	},
}

var panicStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Clear the active panic alert",
	Run: func(cmd *cobra.Command, args []string) {
		withApp(cmd, "Panic stop", func(ctx context.Context, a *app.App) error {
			token, ok := a.Credentials.ValidToken(ctx)
			if !ok {
				return apperr.ErrNotAuthenticated
			}
			if err := a.API.DeactivatePanic(ctx, token); err != nil {
				return err
			}
			fmt.Println("Panic cleared")
			return nil
		})
	},
}

var escortStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an escort session at the given location",
	Run: func(cmd *cobra.Command, args []string) {
		keep, _ := cmd.Flags().GetBool("follow")

		withApp(cmd, "Escort", func(ctx context.Context, a *app.App) error {
			if err := locate(cmd, a); err != nil {
				return err
			}
			id, err := a.Tracker.StartEscort(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Escort %s started\n", id)
			if !keep {
				return nil
			}

			follow(ctx, a, "escort")
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.RequestTimeout.Duration)
			defer cancel()
			msg, err := a.Tracker.StopEscort(stopCtx)
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		})
	},
}

var escortStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "End the escort session at the given location",
	Run: func(cmd *cobra.Command, args []string) {
		withApp(cmd, "Escort stop", func(ctx context.Context, a *app.App) error {
			if err := locate(cmd, a); err != nil {
				return err
			}
			token, ok := a.Credentials.ValidToken(ctx)
			if !ok {
				return apperr.ErrNotAuthenticated
			}
			loc, err := a.Location.Location(ctx)
			if err != nil {
				return err
			}
			resp, err := a.API.EscortAction(ctx, token, models.EscortRequest{Action: "stop", Location: loc})
			if err != nil {
				return err
			}
			fmt.Println(resp.Message)
			return nil
		})
	},
}
