package client

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonero-cloud/safeguard/internal/app"
	"github.com/tonero-cloud/safeguard/internal/models"
)

func init() {
	rootCmd.AddCommand(registerCmd)
	registerCmd.Flags().String("email", "", "Account email")
	registerCmd.Flags().String("password", "", "Password (prompted twice when empty)")
	registerCmd.Flags().String("full-name", "", "Full name")
	registerCmd.Flags().String("phone", "", "Phone number")
	registerCmd.Flags().String("role", string(models.RoleCivil), "civil, security or admin")
	registerCmd.Flags().String("invite-code", "", "Invite code for security and admin accounts")
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	Run: func(cmd *cobra.Command, args []string) {
		req := models.RegisterRequest{}
		req.Email, _ = cmd.Flags().GetString("email")
		req.FullName, _ = cmd.Flags().GetString("full-name")
		req.Phone, _ = cmd.Flags().GetString("phone")
		req.InviteCode, _ = cmd.Flags().GetString("invite-code")
		role, _ := cmd.Flags().GetString("role")
		req.Role = models.Role(role)

		if req.Email == "" {
			fmt.Println("Email required")
			return
		}
		if !req.Role.Valid() {
			fmt.Printf("Unknown role %q\n", role)
			return
		}

		req.Password, _ = cmd.Flags().GetString("password")
		req.ConfirmPassword = req.Password
		if req.Password == "" {
			var err error
			if req.Password, err = readPassword("Password: "); err != nil {
				fmt.Println("Error reading password:", err)
				return
			}
			if req.ConfirmPassword, err = readPassword("Confirm password: "); err != nil {
				fmt.Println("Error reading password:", err)
				return
			}
		}
		if req.Password != req.ConfirmPassword {
			fmt.Println("Passwords do not match")
			return
		}

		withApp(cmd, "Registration", func(ctx context.Context, a *app.App) error {
			resp, err := a.Register(ctx, req)
			if err != nil {
				return err
			}
			fmt.Printf("Registered %s as %s\n", resp.Email, resp.Role)
			return nil
		})
	},
}
