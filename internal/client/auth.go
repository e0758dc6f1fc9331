package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tonero-cloud/safeguard/internal/app"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)

	loginCmd.Flags().String("email", "", "Account email")
	loginCmd.Flags().String("password", "", "Account password (prompted when empty)")
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session",
	Run: func(cmd *cobra.Command, args []string) {
		email, _ := cmd.Flags().GetString("email")
		if email == "" {
			fmt.Println("Email required")
			return
		}
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			var err error
			if password, err = readPassword("Password: "); err != nil {
				fmt.Println("Error reading password:", err)
				return
			}
		}

		withApp(cmd, "Login", func(ctx context.Context, a *app.App) error {
			resp, err := a.Login(ctx, email, password)
			if err != nil {
				return err
			}
			fmt.Printf("Logged in as %s (%s)\n", resp.Email, resp.Role)
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	Run: func(cmd *cobra.Command, args []string) {
		withApp(cmd, "Logout", func(ctx context.Context, a *app.App) error {
			if !a.Logout(ctx) {
				return errors.New("some session data could not be removed")
			}
			fmt.Println("Logged out")
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in account",
	Run: func(cmd *cobra.Command, args []string) {
		withApp(cmd, "Profile lookup", func(ctx context.Context, a *app.App) error {
			token, ok := a.Credentials.ValidToken(ctx)
			if !ok {
				fmt.Println("Not logged in")
				return nil
			}
			meta := a.Credentials.Metadata(ctx)

			p, err := a.API.Profile(ctx, token)
			if err != nil {
				// Offline: fall back to what was stored at login.
				fmt.Printf("User %s (%s, premium: %t)\n", meta.UserID, meta.Role, meta.IsPremium)
				return err
			}
			fmt.Printf("%s <%s>\n", p.FullName, p.Email)
			fmt.Printf("User %s (%s, premium: %t)\n", p.ID, p.Role, p.IsPremium)
			return nil
		})
	},
}

// readPassword prompts without echo on a terminal and reads a plain line
// otherwise, so passwords can be piped in.
func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
