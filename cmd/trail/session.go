package main

import (
	"fmt"
	"time"

	"github.com/cuemby/trail/pkg/types"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a session obtained from the backend",
	Long: `Login stores the access and refresh tokens of an existing backend session.
Trail refreshes the access token on its own from then on.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		accessToken, _ := cmd.Flags().GetString("access-token")
		refreshToken, _ := cmd.Flags().GetString("refresh-token")
		apiKey, _ := cmd.Flags().GetString("api-key")
		userID, _ := cmd.Flags().GetString("user-id")
		expiresIn, _ := cmd.Flags().GetDuration("expires-in")

		a, err := newApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.close()

		err = a.session.Login(types.SessionCredential{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			APIKey:       apiKey,
			UserID:       userID,
			ExpiresAt:    time.Now().Add(expiresIn),
		})
		if err != nil {
			return fmt.Errorf("failed to store session: %v", err)
		}

		fmt.Printf("✓ Logged in as %s\n", userID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	Long: `Logout removes the stored tokens. Queued samples are kept and are only
delivered once the same user logs in again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.session.Logout(); err != nil {
			return fmt.Errorf("failed to log out: %v", err)
		}
		fmt.Println("✓ Logged out")
		return nil
	},
}

var pinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Manage the local unlock PIN",
}

var pinSetCmd = &cobra.Command{
	Use:   "set PIN",
	Short: "Set the PIN used to resume a session the backend refused to refresh",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.gate.SetPin(args[0]); err != nil {
			return err
		}
		fmt.Println("✓ PIN set")
		return nil
	},
}

var pinClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the PIN; a refused refresh will then log out",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.gate.ClearPin(); err != nil {
			return fmt.Errorf("failed to clear PIN: %v", err)
		}
		fmt.Println("✓ PIN cleared")
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Unlock a PIN-locked session and flush the backlog",
	Long: `Unlock verifies the PIN, refreshes the session token straight away and,
once authenticated, runs one flush of the samples queued while locked.

While ` + "`trail run`" + ` holds the data directory, use POST /unlock on its admin API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pin, _ := cmd.Flags().GetString("pin")

		a, err := newApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.gate.Unlock(cmd.Context(), pin); err != nil {
			return err
		}

		n, _ := a.store.Len()
		fmt.Printf("✓ Unlocked (%d entries still queued)\n", n)
		return nil
	},
}

func init() {
	loginCmd.Flags().String("access-token", "", "Access token")
	loginCmd.Flags().String("refresh-token", "", "Refresh token")
	loginCmd.Flags().String("api-key", "", "Backend API key")
	loginCmd.Flags().String("user-id", "", "Id of the signed-in user")
	loginCmd.Flags().Duration("expires-in", time.Hour, "Lifetime of the access token")
	loginCmd.MarkFlagRequired("access-token")
	loginCmd.MarkFlagRequired("refresh-token")
	loginCmd.MarkFlagRequired("user-id")

	pinCmd.AddCommand(pinSetCmd)
	pinCmd.AddCommand(pinClearCmd)

	unlockCmd.Flags().String("pin", "", "Unlock PIN")
	unlockCmd.MarkFlagRequired("pin")
}
