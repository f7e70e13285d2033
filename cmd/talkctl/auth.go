package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	passwordFlag string
	regFirstName string
	regLastName  string
	regGender    string
	regBirthDate string
)

func init() {
	loginCmd.Flags().StringVarP(&passwordFlag, "password", "p", "", "password (read from stdin when empty)")
	registerCmd.Flags().StringVarP(&passwordFlag, "password", "p", "", "password (read from stdin when empty)")
	registerCmd.Flags().StringVar(&regFirstName, "first-name", "", "first name")
	registerCmd.Flags().StringVar(&regLastName, "last-name", "", "last name")
	registerCmd.Flags().StringVar(&regGender, "gender", "", "gender")
	registerCmd.Flags().StringVar(&regBirthDate, "birth-date", "", "date of birth, YYYY-MM-DD")
	rootCmd.AddCommand(statusCmd, loginCmd, registerCmd, logoutCmd, whoamiCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("GetStatus", nil, func(m map[string]any) {
			fmt.Printf("Session: %s\n", str(m, "session"))
			fmt.Printf("Status:  %s\n", str(m, "status"))
			if uid := str(m, "user_id"); uid != "" {
				fmt.Printf("User:    %s\n", uid)
			}
			if active := str(m, "active_chat"); active != "" {
				fmt.Printf("Open:    chat %s\n", active)
			}
			fmt.Printf("Chats:   %s\n", str(m, "chats"))
			if ms, ok := m["uptime_ms"].(float64); ok {
				fmt.Printf("Uptime:  %s\n", (time.Duration(ms) * time.Millisecond).Round(time.Second))
			}
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Sign in and start syncing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := password()
		if err != nil {
			return err
		}
		return call("Login", map[string]any{"email": args[0], "password": pw}, func(m map[string]any) {
			fmt.Printf("Signed in as user %s\n", str(m, "user_id"))
		})
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <email>",
	Short: "Create an account and sign in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := password()
		if err != nil {
			return err
		}
		req := map[string]any{
			"email":         args[0],
			"password":      pw,
			"first_name":    regFirstName,
			"last_name":     regLastName,
			"gender":        regGender,
			"date_of_birth": regBirthDate,
		}
		return call("Register", req, func(m map[string]any) {
			fmt.Printf("Registered and signed in as user %s\n", str(m, "user_id"))
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("Logout", nil, func(map[string]any) {
			fmt.Println("Signed out.")
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user's profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("WhoAmI", nil, func(m map[string]any) {
			fmt.Printf("%s (id %s)\n", str(m, "fullName"), str(m, "id"))
			if email := str(m, "email"); email != "" {
				fmt.Printf("Email: %s\n", email)
			}
		})
	},
}

func password() (string, error) {
	if passwordFlag != "" {
		return passwordFlag, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("password is required")
	}
	return pw, nil
}
