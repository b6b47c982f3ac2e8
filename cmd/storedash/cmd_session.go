package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/storedash/internal/metrics"
)

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
	loginCmd.Flags().StringP("username", "u", "", "username")
	loginCmd.Flags().StringP("password", "p", "", "password (prompted when omitted)")
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in against the collector agent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")

		scanner := bufio.NewScanner(os.Stdin)
		if username == "" {
			username = prompt(scanner, "Username", "")
		}
		if password == "" {
			password = prompt(scanner, "Password", "")
		}
		if strings.TrimSpace(username) == "" || password == "" {
			return fmt.Errorf("username and password are required")
		}

		sess, err := a.sessions.Login(context.Background(), username, password)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Logged in as %s (%s).\n", sess.User.Username, sess.User.Role)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the stored session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		had := a.sessions.IsAuthenticated()
		if err := a.sessions.Logout(); err != nil {
			return err
		}
		if !had {
			fmt.Println("No active session.")
			return nil
		}
		metrics.SessionTeardowns.WithLabelValues("logout").Inc()
		fmt.Println("Logged out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		u := a.sessions.CurrentUser()
		if u == nil {
			return errLogin
		}
		if jsonOut {
			return printJSON(u)
		}
		fmt.Fprintf(os.Stdout, "%s (%s)\n", u.Username, u.Role)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
