package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"safevoice/api/internal/client"
)

func (c *cli) credentials(email, password string) (client.Credentials, error) {
	if password == "" {
		password = os.Getenv("SAFEVOICE_PASSWORD")
	}
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return client.Credentials{}, fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	return client.Credentials{Email: email, Password: password}, nil
}

func (c *cli) loginCommand() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := c.credentials(email, password)
			if err != nil {
				return err
			}
			session, err := c.client.Session.Login(cmd.Context(), creds)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Signed in as %s (%s, %s plan)\n", session.UserName, session.Role, session.Plan)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (c *cli) signupCommand() *cobra.Command {
	var email, password, name string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := c.credentials(email, password)
			if err != nil {
				return err
			}
			session, err := c.client.Session.SignUp(cmd.Context(), creds, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Welcome, %s\n", session.UserName)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (c *cli) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget stored tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.client.Session.Restore(cmd.Context()); err != nil {
				return err
			}
			if err := c.client.Session.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "Signed out")
			return nil
		},
	}
}

func (c *cli) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "whoami",
		Short:   "Show the signed-in account",
		PreRunE: c.requireSession,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, ok := c.client.Session.Current()
			if !ok {
				return &client.AuthError{Reason: "not signed in"}
			}
			fmt.Fprintf(c.out, "%s\t%s\t%s plan\tuntil %s\n",
				session.UserName, session.Role, session.Plan, session.ExpiresAt.Local().Format("15:04"))
			return nil
		},
	}
}
