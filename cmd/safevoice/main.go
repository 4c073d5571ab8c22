// Command safevoice is a terminal client for the SafeVoice API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"safevoice/api/internal/client"
	"safevoice/api/internal/config"
	"safevoice/api/internal/logging"
)

const (
	exitError = 1
	exitAuth  = 2
)

// cli holds what every command needs once the root has run.
type cli struct {
	cfg    config.ClientConfig
	client *client.Client
	keys   client.Keystore
	out    io.Writer
	log    *slog.Logger
	close  func() error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{out: os.Stdout}
	root := c.rootCommand()
	err := root.ExecuteContext(ctx)
	if c.close != nil {
		_ = c.close()
	}
	if err == nil {
		return
	}

	if client.IsAuth(err) {
		fmt.Fprintf(os.Stderr, "error: %v\nRun `safevoice login` to sign in again.\n", err)
		stop()
		os.Exit(exitAuth)
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", describe(err))
	stop()
	os.Exit(exitError)
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "safevoice",
		Short:         "Report and follow up on workplace incidents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
	}
	root.AddCommand(
		c.loginCommand(),
		c.signupCommand(),
		c.logoutCommand(),
		c.whoamiCommand(),
		c.reportsCommand(),
		c.commentsCommand(),
		c.notificationsCommand(),
		c.analyticsCommand(),
	)
	return root
}

func (c *cli) setup() error {
	c.cfg = config.LoadClient()
	c.log = logging.SetupWriter(os.Stderr, c.cfg.LogLevel)

	if c.cfg.KeystoreRedis != "" {
		keys, err := client.NewRedisKeystore(c.cfg.KeystoreRedis)
		if err != nil {
			return err
		}
		c.keys = keys
		c.close = keys.Close
	} else {
		c.keys = client.NewFileKeystore(c.cfg.KeystorePath)
	}

	c.client = client.New(c.cfg.APIURL, c.keys,
		client.WithHTTPClient(&http.Client{Timeout: c.cfg.HTTPTimeout}),
		client.WithLogger(c.log),
	)
	return nil
}

// signedIn restores the stored session or fails with an AuthError.
func (c *cli) signedIn(ctx context.Context) error {
	ok, err := c.client.Session.Restore(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return &client.AuthError{Reason: "not signed in"}
	}
	return nil
}

func (c *cli) requireSession(cmd *cobra.Command, args []string) error {
	return c.signedIn(cmd.Context())
}

// describe turns client errors into one line a person can act on.
func describe(err error) string {
	var (
		permission *client.PermissionError
		validation *client.ValidationError
		conflict   *client.ConflictError
		network    *client.NetworkError
	)
	switch {
	case errors.Is(err, client.ErrBusy):
		return "that report is still being updated, try again in a moment"
	case errors.As(err, &conflict):
		return fmt.Sprintf("report %s changed on the server and is now %s", conflict.Report.ID, conflict.Report.Status)
	case errors.As(err, &permission):
		return permission.Error()
	case errors.As(err, &validation):
		return validation.Error()
	case errors.As(err, &network):
		return fmt.Sprintf("could not reach the server (%v); nothing was retried", network.Err)
	default:
		return err.Error()
	}
}
