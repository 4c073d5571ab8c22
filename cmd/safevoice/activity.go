package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"safevoice/api/internal/client"
	"safevoice/api/internal/domain"
)

func (c *cli) commentsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "comments",
		Short:             "Read and post messages on a report",
		PersistentPreRunE: c.chainSession,
	}

	list := &cobra.Command{
		Use:   "list <report-id>",
		Short: "Show the thread of a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			thread := c.client.Thread(args[0])
			defer thread.Close()
			comments, err := thread.Fetch(cmd.Context())
			if err != nil {
				return err
			}
			for _, comment := range comments {
				marker := ""
				if comment.IsInternal {
					marker = " [internal]"
				}
				fmt.Fprintf(c.out, "%s  %s%s\n  %s\n",
					comment.SentAt.Local().Format("2006-01-02 15:04"), comment.DisplaySenderName, marker, comment.Message)
			}
			return nil
		},
	}

	var internal bool
	post := &cobra.Command{
		Use:   "post <report-id> <message...>",
		Short: "Post a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			thread := c.client.Thread(args[0])
			defer thread.Close()
			if internal && !c.client.Session.IsAdmin() {
				c.log.Warn("only reviewers can post internal notes; posting a normal message")
			}
			comment, err := thread.Post(cmd.Context(), strings.Join(args[1:], " "), internal)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Posted %s\n", comment.ID)
			return nil
		},
	}
	post.Flags().BoolVar(&internal, "internal", false, "reviewer-only note")

	cmd.AddCommand(list, post)
	return cmd
}

func (c *cli) notificationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "notifications",
		Short:             "Follow activity on your reports",
		PersistentPreRunE: c.chainSession,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Show recent notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			poller := c.client.Poller()
			if _, err := poller.FetchUnreadCount(cmd.Context()); err != nil {
				return err
			}
			c.printFeed(poller.Feed())
			return nil
		},
	}

	read := &cobra.Command{
		Use:   "read [notification-id]",
		Short: "Mark one notification read, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			poller := c.client.Poller()
			var (
				unread int
				err    error
			)
			if len(args) == 1 {
				unread, err = poller.MarkRead(cmd.Context(), args[0])
			} else {
				unread, err = poller.Close(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%d unread\n", unread)
			return nil
		},
	}

	var keepUnread bool
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Poll for new notifications until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.watch(cmd.Context(), keepUnread)
		},
	}
	watch.Flags().BoolVar(&keepUnread, "keep-unread", false, "do not mark everything read on exit")

	cmd.AddCommand(list, read, watch)
	return cmd
}

func (c *cli) watch(ctx context.Context, keepUnread bool) error {
	poller := c.client.Poller()
	last := -1
	poller.OnUpdate(func(feed domain.NotificationFeed) {
		if feed.Unread == last {
			return
		}
		last = feed.Unread
		fmt.Fprintf(c.out, "%s  %d unread\n", time.Now().Format("15:04:05"), feed.Unread)
	})
	poller.Start(c.cfg.PollInterval)

	waitStopped(ctx, poller)
	poller.Stop()

	if !c.client.Session.IsAuthenticated() {
		return &client.AuthError{Reason: "session ended while watching"}
	}
	if keepUnread {
		return nil
	}
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.HTTPTimeout)
	defer cancel()
	_, err := poller.Close(closeCtx)
	return err
}

// waitStopped returns on interrupt or when the poller exits on its own,
// which only happens once the session is gone.
func waitStopped(ctx context.Context, poller *client.NotificationPoller) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for poller.Running() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *cli) printFeed(feed domain.NotificationFeed) {
	fmt.Fprintf(c.out, "%d unread\n", feed.Unread)
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, item := range feed.Items {
		state := " "
		if !item.IsRead {
			state = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", state, item.ID, item.CreatedAt.Local().Format("01-02 15:04"), item.Message)
	}
	_ = w.Flush()
}

func (c *cli) analyticsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "analytics",
		Short:   "Summarize reports by status and category",
		PreRunE: c.requireSession,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.client.Session.IsAdmin() {
				if _, err := c.client.Analytics.FetchServerSummary(cmd.Context()); err != nil {
					return err
				}
			} else if _, err := c.client.Reports.List(cmd.Context(), ""); err != nil {
				return err
			}
			summary, authoritative := c.client.Analytics.Summary()
			source := "your reports"
			if authoritative {
				source = "all reports"
			}
			c.printSummary(summary, source)
			return nil
		},
	}
}

func (c *cli) printSummary(summary domain.Summary, source string) {
	fmt.Fprintf(c.out, "%d reports (%s), %d priority, %d anonymous\n",
		summary.Total, source, summary.PriorityCount, summary.AnonymousCount)

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	statuses := make([]string, 0, len(summary.ByStatus))
	for status := range summary.ByStatus {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Fprintf(w, "status\t%s\t%d\n", status, summary.ByStatus[domain.Status(status)])
	}
	categories := make([]string, 0, len(summary.ByCategory))
	for category := range summary.ByCategory {
		categories = append(categories, string(category))
	}
	sort.Strings(categories)
	for _, category := range categories {
		fmt.Fprintf(w, "category\t%s\t%d\n", category, summary.ByCategory[domain.Category(category)])
	}
	_ = w.Flush()
}
