package main

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"safevoice/api/internal/client"
	"safevoice/api/internal/domain"
)

func (c *cli) reportsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "reports",
		Short:             "List, submit and manage reports",
		PersistentPreRunE: c.chainSession,
	}
	cmd.AddCommand(
		c.reportsListCommand(),
		c.reportsShowCommand(),
		c.reportsCreateCommand(),
		c.reportsStatusCommand(),
		c.reportsCancelCommand(),
		c.reportsDeleteCommand(),
		c.reportsCertificateCommand(),
	)
	return cmd
}

// chainSession runs the root setup before requiring a session; cobra only
// runs the nearest persistent pre-run.
func (c *cli) chainSession(cmd *cobra.Command, args []string) error {
	if err := c.setup(); err != nil {
		return err
	}
	return c.signedIn(cmd.Context())
}

func (c *cli) printReports(reports []domain.Report) {
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCATEGORY\tSUBMITTED\tFLAGS\tTITLE")
	for _, report := range reports {
		var flags []string
		if report.PriorityFlag {
			flags = append(flags, "priority")
		}
		if report.IsAnonymous {
			flags = append(flags, "anonymous")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			report.ID, report.Status, report.Category,
			report.SubmittedAt.Local().Format("2006-01-02 15:04"),
			strings.Join(flags, ","), report.Title)
	}
	_ = w.Flush()
}

func (c *cli) reportsListCommand() *cobra.Command {
	var status string
	var ascending bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports visible to you",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := domain.Status(status)
			if filter != "" && !filter.Valid() {
				return &client.ValidationError{Field: "status", Message: "unknown status " + status}
			}
			c.client.Reports.SetAscending(ascending)
			if _, err := c.client.Reports.List(cmd.Context(), filter); err != nil {
				return err
			}
			reports := c.client.Reports.Reports()
			if filter != "" {
				kept := reports[:0]
				for _, report := range reports {
					if report.Status == filter {
						kept = append(kept, report)
					}
				}
				reports = kept
			}
			c.printReports(reports)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only reports in this status")
	cmd.Flags().BoolVar(&ascending, "asc", false, "oldest first")
	return cmd
}

func (c *cli) reportsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one report, its thread and what you can do with it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// The view owns both loads; leaving it cancels whatever is still running.
			view := client.NewScope(cmd.Context())
			defer view.Close()
			thread := c.client.Thread(args[0])
			defer thread.Close()

			var threadErr error
			view.Go(func(ctx context.Context) {
				_, threadErr = thread.Fetch(ctx)
			})
			report, err := c.client.Reports.Fetch(view.Context(), args[0])
			view.Wait()
			if err != nil {
				return err
			}

			submitter := "anonymous"
			if report.SubmittedBy != nil {
				submitter = report.SubmittedBy.DisplayName
			}
			fmt.Fprintf(c.out, "%s  %s\n", report.ID, report.Title)
			fmt.Fprintf(c.out, "status:    %s\ncategory:  %s\nsubmitter: %s\nsubmitted: %s\n",
				report.Status, report.Category, submitter, report.SubmittedAt.Local().Format("2006-01-02 15:04"))
			if report.Attachment != "" {
				fmt.Fprintf(c.out, "attachment: %s\n", report.Attachment)
			}
			fmt.Fprintf(c.out, "\n%s\n", report.Description)

			if threadErr != nil {
				c.log.Warn("could not load comments", "report_id", report.ID, "error", threadErr)
			} else if comments := thread.Comments(); len(comments) > 0 {
				fmt.Fprintf(c.out, "\n%d comments, latest from %s\n", len(comments), comments[len(comments)-1].DisplaySenderName)
			}
			if actions := c.client.Reports.Actions(report.ID); len(actions) > 0 {
				names := make([]string, len(actions))
				for i, action := range actions {
					names[i] = string(action)
				}
				fmt.Fprintf(c.out, "\nactions: %s\n", strings.Join(names, ", "))
			}
			return nil
		},
	}
}

func (c *cli) reportsCreateCommand() *cobra.Command {
	var draft client.ReportDraft
	var category, attach string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit a new report",
		RunE: func(cmd *cobra.Command, args []string) error {
			draft.Category = domain.Category(category)
			if attach != "" {
				attachment, err := readAttachment(attach)
				if err != nil {
					return err
				}
				draft.Attachment = attachment
			}
			report, err := c.client.Reports.Create(cmd.Context(), draft)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Submitted %s (tracking token %s)\n", report.ID, report.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&draft.Title, "title", "", "short title")
	cmd.Flags().StringVar(&category, "category", "", "abuse, corruption, harassment or other")
	cmd.Flags().StringVar(&draft.Description, "description", "", "what happened")
	cmd.Flags().BoolVar(&draft.PriorityFlag, "priority", false, "flag as urgent")
	cmd.Flags().BoolVar(&draft.IsAnonymous, "anonymous", false, "hide your name from reviewers")
	cmd.Flags().StringVar(&attach, "attach", "", "file to attach")
	return cmd
}

func readAttachment(path string) (*client.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}
	return &client.Attachment{Filename: filepath.Base(path), ContentType: contentType, Data: data}, nil
}

func (c *cli) reportsStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move a report to a new status (reviewers)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			next := domain.Status(args[1])
			if !next.Valid() {
				return &client.ValidationError{Field: "status", Message: "unknown status " + args[1]}
			}
			report, err := c.client.Reports.TransitionStatus(cmd.Context(), args[0], next)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s is now %s\n", report.ID, report.Status)
			return nil
		},
	}
}

func (c *cli) reportsCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Withdraw one of your reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := c.client.Reports.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s cancelled\n", report.ID)
			return nil
		},
	}
}

func (c *cli) reportsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one of your reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.client.Reports.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s deleted\n", args[0])
			return nil
		},
	}
}

func (c *cli) reportsCertificateCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "certificate <id>",
		Short: "Download the resolution certificate of a resolved report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, filename, err := c.client.Reports.Certificate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output == "" {
				output = filename
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write certificate: %w", err)
			}
			fmt.Fprintf(c.out, "Saved %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (defaults to the server's filename)")
	return cmd
}
