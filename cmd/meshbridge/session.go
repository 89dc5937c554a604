package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/meshbridge/pkg/models"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage design sessions",
	}
	cmd.AddCommand(
		newSessionNewCmd(),
		newSessionShowCmd(),
		newSessionListCmd(),
		newSessionAppendCmd(),
	)
	return cmd
}

func newSessionNewCmd() *cobra.Command {
	var (
		title  string
		params models.Params
	)

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create an empty session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.svc.CreateSession(cmd.Context(), models.SessionCreate{
				Title:         title,
				Seed:          params.Seed,
				GuidanceScale: params.GuidanceScale,
				Steps:         params.Steps,
			})
			if err != nil {
				return err
			}
			return printJSON(sess.Response())
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "session title")
	addParamFlags(cmd, &params, models.DefaultParams())
	return cmd
}

func newSessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a session with all its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.svc.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(sess)
		},
	}
}

func newSessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.svc.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION ID\tTITLE\tCREATED\tITEMS")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", s.ID, s.Title, unixTime(s.CreatedAt), s.ItemCount)
			}
			return w.Flush()
		},
	}
}

func newSessionAppendCmd() *cobra.Command {
	var params models.Params

	cmd := &cobra.Command{
		Use:   "append <id> <edit>",
		Short: "Apply an edit to a session and generate the next asset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			req := models.AppendRequest{SessionID: args[0], Edit: args[1]}
			if cmd.Flags().Changed("seed") {
				req.Seed = &params.Seed
			}
			if cmd.Flags().Changed("guidance-scale") {
				req.GuidanceScale = &params.GuidanceScale
			}
			if cmd.Flags().Changed("steps") {
				req.Steps = &params.Steps
			}

			resp, err := a.svc.AppendToSession(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}

	addParamFlags(cmd, &params, models.DefaultParams())
	return cmd
}

func unixTime(sec float64) string {
	return time.Unix(0, int64(sec*1e9)).Format("2006-01-02T15:04:05")
}
