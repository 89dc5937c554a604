package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/meshbridge/pkg/models"
	"github.com/pario-ai/meshbridge/pkg/tracker"
)

func newStatsCmd() *cobra.Command {
	var (
		since     time.Duration
		recent    int
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show generation ledger statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.LedgerDBPath())
			if err != nil {
				return err
			}
			defer tr.Close()

			ctx := cmd.Context()

			if sessionID != "" || recent > 0 {
				var recs []models.GenerationRecord
				if sessionID != "" {
					recs, err = tr.BySession(ctx, sessionID)
				} else {
					recs, err = tr.Recent(ctx, recent)
				}
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Println("No generations found.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tSOURCE\tSEED\tSTEPS\tDURATION\tURL")
				for _, r := range recs {
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%dms\t%s\n",
						r.CreatedAt.Format("2006-01-02T15:04:05"), r.Source, r.Seed, r.Steps, r.DurationMs, r.URL)
				}
				return w.Flush()
			}

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			summaries, err := tr.Summary(ctx, from)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No generation data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SOURCE\tCOUNT\tDISTINCT KEYS\tTOTAL DURATION")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n",
					s.Source, s.Count, s.DistinctKeys, time.Duration(s.TotalDuration)*time.Millisecond)
			}
			return w.Flush()
		},
	}

	cmd.Flags().DurationVar(&since, "since", 0, "only count generations newer than this (e.g. 24h)")
	cmd.Flags().IntVar(&recent, "recent", 0, "list the N most recent generations")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "list generations for one design session")
	return cmd
}
