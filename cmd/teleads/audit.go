package main

import (
	"errors"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"teleads/internal/app"
	"teleads/internal/storage"
)

func newAuditCmd(opts *rootOpts) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the most recent forwarding jobs from storage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			t, err := cfg.Timings()
			if err != nil {
				return err
			}
			st, err := storage.Open(app.StorageConfig(cfg, t), consoleLog())
			if err != nil {
				return err
			}
			if st == nil {
				return errors.New("storage is disabled in the config")
			}
			defer st.Close()

			entries, err := st.ListAudit(cmd.Context(), limit)
			if err != nil {
				return err
			}
			table := plainTable(cmd, "At", "Event", "Job", "Targets", "Sent", "Failed", "Skipped", "Took", "Error")
			for _, e := range entries {
				table.Append([]string{
					e.At.Local().Format(time.DateTime),
					e.Kind,
					e.JobID,
					strconv.Itoa(e.Targets),
					strconv.Itoa(e.Sent),
					strconv.Itoa(e.Failed),
					strconv.Itoa(e.Skipped),
					(time.Duration(e.TookMS) * time.Millisecond).String(),
					e.Error,
				})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	return cmd
}
