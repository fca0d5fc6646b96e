package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/onairlab/segue/dlq"
	"github.com/onairlab/segue/engine"
	"github.com/onairlab/segue/id"
)

func newDLQCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Manage the dead letter archive",
	}
	cmd.AddCommand(newDLQListCmd(), newDLQReplayCmd(), newDLQPurgeCmd())
	return cmd
}

func newDLQListCmd() *cobra.Command {
	var (
		jobType string
		limit   int
		offset  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letter entries, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(false)
			if err != nil {
				return err
			}
			defer st.Close()

			entries, err := st.ListDLQ(cmd.Context(), dlq.ListOpts{
				JobType: jobType,
				Limit:   limit,
				Offset:  offset,
			})
			if err != nil {
				return err
			}
			return printJSON(entries)
		},
	}

	cmd.Flags().StringVar(&jobType, "type", "", "filter by job type")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func newDLQReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <entry-id>",
		Short: "Re-enqueue a dead letter entry as a fresh job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entryID, err := id.ParseDLQID(args[0])
			if err != nil {
				return err
			}

			st, err := openStore(false)
			if err != nil {
				return err
			}

			eng, err := engine.Build(engineOptions(st))
			if err != nil {
				return err
			}
			defer eng.Stop(cmd.Context())

			j, err := eng.ReplayDLQ(cmd.Context(), entryID)
			if err != nil {
				return err
			}
			return printJSON(j)
		},
	}
}

func newDLQPurgeCmd() *cobra.Command {
	var before string

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete entries that failed before a given time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cutoff, err := time.Parse(time.RFC3339, before)
			if err != nil {
				return fmt.Errorf("bad --before: %w", err)
			}

			st, err := openStore(false)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.PurgeDLQ(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			fmt.Printf("purged %d entries\n", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&before, "before", "", "RFC3339 cutoff; entries that failed earlier are removed")
	_ = cmd.MarkFlagRequired("before")
	return cmd
}
