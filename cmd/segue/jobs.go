package main

import (
	"github.com/spf13/cobra"

	"github.com/onairlab/segue/id"
	"github.com/onairlab/segue/job"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect jobs",
	}
	cmd.AddCommand(newJobsListCmd(), newJobsGetCmd())
	return cmd
}

func newJobsListCmd() *cobra.Command {
	var (
		state   string
		jobType string
		limit   int
		offset  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs by state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(false)
			if err != nil {
				return err
			}
			defer st.Close()

			jobs, err := st.ListJobsByState(cmd.Context(), job.State(state), job.ListOpts{
				Type:   jobType,
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				return err
			}
			return printJSON(jobs)
		},
	}

	cmd.Flags().StringVar(&state, "state", "pending", "job state: pending, processing, completed, failed")
	cmd.Flags().StringVar(&jobType, "type", "", "filter by job type")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func newJobsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show a job with its attempt history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return err
			}

			st, err := openStore(false)
			if err != nil {
				return err
			}
			defer st.Close()

			j, err := st.GetJob(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			return printJSON(j)
		},
	}
}
