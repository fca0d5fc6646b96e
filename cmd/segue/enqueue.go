package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/onairlab/segue/engine"
	"github.com/onairlab/segue/job"
)

func newEnqueueCmd() *cobra.Command {
	var (
		priority  int
		runAt     string
		segmentID string
	)

	cmd := &cobra.Command{
		Use:   "enqueue <job-type> <payload-json>",
		Short: "Validate and enqueue a job",
		Long: `Validate a JSON payload against the job type's registered schema and
enqueue it. Stage job types are registered when the pipeline endpoints
are configured in the environment.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(false)
			if err != nil {
				return err
			}

			eng, err := engine.Build(engineOptions(st))
			if err != nil {
				return err
			}
			defer eng.Stop(cmd.Context())

			var opts []job.Option
			if priority != 0 {
				opts = append(opts, job.WithPriority(priority))
			}
			if segmentID != "" {
				opts = append(opts, job.WithSegment(segmentID))
			}
			if runAt != "" {
				at, parseErr := time.Parse(time.RFC3339, runAt)
				if parseErr != nil {
					return parseErr
				}
				opts = append(opts, job.WithRunAt(at))
			}

			j, err := eng.EnqueueRaw(cmd.Context(), args[0], []byte(args[1]), opts...)
			if err != nil {
				return err
			}
			return printJSON(j)
		},
	}

	cmd.Flags().IntVar(&priority, "priority", 0, "claim priority (higher first)")
	cmd.Flags().StringVar(&runAt, "run-at", "", "RFC3339 time to delay execution until")
	cmd.Flags().StringVar(&segmentID, "segment", "", "segment ID to associate the job with")
	return cmd
}
