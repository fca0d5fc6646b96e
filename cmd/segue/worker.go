package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/onairlab/segue"
	"github.com/onairlab/segue/engine"
)

func newWorkerCmd() *cobra.Command {
	var (
		concurrency int
		memoryStore bool
		programme   string
		jobTypes    []string
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a station node: worker pool, reaper and programmer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(memoryStore)
			if err != nil {
				return err
			}

			opts := engineOptions(st)
			opts.Config = segue.Config{
				Concurrency: concurrency,
				JobTypes:    jobTypes,
			}
			if programme != "" {
				opts.Slots, err = loadProgramme(programme)
				if err != nil {
					return err
				}
			}

			eng, err := engine.Build(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := eng.Migrate(ctx); err != nil {
				return err
			}

			eng.Station().Logger().Info("station starting",
				"concurrency", concurrency,
				"programme", programme,
			)
			return eng.Run(ctx)
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "maximum concurrent jobs")
	cmd.Flags().BoolVar(&memoryStore, "memory", false, "use the in-memory store (development only)")
	cmd.Flags().StringVar(&programme, "programme", "", "path to a JSON programme file of broadcast slots")
	cmd.Flags().StringSliceVar(&jobTypes, "job-types", nil, "restrict claimed job types (default: all)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply store schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(false)
			if err != nil {
				return err
			}
			defer st.Close()

			return st.Migrate(cmd.Context())
		},
	}
}
