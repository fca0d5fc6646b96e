package main

import (
	"github.com/spf13/cobra"

	"github.com/onairlab/segue/engine"
	"github.com/onairlab/segue/id"
	"github.com/onairlab/segue/segment"
)

func newSegmentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "segments",
		Short: "Inspect and operate on pipeline segments",
	}
	cmd.AddCommand(
		newSegmentsListCmd(),
		newSegmentsGetCmd(),
		newSegmentsRetryCmd(),
		newSegmentsTransitionCmd("air", "Mark a ready segment as airing", segment.StateReady, segment.StateAiring),
		newSegmentsTransitionCmd("aired", "Mark an airing segment as aired", segment.StateAiring, segment.StateAired),
		newSegmentsTransitionCmd("archive", "Archive an aired segment", segment.StateAired, segment.StateArchived),
	)
	return cmd
}

func newSegmentsListCmd() *cobra.Command {
	var (
		state  string
		show   string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List segments by state, earliest slot first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(false)
			if err != nil {
				return err
			}
			defer st.Close()

			segments, err := st.ListSegmentsByState(cmd.Context(), segment.State(state), segment.ListOpts{
				Show:   show,
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				return err
			}
			return printJSON(segments)
		},
	}

	cmd.Flags().StringVar(&state, "state", "ready", "segment state")
	cmd.Flags().StringVar(&show, "show", "", "filter by show")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func newSegmentsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <segment-id>",
		Short: "Show a segment with its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			segID, err := id.ParseSegmentID(args[0])
			if err != nil {
				return err
			}

			st, err := openStore(false)
			if err != nil {
				return err
			}
			defer st.Close()

			seg, err := st.GetSegment(cmd.Context(), segID)
			if err != nil {
				return err
			}
			return printJSON(seg)
		},
	}
}

func newSegmentsRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <segment-id>",
		Short: "Send a failed segment back through the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			segID, err := id.ParseSegmentID(args[0])
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

			return eng.RetrySegment(cmd.Context(), segID)
		},
	}
}

func newSegmentsTransitionCmd(use, short string, from, to segment.State) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <segment-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			segID, err := id.ParseSegmentID(args[0])
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

			return eng.Machine().Transition(cmd.Context(), segID, from, to)
		},
	}
}
