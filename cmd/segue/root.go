package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/onairlab/segue/engine"
	"github.com/onairlab/segue/observability"
	"github.com/onairlab/segue/pipeline"
	"github.com/onairlab/segue/schedule"
	"github.com/onairlab/segue/store"
	bunstore "github.com/onairlab/segue/store/bun"
	"github.com/onairlab/segue/store/memory"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "segue",
		Short:         "Durable job queue and segment pipeline for automated radio",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newWorkerCmd(),
		newMigrateCmd(),
		newEnqueueCmd(),
		newJobsCmd(),
		newDLQCmd(),
		newSegmentsCmd(),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// openStore opens the Postgres store from DATABASE_URL, or the in-memory
// store when allowMemory is set and no DSN is configured.
func openStore(allowMemory bool) (store.Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		if allowMemory {
			return memory.New(), nil
		}
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	return bunstore.Open(dsn, bunstore.WithLogger(observability.NewLogger()))
}

// engineOptions assembles engine options from the environment. Pipeline
// stages register only when SEGUE_RETRIEVAL_URL is set.
func engineOptions(st store.Store) engine.Options {
	return engine.Options{
		Store:        st,
		Logger:       observability.NewLogger(),
		RetrievalURL: os.Getenv("SEGUE_RETRIEVAL_URL"),
		ScriptURL:    os.Getenv("SEGUE_SCRIPT_URL"),
		SpeechURL:    os.Getenv("SEGUE_SPEECH_URL"),
		LoudnessURL:  os.Getenv("SEGUE_LOUDNESS_URL"),
		AudioDir:     os.Getenv("SEGUE_AUDIO_DIR"),
		AMQPURL:      os.Getenv("SEGUE_AMQP_URL"),
		MetricsAddr:  os.Getenv("SEGUE_METRICS_ADDR"),
		Pipeline: pipeline.Config{
			VoiceModel: os.Getenv("SEGUE_VOICE_MODEL"),
		},
	}
}

// slotFile is the JSON shape of a programme file entry. Lead is a Go
// duration string, e.g. "10m".
type slotFile struct {
	Name       string `json:"name"`
	Show       string `json:"show"`
	Title      string `json:"title"`
	Spec       string `json:"spec"`
	Lead       string `json:"lead"`
	MaxRetries int    `json:"max_retries"`
}

func loadProgramme(path string) ([]schedule.Slot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read programme file: %w", err)
	}

	var entries []slotFile
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse programme file: %w", err)
	}

	slots := make([]schedule.Slot, 0, len(entries))
	for _, e := range entries {
		var lead time.Duration
		if e.Lead != "" {
			lead, err = time.ParseDuration(e.Lead)
			if err != nil {
				return nil, fmt.Errorf("slot %q: bad lead %q: %w", e.Name, e.Lead, err)
			}
		}
		slots = append(slots, schedule.Slot{
			Name:       e.Name,
			Show:       e.Show,
			Title:      e.Title,
			Spec:       e.Spec,
			Lead:       lead,
			MaxRetries: e.MaxRetries,
		})
	}
	return slots, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
