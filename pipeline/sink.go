package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// AudioSink stores rendered audio and returns a stable reference the
// loudness stage and playout can resolve.
type AudioSink interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// DirSink stores audio as WAV files under a directory. The returned
// reference is the absolute file path.
type DirSink struct {
	Dir string
}

// NewDirSink creates a directory-backed audio sink, creating the
// directory if needed.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: create audio dir: %w", err)
	}
	return &DirSink{Dir: dir}, nil
}

// Put writes the audio bytes to <dir>/<name>.wav.
func (s *DirSink) Put(_ context.Context, name string, data []byte) (string, error) {
	path := filepath.Join(s.Dir, name+".wav")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("pipeline: write audio: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}
