package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/core"
	"golang.org/x/sync/errgroup"
)

const (
	filePermissions = 0o600
	dirPermissions  = 0o750

	outputFileFormat = "chunk_%04d%s"
	defaultWorkers   = 1
)

const (
	errFmtChunkFailed           = "chunk %d failed: %w"
	logFmtChunkProcessingFailed = "Failed to process chunk %d: %v"
	logFmtChunkProcessed        = "Processed chunk %d/%d (%d bytes)"
)

var (
	// ErrChunksPathEmpty is returned when no chunks file is given.
	ErrChunksPathEmpty = errors.New("chunks path cannot be empty")
	// ErrOutputDirEmpty is returned when no output directory is given.
	ErrOutputDirEmpty = errors.New("output directory cannot be empty")
	// ErrNoChunksFound is returned for an empty chunks file.
	ErrNoChunksFound = errors.New("no chunks found")
)

// Batch synthesizes a list of text chunks concurrently and writes one audio
// file per chunk, named in input order.
type Batch struct {
	synth   core.Synthesizer
	workers int
	log     *logger.Logger
}

// NewBatch creates a batch runner that keeps at most workers requests in flight.
func NewBatch(synth core.Synthesizer, workers int, log *logger.Logger) *Batch {
	if workers < defaultWorkers {
		workers = defaultWorkers
	}

	return &Batch{synth: synth, workers: workers, log: log}
}

// ReadChunks loads a JSON array of strings.
func ReadChunks(chunksPath string) ([]string, error) {
	if chunksPath == "" {
		return nil, ErrChunksPathEmpty
	}

	data, err := os.ReadFile(chunksPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var chunks []string

	err = json.Unmarshal(data, &chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chunks JSON: %w", err)
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoChunksFound, chunksPath)
	}

	return chunks, nil
}

// Run synthesizes every chunk with the voice and tuning of template and
// returns the written paths in chunk order. A failed chunk does not stop the
// others; its path is left empty and the first failure is returned.
func (b *Batch) Run(ctx context.Context, chunks []string, outputDir string, template core.SynthesisRequest) ([]string, error) {
	if outputDir == "" {
		return nil, ErrOutputDirEmpty
	}

	if len(chunks) == 0 {
		return nil, ErrNoChunksFound
	}

	dirErr := os.MkdirAll(outputDir, dirPermissions)
	if dirErr != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", dirErr)
	}

	var group errgroup.Group

	group.SetLimit(b.workers)

	paths := make([]string, len(chunks))

	for chunkIndex, chunk := range chunks {
		group.Go(func() error {
			outputPath := filepath.Join(
				outputDir,
				fmt.Sprintf(outputFileFormat, chunkIndex+1, template.Format.Extension()),
			)

			size, err := b.runChunk(ctx, chunk, outputPath, template)
			if err != nil {
				b.log.Error(logFmtChunkProcessingFailed, chunkIndex+1, err)

				return fmt.Errorf(errFmtChunkFailed, chunkIndex+1, err)
			}

			paths[chunkIndex] = outputPath

			b.log.Info(logFmtChunkProcessed, chunkIndex+1, len(chunks), size)

			return nil
		})
	}

	err := group.Wait()

	return paths, err
}

func (b *Batch) runChunk(ctx context.Context, text, outputPath string, template core.SynthesisRequest) (int, error) {
	req := template
	req.Text = text

	audioData, err := b.synth.Synthesize(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("failed to generate speech: %w", err)
	}

	writeErr := os.WriteFile(outputPath, audioData, filePermissions)
	if writeErr != nil {
		return 0, fmt.Errorf("failed to write audio file: %w", writeErr)
	}

	return len(audioData), nil
}
