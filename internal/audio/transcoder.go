package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/book-expert/logger"
	"github.com/mattn/go-shellwords"
)

const tempFilePattern = "temp_enroll_*"

var (
	// ErrCommandEmpty indicates that no transcoder command was configured.
	ErrCommandEmpty = errors.New("transcoder command cannot be empty")
	// ErrEmptyOutput indicates that the transcoder produced no audio.
	ErrEmptyOutput = errors.New("transcoder produced an empty file")
)

// Transcoder converts recordings by running ffmpeg. Every conversion writes a
// new temporary file next to its input and leaves the input untouched.
type Transcoder struct {
	command []string
	log     *logger.Logger
}

// NewTranscoder parses commandLine (for example "ffmpeg -loglevel error")
// into the program and leading arguments used for every conversion.
func NewTranscoder(commandLine string, log *logger.Logger) (*Transcoder, error) {
	args, err := shellwords.Parse(commandLine)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transcoder command: %w", err)
	}

	if len(args) == 0 {
		return nil, ErrCommandEmpty
	}

	return &Transcoder{
		command: args,
		log:     log,
	}, nil
}

// ToEnrollmentFormat converts input to the enrollment profile.
func (t *Transcoder) ToEnrollmentFormat(ctx context.Context, input string) (string, error) {
	return t.Convert(ctx, input, EnrollmentProfile())
}

// ToTransportFormat converts input to the transport profile.
func (t *Transcoder) ToTransportFormat(ctx context.Context, input string) (string, error) {
	return t.Convert(ctx, input, TransportProfile())
}

// EnrollmentFormatOrOriginal converts input to the enrollment profile and
// falls back to input when conversion fails. converted reports whether the
// returned path is a new file the caller must remove.
func (t *Transcoder) EnrollmentFormatOrOriginal(ctx context.Context, input string) (string, bool) {
	return t.orOriginal(ctx, input, EnrollmentProfile())
}

// TransportFormatOrOriginal is EnrollmentFormatOrOriginal for the transport profile.
func (t *Transcoder) TransportFormatOrOriginal(ctx context.Context, input string) (string, bool) {
	return t.orOriginal(ctx, input, TransportProfile())
}

// Convert runs ffmpeg to produce a temporary file matching profile. On failure
// the partial output is removed.
func (t *Transcoder) Convert(ctx context.Context, input string, profile Profile) (string, error) {
	validateErr := profile.Validate()
	if validateErr != nil {
		return "", validateErr
	}

	_, statErr := os.Stat(input)
	if statErr != nil {
		return "", fmt.Errorf("failed to stat transcoder input '%s': %w", input, statErr)
	}

	outFile, err := os.CreateTemp(filepath.Dir(input), tempFilePattern+profile.Format.Extension())
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for transcoder output: %w", err)
	}

	output := outFile.Name()

	closeErr := outFile.Close()
	if closeErr != nil {
		t.remove(output)

		return "", fmt.Errorf("failed to close transcoder output '%s': %w", output, closeErr)
	}

	args := make([]string, 0, len(t.command)+len(profile.args())+5)
	args = append(args, t.command[1:]...)
	args = append(args, "-y", "-i", input)
	args = append(args, profile.args()...)
	args = append(args, output)

	// #nosec G204 -- the program comes from service configuration, the paths from CreateTemp
	cmd := exec.CommandContext(ctx, t.command[0], args...)

	combined, runErr := cmd.CombinedOutput()
	if runErr != nil {
		t.remove(output)

		return "", fmt.Errorf("transcoder execution failed: %w - output: %s", runErr, string(combined))
	}

	info, statErr := os.Stat(output)
	if statErr != nil || info.Size() == 0 {
		t.remove(output)

		return "", fmt.Errorf("%w: %s", ErrEmptyOutput, output)
	}

	return output, nil
}

func (t *Transcoder) orOriginal(ctx context.Context, input string, profile Profile) (string, bool) {
	output, err := t.Convert(ctx, input, profile)
	if err != nil {
		t.log.Warn("Transcoding '%s' to %s failed, using original: %v", input, profile.Format, err)

		return input, false
	}

	return output, true
}

func (t *Transcoder) remove(path string) {
	removeErr := os.Remove(path)
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		t.log.Warn("Failed to remove temp file '%s': %v", path, removeErr)
	}
}
