// Package audio_test tests the ffmpeg-backed transcoder.
package audio_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	copyingScript = `#!/bin/sh
for last; do :; done
echo "$@" > "$last.args"
cp "$3" "$last"
`
	failingScript = `#!/bin/sh
echo "Invalid data found when processing input" >&2
exit 3
`
	silentScript = `#!/bin/sh
exit 0
`
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "transcoder-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	return testLogger
}

// writeScript installs a fake ffmpeg and a source recording in a temp dir.
func writeScript(t *testing.T, body string) (string, string) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "fake-ffmpeg.sh")
	require.NoError(t, os.WriteFile(script, []byte(body), 0o700))

	input := filepath.Join(dir, "sample.m4a")
	require.NoError(t, os.WriteFile(input, []byte("source-audio"), 0o600))

	return script, input
}

func tempOutputs(t *testing.T, dir string) []string {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join(dir, "temp_enroll_*"))
	require.NoError(t, err)

	var outputs []string

	for _, match := range matches {
		if !strings.HasSuffix(match, ".args") {
			outputs = append(outputs, match)
		}
	}

	return outputs
}

func TestNewTranscoder_EmptyCommand(t *testing.T) {
	t.Parallel()

	_, err := audio.NewTranscoder("   ", newTestLogger(t))
	require.ErrorIs(t, err, audio.ErrCommandEmpty)
}

func TestToEnrollmentFormat(t *testing.T) {
	t.Parallel()

	script, input := writeScript(t, copyingScript)

	transcoder, err := audio.NewTranscoder(script, newTestLogger(t))
	require.NoError(t, err)

	output, err := transcoder.ToEnrollmentFormat(context.Background(), input)
	require.NoError(t, err)

	assert.NotEqual(t, input, output)
	assert.Equal(t, filepath.Dir(input), filepath.Dir(output))
	assert.True(t, strings.HasSuffix(output, ".wav"))

	args, err := os.ReadFile(output + ".args")
	require.NoError(t, err)
	assert.Contains(t, string(args), "-ar 48000")
	assert.Contains(t, string(args), "-ac 1")
	assert.Contains(t, string(args), "-f wav")

	original, err := os.ReadFile(input)
	require.NoError(t, err)
	assert.Equal(t, "source-audio", string(original))
}

func TestToTransportFormat_UniqueNames(t *testing.T) {
	t.Parallel()

	script, input := writeScript(t, copyingScript)

	transcoder, err := audio.NewTranscoder(script, newTestLogger(t))
	require.NoError(t, err)

	first, err := transcoder.ToTransportFormat(context.Background(), input)
	require.NoError(t, err)

	second, err := transcoder.ToTransportFormat(context.Background(), input)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, strings.HasSuffix(first, ".mp3"))

	args, err := os.ReadFile(first + ".args")
	require.NoError(t, err)
	assert.Contains(t, string(args), "-b:a 64k")
}

func TestConvert_FailureRemovesPartialOutput(t *testing.T) {
	t.Parallel()

	script, input := writeScript(t, failingScript)

	transcoder, err := audio.NewTranscoder(script, newTestLogger(t))
	require.NoError(t, err)

	_, err = transcoder.ToEnrollmentFormat(context.Background(), input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data found")
	assert.Empty(t, tempOutputs(t, filepath.Dir(input)))
}

func TestConvert_EmptyOutput(t *testing.T) {
	t.Parallel()

	script, input := writeScript(t, silentScript)

	transcoder, err := audio.NewTranscoder(script, newTestLogger(t))
	require.NoError(t, err)

	_, err = transcoder.ToEnrollmentFormat(context.Background(), input)
	require.ErrorIs(t, err, audio.ErrEmptyOutput)
	assert.Empty(t, tempOutputs(t, filepath.Dir(input)))
}

func TestEnrollmentFormatOrOriginal_SoftDegrades(t *testing.T) {
	t.Parallel()

	script, input := writeScript(t, failingScript)

	transcoder, err := audio.NewTranscoder(script, newTestLogger(t))
	require.NoError(t, err)

	output, converted := transcoder.EnrollmentFormatOrOriginal(context.Background(), input)

	assert.Equal(t, input, output)
	assert.False(t, converted)
}

func TestTransportFormatOrOriginal_MissingBinary(t *testing.T) {
	t.Parallel()

	_, input := writeScript(t, silentScript)

	transcoder, err := audio.NewTranscoder(filepath.Join(t.TempDir(), "no-such-ffmpeg"), newTestLogger(t))
	require.NoError(t, err)

	output, converted := transcoder.TransportFormatOrOriginal(context.Background(), input)

	assert.Equal(t, input, output)
	assert.False(t, converted)
}

func TestProfileValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, audio.EnrollmentProfile().Validate())
	require.NoError(t, audio.TransportProfile().Validate())

	tooFast := audio.EnrollmentProfile()
	tooFast.SampleRate = audio.MaxSampleRate + 1
	require.ErrorIs(t, tooFast.Validate(), audio.ErrInvalidProfile)

	tooWide := audio.EnrollmentProfile()
	tooWide.Channels = audio.MaxChannels + 1
	require.ErrorIs(t, tooWide.Validate(), audio.ErrInvalidProfile)

	require.ErrorIs(t, audio.Profile{}.Validate(), audio.ErrInvalidProfile)
}
