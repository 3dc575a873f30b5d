package tts

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/book-expert/logger"
)

// Event stream markers.
const (
	dataMarker   = "data:"
	doneSentinel = "[DONE]"
	statusFailed = "FAILED"
)

const (
	readBufferSize   = 32 * 1024
	maxLoggedLineLen = 120
)

// Frame is one JSON payload pushed by the speech service.
type Frame struct {
	Code      string       `json:"code"`
	Message   string       `json:"message"`
	RequestID string       `json:"request_id"`
	Output    *FrameOutput `json:"output"`
}

// FrameOutput holds the audio-bearing part of a frame.
type FrameOutput struct {
	TaskStatus   string      `json:"task_status"`
	Status       string      `json:"status"`
	Message      string      `json:"message"`
	FinishReason string      `json:"finish_reason"`
	Audio        *FrameAudio `json:"audio"`
	AudioBin     string      `json:"audio_bin"`
	AudioURL     string      `json:"audio_url"`
}

// FrameAudio is the nested audio object used by newer models.
type FrameAudio struct {
	Data string `json:"data"`
	URL  string `json:"url"`
}

// InlineAudio returns the base64 audio carried by the frame, if any.
func (f *Frame) InlineAudio() string {
	if f.Output == nil {
		return ""
	}

	if f.Output.Audio != nil && f.Output.Audio.Data != "" {
		return f.Output.Audio.Data
	}

	return f.Output.AudioBin
}

// FallbackURL returns the download URL carried by the frame, if any.
func (f *Frame) FallbackURL() string {
	if f.Output == nil {
		return ""
	}

	if f.Output.AudioURL != "" {
		return f.Output.AudioURL
	}

	if f.Output.Audio != nil {
		return f.Output.Audio.URL
	}

	return ""
}

// Failure returns a description of the error the frame reports, or "".
func (f *Frame) Failure() string {
	if f.Code != "" && f.Message != "" {
		return f.Code + ": " + f.Message
	}

	if f.Output != nil && (f.Output.TaskStatus == statusFailed || f.Output.Status == statusFailed) {
		if f.Output.Message != "" {
			return f.Output.Message
		}

		return "task failed"
	}

	return ""
}

// LineSplitter reassembles newline-delimited lines from arbitrarily chunked
// input. A trailing partial line is held until the chunk that completes it.
type LineSplitter struct {
	pending []byte
}

// Feed appends chunk and returns every line it completed, without newlines.
func (s *LineSplitter) Feed(chunk []byte) []string {
	s.pending = append(s.pending, chunk...)

	var lines []string

	for {
		idx := bytes.IndexByte(s.pending, '\n')
		if idx < 0 {
			break
		}

		lines = append(lines, string(s.pending[:idx]))
		s.pending = s.pending[idx+1:]
	}

	if len(s.pending) == 0 {
		s.pending = nil
	} else if len(lines) > 0 {
		s.pending = append([]byte(nil), s.pending...)
	}

	return lines
}

// Flush returns the unterminated remainder and resets the splitter.
func (s *LineSplitter) Flush() string {
	rest := string(s.pending)
	s.pending = nil

	return rest
}

// StreamResult is what a consumed event stream yielded.
type StreamResult struct {
	Audio       []byte
	FallbackURL string
	Frames      int
	Malformed   int
}

// ReadStream consumes an event stream to the end, decoding inline audio in
// arrival order and remembering the latest fallback URL. Malformed frames and
// frames reporting errors are logged and skipped. A read error aborts the
// stream and is returned together with what was collected so far.
func ReadStream(body io.Reader, log *logger.Logger) (StreamResult, error) {
	assembler := &streamAssembler{log: log}
	splitter := &LineSplitter{}
	buf := make([]byte, readBufferSize)

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, line := range splitter.Feed(buf[:n]) {
				assembler.handleLine(line)
			}
		}

		if errors.Is(readErr, io.EOF) {
			break
		}

		if readErr != nil {
			return assembler.result(), fmt.Errorf(
				"event stream interrupted after %d audio bytes: %w",
				assembler.audio.Len(),
				readErr,
			)
		}
	}

	rest := splitter.Flush()
	if strings.TrimSpace(rest) != "" {
		assembler.handleLine(rest)
	}

	return assembler.result(), nil
}

type streamAssembler struct {
	audio       bytes.Buffer
	fallbackURL string
	frames      int
	malformed   int
	log         *logger.Logger
}

func (a *streamAssembler) result() StreamResult {
	return StreamResult{
		Audio:       a.audio.Bytes(),
		FallbackURL: a.fallbackURL,
		Frames:      a.frames,
		Malformed:   a.malformed,
	}
}

func (a *streamAssembler) handleLine(line string) {
	trimmed := strings.TrimSpace(line)

	idx := strings.Index(trimmed, dataMarker)
	if idx < 0 {
		return
	}

	payload := strings.TrimSpace(trimmed[idx+len(dataMarker):])
	if payload == "" || payload == doneSentinel {
		return
	}

	var frame Frame

	err := json.Unmarshal([]byte(payload), &frame)
	if err != nil {
		a.malformed++
		a.log.Warn("Skipping malformed stream frame: %v. Line: %s", err, truncate(trimmed))

		return
	}

	a.frames++

	failure := frame.Failure()
	if failure != "" {
		a.log.Warn("Speech stream reported an error (request %s): %s", frame.RequestID, failure)
	}

	inline := frame.InlineAudio()
	if inline != "" {
		decoded, decodeErr := decodeAudio(inline)
		if decodeErr != nil {
			a.malformed++
			a.log.Warn("Skipping undecodable audio in frame %d: %v", a.frames, decodeErr)
		} else {
			a.audio.Write(decoded)
		}
	}

	fallback := frame.FallbackURL()
	if fallback != "" {
		a.fallbackURL = fallback
	}
}

// decodeAudio strips an embedded data URI prefix and decodes base64.
func decodeAudio(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)

	if strings.HasPrefix(encoded, "data:") {
		comma := strings.IndexByte(encoded, ',')
		if comma < 0 {
			return nil, fmt.Errorf("data uri without payload: %s", truncate(encoded))
		}

		encoded = encoded[comma+1:]
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err == nil {
		return decoded, nil
	}

	decoded, rawErr := base64.RawStdEncoding.DecodeString(encoded)
	if rawErr == nil {
		return decoded, nil
	}

	return nil, fmt.Errorf("failed to decode base64 audio: %w", err)
}

func truncate(line string) string {
	if len(line) <= maxLoggedLineLen {
		return line
	}

	return line[:maxLoggedLineLen] + "..."
}
