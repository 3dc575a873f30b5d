// Package audio provides the audio profiles and the ffmpeg-backed transcoder
// used to prepare recordings for the speech service.
package audio

import (
	"errors"
	"fmt"
	"strconv"
)

// Sample rate and channel limits accepted by Validate.
const (
	EnrollmentSampleRate = 48000
	TransportBitrate     = "64k"

	MaxSampleRate = 192000
	MaxChannels   = 8
)

// Error message formats.
const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d"
	errFmtFormatMissing   = "%w: format is required"
)

// ErrInvalidProfile indicates an unusable conversion profile.
var ErrInvalidProfile = errors.New("invalid audio profile")

// Format represents supported audio container formats.
type Format string

const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
)

// Extension returns the file extension including the leading dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// Profile describes the output of a conversion. Zero SampleRate or Channels
// keep whatever the source has.
type Profile struct {
	Format     Format
	Codec      string
	Bitrate    string
	SampleRate int
	Channels   int
}

// EnrollmentProfile is single-channel 48 kHz PCM wave; the enrollment
// backend rejects or degrades on sample-rate mismatches.
func EnrollmentProfile() Profile {
	return Profile{
		Format:     FormatWAV,
		Codec:      "pcm_s16le",
		Bitrate:    "",
		SampleRate: EnrollmentSampleRate,
		Channels:   1,
	}
}

// TransportProfile is compact MP3 suitable for shipping voice samples around.
func TransportProfile() Profile {
	return Profile{
		Format:     FormatMP3,
		Codec:      "libmp3lame",
		Bitrate:    TransportBitrate,
		SampleRate: 0,
		Channels:   0,
	}
}

// Validate checks that the profile can be handed to ffmpeg.
func (p Profile) Validate() error {
	if p.Format == "" {
		return fmt.Errorf(errFmtFormatMissing, ErrInvalidProfile)
	}

	if p.SampleRate < 0 || p.SampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidProfile, MaxSampleRate)
	}

	if p.Channels < 0 || p.Channels > MaxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidProfile, MaxChannels)
	}

	return nil
}

// args renders the output options for ffmpeg.
func (p Profile) args() []string {
	var args []string

	if p.Codec != "" {
		args = append(args, "-acodec", p.Codec)
	}

	if p.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(p.SampleRate))
	}

	if p.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(p.Channels))
	}

	if p.Bitrate != "" {
		args = append(args, "-b:a", p.Bitrate)
	}

	return append(args, "-f", string(p.Format))
}
