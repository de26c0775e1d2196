// Package audio provides PCM format descriptions and WAV framing for the raw
// speech returned by the synthesis provider.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Constants for the provider's default PCM output.
const (
	DEFAULT_SAMPLE_RATE = 24000 // Gemini speech output rate.
	DEFAULT_BIT_DEPTH   = 16    // LINEAR16.
	DEFAULT_CHANNELS    = 1     // Mono.
)

// Constants for supported bit depths.
const (
	BIT_DEPTH_8  = 8
	BIT_DEPTH_16 = 16
	BIT_DEPTH_24 = 24
	BIT_DEPTH_32 = 32
)

// Constants for format validation limits.
const (
	MAX_SAMPLE_RATE = 192000
	MAX_CHANNELS    = 8
)

// WAV header layout.
const (
	WAV_HEADER_SIZE   = 44
	WAV_FMT_CHUNK_LEN = 16
	WAV_FORMAT_PCM    = 1
	// MAX_PCM_SIZE keeps the RIFF chunk size within 32 bits.
	MAX_PCM_SIZE = math.MaxUint32 - WAV_HEADER_SIZE
)

// Constants for error messages and formats.
const (
	ERR_FMT_SAMPLE_RATE_RANGE = "%w: sample rate must be between 1 and %d Hz"
	ERR_FMT_BIT_DEPTH_VALUES  = "%w: bit depth must be 8, 16, 24, or 32"
	ERR_FMT_CHANNELS_RANGE    = "%w: channels must be between 1 and %d"
	ERR_FMT_MIME_PARAM        = "%w: parameter %q in %q"
	ERR_FMT_PCM_TOO_LARGE     = "%w: %d bytes exceeds the WAV limit of %d"
)

// Common errors for the audio package.
var (
	ErrInvalidFormat   = errors.New("invalid PCM format")
	ErrEmptyPCM        = errors.New("pcm data cannot be empty")
	ErrUnsupportedMime = errors.New("unsupported audio mime type")
	ErrPCMTooLarge     = errors.New("pcm data too large for WAV")
)

// Format describes interleaved little-endian PCM samples.
type Format struct {
	SampleRate int `json:"sampleRate"`
	BitDepth   int `json:"bitDepth"`
	Channels   int `json:"channels"`
}

// NewDefaultFormat returns 24 kHz mono 16-bit PCM.
func NewDefaultFormat() Format {
	return Format{
		SampleRate: DEFAULT_SAMPLE_RATE,
		BitDepth:   DEFAULT_BIT_DEPTH,
		Channels:   DEFAULT_CHANNELS,
	}
}

// Validate checks that the format can be framed as WAV.
func (f Format) Validate() error {
	sampleRateErr := validateSampleRate(f.SampleRate)
	if sampleRateErr != nil {
		return sampleRateErr
	}

	bitDepthErr := validateBitDepth(f.BitDepth)
	if bitDepthErr != nil {
		return bitDepthErr
	}

	channelsErr := validateChannels(f.Channels)
	if channelsErr != nil {
		return channelsErr
	}

	return nil
}

// BlockAlign is the byte size of one frame across all channels.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitDepth / 8
}

// ByteRate is the number of bytes per second of audio.
func (f Format) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// Duration returns the playing time of n bytes of PCM.
func (f Format) Duration(n int) time.Duration {
	rate := f.ByteRate()
	if rate == 0 {
		return 0
	}

	return time.Duration(n) * time.Second / time.Duration(rate)
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

func checkPCMSize(size int) error {
	if size == 0 {
		return ErrEmptyPCM
	}

	if uint64(size) > MAX_PCM_SIZE {
		return fmt.Errorf(ERR_FMT_PCM_TOO_LARGE, ErrPCMTooLarge, size, uint64(MAX_PCM_SIZE))
	}

	return nil
}

// WrapPCM prefixes pcm with a canonical 44-byte WAV header.
func WrapPCM(pcm []byte, format Format) ([]byte, error) {
	err := checkPCMSize(len(pcm))
	if err != nil {
		return nil, err
	}

	err = format.Validate()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(WAV_HEADER_SIZE + len(pcm))

	dataLen := uint32(len(pcm))

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(WAV_HEADER_SIZE-8)+dataLen)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(WAV_FMT_CHUNK_LEN))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(WAV_FORMAT_PCM))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(format.Channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(format.SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(format.ByteRate()))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(format.BlockAlign()))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(format.BitDepth))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// FormatFromMime reads a PCM format from a mime type such as
// "audio/L16;codec=pcm;rate=24000". Missing parameters take the defaults.
func FormatFromMime(mimeType string) (Format, error) {
	format := NewDefaultFormat()
	parts := strings.Split(mimeType, ";")
	base := strings.ToLower(strings.TrimSpace(parts[0]))

	switch base {
	case "audio/l16", "audio/pcm", "audio/raw":
	case "audio/l8":
		format.BitDepth = BIT_DEPTH_8
	default:
		return Format{}, fmt.Errorf("%w: %q", ErrUnsupportedMime, mimeType)
	}

	for _, param := range parts[1:] {
		name, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok {
			continue
		}

		switch strings.ToLower(name) {
		case "rate":
			rate, err := strconv.Atoi(value)
			if err != nil {
				return Format{}, fmt.Errorf(ERR_FMT_MIME_PARAM, ErrInvalidFormat, name, mimeType)
			}

			format.SampleRate = rate
		case "channels":
			channels, err := strconv.Atoi(value)
			if err != nil {
				return Format{}, fmt.Errorf(ERR_FMT_MIME_PARAM, ErrInvalidFormat, name, mimeType)
			}

			format.Channels = channels
		}
	}

	return format, format.Validate()
}

//
// Validation Helpers
//

func validateSampleRate(sampleRate int) error {
	if sampleRate <= 0 || sampleRate > MAX_SAMPLE_RATE {
		return fmt.Errorf(ERR_FMT_SAMPLE_RATE_RANGE, ErrInvalidFormat, MAX_SAMPLE_RATE)
	}

	return nil
}

func validateBitDepth(bitDepth int) error {
	switch bitDepth {
	case BIT_DEPTH_8, BIT_DEPTH_16, BIT_DEPTH_24, BIT_DEPTH_32:
		return nil
	default:
		return fmt.Errorf(ERR_FMT_BIT_DEPTH_VALUES, ErrInvalidFormat)
	}
}

func validateChannels(channels int) error {
	if channels <= 0 || channels > MAX_CHANNELS {
		return fmt.Errorf(ERR_FMT_CHANNELS_RANGE, ErrInvalidFormat, MAX_CHANNELS)
	}

	return nil
}
