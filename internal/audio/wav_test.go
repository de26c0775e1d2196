package audio_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/suomi-tutor/internal/audio"
)

func TestWrapPCM_Header(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 48000)
	wav, err := audio.WrapPCM(pcm, audio.NewDefaultFormat())
	require.NoError(t, err)

	require.Len(t, wav, audio.WAV_HEADER_SIZE+len(pcm))
	assert.True(t, audio.IsWAV(wav))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, uint32(36+len(pcm)), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "fmt ", string(wav[12:16]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[20:22]), "PCM format tag")
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:24]), "channels")
	assert.Equal(t, uint32(24000), binary.LittleEndian.Uint32(wav[24:28]), "sample rate")
	assert.Equal(t, uint32(48000), binary.LittleEndian.Uint32(wav[28:32]), "byte rate")
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(wav[32:34]), "block align")
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(wav[34:36]), "bit depth")
	assert.Equal(t, "data", string(wav[36:40]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))
}

func TestWrapPCM_Rejects(t *testing.T) {
	t.Parallel()

	_, err := audio.WrapPCM(nil, audio.NewDefaultFormat())
	require.ErrorIs(t, err, audio.ErrEmptyPCM)

	_, err = audio.WrapPCM([]byte{1, 2}, audio.Format{SampleRate: 24000, BitDepth: 12, Channels: 1})
	require.ErrorIs(t, err, audio.ErrInvalidFormat)

	_, err = audio.WrapPCM([]byte{1, 2}, audio.Format{SampleRate: 0, BitDepth: 16, Channels: 1})
	require.ErrorIs(t, err, audio.ErrInvalidFormat)

	_, err = audio.WrapPCM([]byte{1, 2}, audio.Format{SampleRate: 24000, BitDepth: 16, Channels: 9})
	require.ErrorIs(t, err, audio.ErrInvalidFormat)
}

func TestFormatFromMime(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		mime     string
		expected audio.Format
	}{
		{
			name:     "gemini default",
			mime:     "audio/L16;codec=pcm;rate=24000",
			expected: audio.Format{SampleRate: 24000, BitDepth: 16, Channels: 1},
		},
		{
			name:     "bare pcm",
			mime:     "audio/pcm",
			expected: audio.NewDefaultFormat(),
		},
		{
			name:     "custom rate and channels",
			mime:     "audio/L16; rate=16000; channels=2",
			expected: audio.Format{SampleRate: 16000, BitDepth: 16, Channels: 2},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			format, err := audio.FormatFromMime(tc.mime)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, format)
		})
	}

	_, err := audio.FormatFromMime("audio/mpeg")
	require.ErrorIs(t, err, audio.ErrUnsupportedMime)

	_, err = audio.FormatFromMime("audio/L16;rate=fast")
	require.ErrorIs(t, err, audio.ErrInvalidFormat)
}

func TestFormat_Duration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Second, audio.NewDefaultFormat().Duration(48000))
	assert.Equal(t, time.Duration(0), audio.Format{}.Duration(100))
	assert.False(t, audio.IsWAV([]byte("RIFF")))
}

func TestCheckPCMSize(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, audio.CheckPCMSize(0), audio.ErrEmptyPCM)
	require.NoError(t, audio.CheckPCMSize(1))
	require.NoError(t, audio.CheckPCMSize(audio.MAX_PCM_SIZE))
	require.ErrorIs(t, audio.CheckPCMSize(audio.MAX_PCM_SIZE+1), audio.ErrPCMTooLarge)
}
