package inspect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidcompact/pkg/models"
)

const probeFixture = `{
  "streams": [
    {
      "codec_type": "video",
      "width": 1920,
      "height": 1080,
      "r_frame_rate": "30000/1001",
      "avg_frame_rate": "30000/1001",
      "bit_rate": "8000000",
      "side_data_list": [{"rotation": -90}]
    },
    {
      "codec_type": "audio",
      "r_frame_rate": "0/0"
    }
  ],
  "format": {
    "duration": "60.032000",
    "bit_rate": "8250000",
    "size": "61875000"
  }
}`

func TestParseProbe(t *testing.T) {
	meta, err := parseProbe([]byte(probeFixture))
	require.NoError(t, err)

	assert.InDelta(t, 60.032, meta.DurationSec, 0.001)
	assert.Equal(t, 1920, meta.Width)
	assert.Equal(t, 1080, meta.Height)
	assert.InDelta(t, 29.97, meta.FrameRate, 0.01)
	assert.Equal(t, 8_000_000, meta.BitrateBps)
	assert.True(t, meta.HasAudio)
	assert.Equal(t, 270, meta.Rotation)
}

func TestParseProbeAudioOnly(t *testing.T) {
	fixture := `{
	  "streams": [{"codec_type": "audio"}],
	  "format": {"duration": "120.0"}
	}`
	_, err := parseProbe([]byte(fixture))
	assert.ErrorIs(t, err, models.ErrNoVideoTrack)
}

func TestParseProbeRotationTagFallback(t *testing.T) {
	fixture := `{
	  "streams": [
	    {"codec_type": "video", "width": 720, "height": 1280,
	     "r_frame_rate": "30/1", "tags": {"rotate": "90"}}
	  ],
	  "format": {"duration": "10.0", "bit_rate": "4000000"}
	}`
	meta, err := parseProbe([]byte(fixture))
	require.NoError(t, err)
	assert.Equal(t, 90, meta.Rotation)
	// Stream bit_rate absent: format bit_rate is the fallback estimate.
	assert.Equal(t, 4_000_000, meta.BitrateBps)
}

func TestParseProbeGarbage(t *testing.T) {
	_, err := parseProbe([]byte("not json at all"))
	assert.ErrorIs(t, err, models.ErrInvalidAsset)

	_, err = parseProbe([]byte(`{"streams": [], "format": {}}`))
	assert.ErrorIs(t, err, models.ErrInvalidAsset)
}

func TestEstimateSize(t *testing.T) {
	meta := Metadata{DurationSec: 60, HasAudio: true}

	// Medium preset: (2,500,000 + 128,000) * 60 / 8 / 1e6 MB.
	got := EstimateSize(meta, models.PresetMedium, true)
	assert.InDelta(t, 19.71, got, 0.01)

	// Dropping audio shrinks the estimate.
	noAudio := EstimateSize(meta, models.PresetMedium, false)
	assert.Less(t, noAudio, got)

	// Estimation is pure: same inputs, same output.
	assert.Equal(t, got, EstimateSize(meta, models.PresetMedium, true))
}
