// Package inspect loads source asset metadata via ffprobe.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"

	"vidcompact/pkg/models"
)

// Metadata is everything the pipeline needs to know about a source asset.
type Metadata struct {
	DurationSec float64
	Width       int
	Height      int
	FrameRate   float64
	BitrateBps  int   // estimated source bitrate
	SizeBytes   int64 // container size on disk
	HasAudio    bool
	Rotation    int // degrees, carried as metadata, never baked into pixels
}

// Inspector probes source files. A fresh reader is opened per probe; the
// session opens its own readers later, so probing never disturbs a session.
type Inspector struct {
	probePath string
	log       hclog.Logger
}

func New(probePath string, log hclog.Logger) *Inspector {
	return &Inspector{probePath: probePath, log: log.Named("inspect")}
}

// Inspect validates the source and gathers its metadata. Unreadable or
// unparseable sources fail with ErrInvalidAsset; sources without a video
// stream fail with ErrNoVideoTrack.
func (i *Inspector) Inspect(ctx context.Context, path string) (Metadata, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %s", models.ErrInvalidAsset, path)
	}

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration,bit_rate,size",
		"-show_streams",
		"-of", "json",
		path,
	}
	out, err := exec.CommandContext(ctx, i.probePath, args...).Output()
	if err != nil {
		i.log.Debug("ffprobe failed", "path", path, "error", err)
		return Metadata{}, fmt.Errorf("%w: ffprobe could not read %s", models.ErrInvalidAsset, path)
	}

	meta, err := parseProbe(out)
	if err != nil {
		return Metadata{}, err
	}
	meta.SizeBytes = st.Size()

	i.log.Debug("probed asset", "path", path,
		"duration_sec", meta.DurationSec, "size", fmt.Sprintf("%dx%d", meta.Width, meta.Height),
		"fps", meta.FrameRate, "audio", meta.HasAudio, "rotation", meta.Rotation)
	return meta, nil
}

// probeResult mirrors the ffprobe JSON we care about.
type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		BitRate      string `json:"bit_rate"`
		Tags         struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []struct {
			Rotation int `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
}

func parseProbe(out []byte) (Metadata, error) {
	var res probeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return Metadata{}, fmt.Errorf("%w: malformed ffprobe output", models.ErrInvalidAsset)
	}

	var meta Metadata
	meta.DurationSec, _ = strconv.ParseFloat(res.Format.Duration, 64)
	if meta.DurationSec <= 0 {
		return Metadata{}, fmt.Errorf("%w: missing or zero duration", models.ErrInvalidAsset)
	}

	foundVideo := false
	for _, s := range res.Streams {
		switch s.CodecType {
		case "video":
			if foundVideo {
				continue // only the first video track is used
			}
			foundVideo = true
			meta.Width = s.Width
			meta.Height = s.Height
			meta.FrameRate = parseRate(s.RFrameRate)
			if meta.FrameRate <= 0 {
				meta.FrameRate = parseRate(s.AvgFrameRate)
			}
			if v, err := strconv.Atoi(s.BitRate); err == nil {
				meta.BitrateBps = v
			}
			// Rotation lives in side data on modern files, in a tag on
			// older ones.
			for _, sd := range s.SideDataList {
				if sd.Rotation != 0 {
					meta.Rotation = normalizeRotation(sd.Rotation)
				}
			}
			if meta.Rotation == 0 && s.Tags.Rotate != "" {
				if v, err := strconv.Atoi(s.Tags.Rotate); err == nil {
					meta.Rotation = normalizeRotation(v)
				}
			}
		case "audio":
			meta.HasAudio = true
		}
	}

	if !foundVideo {
		return Metadata{}, models.ErrNoVideoTrack
	}
	if meta.Width <= 0 || meta.Height <= 0 {
		return Metadata{}, fmt.Errorf("%w: video stream has no dimensions", models.ErrInvalidAsset)
	}
	if meta.FrameRate <= 0 {
		meta.FrameRate = 30 // last-resort assumption for VFR oddballs
	}
	if meta.BitrateBps == 0 {
		if v, err := strconv.Atoi(res.Format.BitRate); err == nil {
			meta.BitrateBps = v
		}
	}
	return meta, nil
}

// parseRate turns ffprobe's "30000/1001" rational into a float fps.
func parseRate(r string) float64 {
	num, den, ok := strings.Cut(r, "/")
	if !ok {
		v, _ := strconv.ParseFloat(r, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}

// presetVideoBps is the fixed table behind preset exports and pre-flight
// size estimates, so the estimate and the encode agree.
var presetVideoBps = map[models.Preset]int{
	models.PresetLow:    1_000_000,
	models.PresetMedium: 2_500_000,
	models.PresetHigh:   5_000_000,
}

// PresetVideoBps returns the video bitrate the preset path encodes at.
func PresetVideoBps(p models.Preset) int {
	if v, ok := presetVideoBps[p]; ok {
		return v
	}
	return presetVideoBps[models.PresetMedium]
}

// EstimateSize is a pure forward calculation of the expected output size in
// megabytes for a preset. Guidance for the user, not a sizing guarantee.
func EstimateSize(meta Metadata, preset models.Preset, keepAudio bool) float64 {
	bps := PresetVideoBps(preset)
	if keepAudio && meta.HasAudio {
		bps += 128_000
	}
	return float64(bps) * meta.DurationSec / 8 / 1_000_000
}
