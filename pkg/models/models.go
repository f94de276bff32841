package models

import "time"

// Codec selects the video encoder family for the output.
type Codec string

const (
	CodecH264 Codec = "h264"
	CodecHEVC Codec = "hevc"
)

// Preset is a quality level for the non-targeted export path.
type Preset string

const (
	PresetLow    Preset = "low"
	PresetMedium Preset = "medium"
	PresetHigh   Preset = "high"
)

// SessionState is the lifecycle state of a compression session.
type SessionState string

const (
	StateConfiguring SessionState = "configuring"
	StateRunning     SessionState = "running"
	StateCompleted   SessionState = "completed"
	StateFailed      SessionState = "failed"
	StateCancelled   SessionState = "cancelled"
)

// Terminal reports whether s is a final state.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CompressionRequest describes one compression job. Exactly one of Preset
// or TargetSizeMB must be set; setting both (or neither) is rejected before
// any file is touched.
type CompressionRequest struct {
	Input  string `json:"input"`
	Output string `json:"output"`

	Preset       Preset  `json:"preset,omitempty"`
	TargetSizeMB float64 `json:"target_size_mb,omitempty"`

	KeepAudio bool  `json:"keep_audio"`
	Codec     Codec `json:"codec"`
}

// HasPreset reports whether the request uses the preset path.
func (r *CompressionRequest) HasPreset() bool { return r.Preset != "" }

// HasTargetSize reports whether the request uses the size-targeted path.
func (r *CompressionRequest) HasTargetSize() bool { return r.TargetSizeMB > 0 }

// Validate enforces the one-mode invariant before any I/O happens.
func (r *CompressionRequest) Validate() error {
	if r.Input == "" || r.Output == "" {
		return settingsError("input and output paths are required")
	}
	if r.HasPreset() == r.HasTargetSize() {
		return settingsError("specify exactly one of --preset or --target-size-mb")
	}
	if r.HasPreset() {
		switch r.Preset {
		case PresetLow, PresetMedium, PresetHigh:
		default:
			return settingsError("unknown preset: " + string(r.Preset))
		}
	}
	switch r.Codec {
	case CodecH264, CodecHEVC:
	default:
		return settingsError("codec must be h264 or hevc")
	}
	return nil
}

// ProgressPayload is posted to the optional callback URL while a job runs.
// Used in [PATCH] {callback}/progress
type ProgressPayload struct {
	SessionID string       `json:"session_id"`
	State     SessionState `json:"state"`
	Progress  float64      `json:"progress"` // 0.0 to 1.0
	UpdatedAt time.Time    `json:"updated_at"`
}

// ResultPayload is posted once when a job reaches a terminal state.
// Used in [POST] {callback}/result
type ResultPayload struct {
	SessionID  string       `json:"session_id"`
	State      SessionState `json:"state"`
	OutputPath string       `json:"output_path,omitempty"`
	ErrorMsg   string       `json:"error_message,omitempty"`
	ElapsedMS  int64        `json:"elapsed_ms"`
}
