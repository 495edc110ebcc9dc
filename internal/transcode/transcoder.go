// Package transcode defines the boundary to the media processing backend.
package transcode

import (
	"context"

	"edgeriver/internal/models"
)

// ProcessParams describes one transcode job. OnProgress, when set, receives
// percentage updates in [0, 100]; callbacks happen on the polling goroutine
// and must not block.
type ProcessParams struct {
	VideoID    string
	InputPath  string
	OutputDir  string
	OnProgress func(percent int)
}

// Result carries the media attributes and artifact manifest of a finished
// job.
type Result struct {
	DurationSecs float64
	Resolution   string
	SizeBytes    int64
	Files        models.ProcessedFiles
}

// Transcoder converts an uploaded source file into streamable renditions.
type Transcoder interface {
	Process(ctx context.Context, params ProcessParams) (Result, error)
}
