package storage

import (
	"errors"

	"edgeriver/internal/models"
)

const (
	apiKeyLength = 24

	// DefaultListLimit bounds unpaginated video listings.
	DefaultListLimit = 500
)

var (
	// ErrVideoNotFound indicates the requested video record does not exist.
	ErrVideoNotFound = errors.New("video not found")
	// ErrVideoExists indicates a create collided with an existing record.
	ErrVideoExists = errors.New("video already exists")
	// ErrEdgeServerNotFound indicates the requested edge server record does
	// not exist.
	ErrEdgeServerNotFound = errors.New("edge server not found")
)

// CreateVideoParams captures the fields supplied when a video record is
// registered by the upload path.
type CreateVideoParams struct {
	ID        string
	Title     string
	InputPath string
	OutputDir string
}

// VideoUpdate applies a partial mutation to a video record. Nil fields are
// left untouched. Progress values are clamped to 0-100 and never regress
// while a record stays in the processing state.
type VideoUpdate struct {
	Title          *string
	Status         *models.VideoStatus
	Progress       *int
	Error          *string
	DurationSecs   *float64
	Resolution     *string
	SizeBytes      *int64
	ProcessedFiles *models.ProcessedFiles
}

// ProcessingResult carries everything the transcoder reports for a finished
// video. MarkVideoReady applies it atomically.
type ProcessingResult struct {
	DurationSecs float64
	Resolution   string
	SizeBytes    int64
	Files        models.ProcessedFiles
}

// RegisterEdgeServerParams captures the fields supplied by an administrator
// registering a replica node.
type RegisterEdgeServerParams struct {
	Name     string
	Host     string
	Port     int
	Protocol string
}

// EdgeServerUpdate applies a partial mutation to an edge server record.
type EdgeServerUpdate struct {
	Name     *string
	Host     *string
	Port     *int
	Protocol *string
	Status   *models.EdgeServerStatus
}
