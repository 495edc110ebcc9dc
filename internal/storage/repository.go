package storage

import (
	"context"

	"edgeriver/internal/models"
)

// Repository exposes the datastore operations required by the processing
// queue, the edge sync service, the metadata cache, and the HTTP handlers.
type Repository interface {
	Ping(ctx context.Context) error

	CreateVideo(params CreateVideoParams) (models.Video, error)
	GetVideo(id string) (models.Video, bool)
	ListVideos() []models.Video
	UpdateVideo(id string, update VideoUpdate) (models.Video, error)
	MarkVideoProcessing(id string) (models.Video, error)
	MarkVideoReady(id string, result ProcessingResult) (models.Video, error)
	MarkVideoError(id string, message string) (models.Video, error)
	DeleteVideo(id string) error

	RegisterEdgeServer(params RegisterEdgeServerParams) (models.EdgeServer, string, error)
	GetEdgeServer(id string) (models.EdgeServer, bool)
	ListEdgeServers() []models.EdgeServer
	ListActiveEdgeServers() []models.EdgeServer
	FindEdgeServerByAPIKey(key string) (models.EdgeServer, bool)
	UpdateEdgeServer(id string, update EdgeServerUpdate) (models.EdgeServer, error)
	RotateEdgeServerAPIKey(id string) (models.EdgeServer, string, error)
	RecordSyncSuccess(id string) error
	RecordSyncFailure(id string) error
	DeleteEdgeServer(id string) error
}

var _ Repository = (*Storage)(nil)
