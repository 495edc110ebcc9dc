package storage

import (
	"fmt"
	"sort"
	"strings"

	"edgeriver/internal/models"
)

// CreateVideo registers a new video record in the uploading state. The
// caller may supply an ID (edge metadata sync does); otherwise one is
// generated.
func (s *Storage) CreateVideo(params CreateVideoParams) (models.Video, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return models.Video{}, fmt.Errorf("video title is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := strings.TrimSpace(params.ID)
	if id == "" {
		generated, err := generateID()
		if err != nil {
			return models.Video{}, err
		}
		id = generated
	} else if _, exists := s.data.Videos[id]; exists {
		return models.Video{}, ErrVideoExists
	}

	now := nowUTC()
	video := models.Video{
		ID:        id,
		Title:     title,
		InputPath: strings.TrimSpace(params.InputPath),
		OutputDir: strings.TrimSpace(params.OutputDir),
		Status:    models.VideoStatusUploading,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.data.Videos[id] = video
	if err := s.persist(); err != nil {
		delete(s.data.Videos, id)
		return models.Video{}, err
	}
	return cloneVideo(video), nil
}

func (s *Storage) GetVideo(id string) (models.Video, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, false
	}
	return cloneVideo(video), true
}

func (s *Storage) ListVideos() []models.Video {
	s.mu.RLock()
	defer s.mu.RUnlock()

	videos := make([]models.Video, 0, len(s.data.Videos))
	for _, video := range s.data.Videos {
		videos = append(videos, cloneVideo(video))
	}
	sortVideosByCreatedDesc(videos)
	return videos
}

// UpdateVideo applies a partial update. Progress never moves backwards and is
// clamped to [0, 100].
func (s *Storage) UpdateVideo(id string, update VideoUpdate) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}
	previous := cloneVideo(video)

	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return models.Video{}, fmt.Errorf("video title is required")
		}
		video.Title = title
	}
	if update.Status != nil {
		if !update.Status.Valid() {
			return models.Video{}, fmt.Errorf("invalid video status %q", *update.Status)
		}
		video.Status = *update.Status
	}
	if update.Progress != nil {
		video.Progress = clampProgress(video.Progress, *update.Progress)
	}
	if update.Error != nil {
		video.Error = strings.TrimSpace(*update.Error)
	}
	if update.DurationSecs != nil {
		video.DurationSecs = *update.DurationSecs
	}
	if update.Resolution != nil {
		video.Resolution = strings.TrimSpace(*update.Resolution)
	}
	if update.SizeBytes != nil {
		video.SizeBytes = *update.SizeBytes
	}
	if update.ProcessedFiles != nil {
		video.ProcessedFiles = cloneProcessedFiles(*update.ProcessedFiles)
	}
	video.UpdatedAt = nowUTC()

	s.data.Videos[id] = video
	if err := s.persist(); err != nil {
		s.data.Videos[id] = previous
		return models.Video{}, err
	}
	return cloneVideo(video), nil
}

// MarkVideoProcessing transitions a record into the processing state and
// resets its progress and error fields.
func (s *Storage) MarkVideoProcessing(id string) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}
	previous := cloneVideo(video)

	video.Status = models.VideoStatusProcessing
	video.Progress = 0
	video.Error = ""
	video.CompletedAt = nil
	video.UpdatedAt = nowUTC()

	s.data.Videos[id] = video
	if err := s.persist(); err != nil {
		s.data.Videos[id] = previous
		return models.Video{}, err
	}
	return cloneVideo(video), nil
}

// MarkVideoReady records a successful processing outcome. Status, progress,
// media attributes, and the processed file manifest change together so
// readers never observe a ready record with partial output.
func (s *Storage) MarkVideoReady(id string, result ProcessingResult) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}
	previous := cloneVideo(video)

	now := nowUTC()
	video.Status = models.VideoStatusReady
	video.Progress = 100
	video.Error = ""
	video.DurationSecs = result.DurationSecs
	video.Resolution = strings.TrimSpace(result.Resolution)
	video.SizeBytes = result.SizeBytes
	video.ProcessedFiles = cloneProcessedFiles(result.Files)
	video.CompletedAt = &now
	video.UpdatedAt = now

	s.data.Videos[id] = video
	if err := s.persist(); err != nil {
		s.data.Videos[id] = previous
		return models.Video{}, err
	}
	return cloneVideo(video), nil
}

func (s *Storage) MarkVideoError(id string, message string) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}
	previous := cloneVideo(video)

	video.Status = models.VideoStatusError
	video.Error = strings.TrimSpace(message)
	video.UpdatedAt = nowUTC()

	s.data.Videos[id] = video
	if err := s.persist(); err != nil {
		s.data.Videos[id] = previous
		return models.Video{}, err
	}
	return cloneVideo(video), nil
}

func (s *Storage) DeleteVideo(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	video, ok := s.data.Videos[id]
	if !ok {
		return ErrVideoNotFound
	}

	delete(s.data.Videos, id)
	if err := s.persist(); err != nil {
		s.data.Videos[id] = video
		return err
	}
	return nil
}

func sortVideosByCreatedDesc(videos []models.Video) {
	sort.Slice(videos, func(i, j int) bool {
		if videos[i].CreatedAt.Equal(videos[j].CreatedAt) {
			return videos[i].ID < videos[j].ID
		}
		return videos[i].CreatedAt.After(videos[j].CreatedAt)
	})
}

func clampProgress(current, next int) int {
	if next < 0 {
		next = 0
	}
	if next > 100 {
		next = 100
	}
	if next < current {
		return current
	}
	return next
}
