package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"edgeriver/internal/models"
)

type dataset struct {
	Videos      map[string]models.Video      `json:"videos"`
	EdgeServers map[string]models.EdgeServer `json:"edgeServers"`
}

// Storage is the JSON-file-backed repository. All state lives in memory
// guarded by an RWMutex; every mutation is persisted atomically to disk and
// rolled back in memory when the write fails.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// apiKeyIndex maps API keys to edge server IDs for O(1) lookup.
	apiKeyIndex map[string]string
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

// NewJSONRepository opens (or creates) the JSON datastore at path.
func NewJSONRepository(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath:    path,
		apiKeyIndex: make(map[string]string),
	}
	store.resetLocked()
	for _, opt := range opts {
		opt.applyJSON(store)
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) resetLocked() {
	s.data = dataset{
		Videos:      make(map[string]models.Video),
		EdgeServers: make(map[string]models.EdgeServer),
	}
}

func (s *Storage) initMapsLocked() {
	if s.data.Videos == nil {
		s.data.Videos = make(map[string]models.Video)
	}
	if s.data.EdgeServers == nil {
		s.data.EdgeServers = make(map[string]models.EdgeServer)
	}
}

func (s *Storage) reindexAPIKeysLocked() {
	s.apiKeyIndex = make(map[string]string, len(s.data.EdgeServers))
	for id, server := range s.data.EdgeServers {
		if server.APIKey != "" {
			s.apiKeyIndex[server.APIKey] = id
		}
	}
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	raw, err := os.ReadFile(s.filePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.resetLocked()
		return nil
	case err != nil:
		return fmt.Errorf("read store file: %w", err)
	}
	if len(raw) == 0 {
		s.resetLocked()
		return nil
	}

	if err := json.Unmarshal(raw, &s.data); err != nil {
		return fmt.Errorf("decode store file: %w", err)
	}
	s.initMapsLocked()
	s.reindexAPIKeysLocked()
	return nil
}

func (s *Storage) persist() error {
	if s.persistOverride != nil {
		if err := s.persistOverride(s.data); err != nil {
			return err
		}
	}
	return writeDatasetFile(s.filePath, s.data)
}

// writeDatasetFile replaces path atomically: the encoded dataset is written
// to a sibling temp file, fsynced, and renamed into place.
func writeDatasetFile(path string, data dataset) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	encoded = append(encoded, '\n')

	tmp, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write store file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}

// Ping reports datastore health. The JSON driver only verifies the backing
// directory is still reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := os.Stat(filepath.Dir(s.filePath))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// NewID returns a fresh record identifier for callers that need the ID
// before the record is created, such as upload staging.
func NewID() (string, error) {
	return generateID()
}

func randomHex(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

func generateID() (string, error) {
	id, err := randomHex(16)
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id, nil
}

func generateAPIKey() (string, error) {
	key, err := randomHex(apiKeyLength)
	if err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return key, nil
}

func cloneDataset(src dataset) dataset {
	var clone dataset
	if src.Videos != nil {
		clone.Videos = make(map[string]models.Video, len(src.Videos))
		for id, video := range src.Videos {
			clone.Videos[id] = cloneVideo(video)
		}
	}
	if src.EdgeServers != nil {
		clone.EdgeServers = make(map[string]models.EdgeServer, len(src.EdgeServers))
		for id, server := range src.EdgeServers {
			clone.EdgeServers[id] = cloneEdgeServer(server)
		}
	}
	return clone
}

// cloneVideo copies a video deeply enough that callers can mutate the result
// without touching the stored record.
func cloneVideo(video models.Video) models.Video {
	cloned := video
	cloned.ProcessedFiles = cloneProcessedFiles(video.ProcessedFiles)
	cloned.CompletedAt = copyTime(video.CompletedAt)
	return cloned
}

func cloneProcessedFiles(files models.ProcessedFiles) models.ProcessedFiles {
	cloned := files
	if files.Renditions != nil {
		cloned.Renditions = append([]models.Rendition(nil), files.Renditions...)
	}
	if files.Segments != nil {
		cloned.Segments = append([]string(nil), files.Segments...)
	}
	if files.Thumbnails != nil {
		cloned.Thumbnails = append([]string(nil), files.Thumbnails...)
	}
	return cloned
}

func cloneEdgeServer(server models.EdgeServer) models.EdgeServer {
	cloned := server
	cloned.Stats.LastSyncTime = copyTime(server.Stats.LastSyncTime)
	return cloned
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
