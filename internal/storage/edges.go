package storage

import (
	"fmt"
	"sort"
	"strings"

	"edgeriver/internal/models"
)

// RegisterEdgeServer creates an edge server record and mints its API key.
// The key is the pre-shared credential replayed to the edge on every push.
func (s *Storage) RegisterEdgeServer(params RegisterEdgeServerParams) (models.EdgeServer, string, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return models.EdgeServer{}, "", fmt.Errorf("edge server name is required")
	}
	host := strings.TrimSpace(params.Host)
	if host == "" {
		return models.EdgeServer{}, "", fmt.Errorf("edge server host is required")
	}
	if params.Port <= 0 || params.Port > 65535 {
		return models.EdgeServer{}, "", fmt.Errorf("edge server port %d out of range", params.Port)
	}
	protocol := strings.ToLower(strings.TrimSpace(params.Protocol))
	if protocol == "" {
		protocol = "http"
	}
	if protocol != "http" && protocol != "https" {
		return models.EdgeServer{}, "", fmt.Errorf("unsupported edge server protocol %q", params.Protocol)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := generateID()
	if err != nil {
		return models.EdgeServer{}, "", err
	}
	rawKey, err := generateAPIKey()
	if err != nil {
		return models.EdgeServer{}, "", err
	}

	now := nowUTC()
	server := models.EdgeServer{
		ID:        id,
		Name:      name,
		Host:      host,
		Port:      params.Port,
		Protocol:  protocol,
		APIKey:    rawKey,
		Status:    models.EdgeServerActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.data.EdgeServers[id] = server
	s.apiKeyIndex[rawKey] = id
	if err := s.persist(); err != nil {
		delete(s.data.EdgeServers, id)
		delete(s.apiKeyIndex, rawKey)
		return models.EdgeServer{}, "", err
	}
	return cloneEdgeServer(server), rawKey, nil
}

func (s *Storage) GetEdgeServer(id string) (models.EdgeServer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	server, ok := s.data.EdgeServers[id]
	if !ok {
		return models.EdgeServer{}, false
	}
	return cloneEdgeServer(server), true
}

func (s *Storage) ListEdgeServers() []models.EdgeServer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	servers := make([]models.EdgeServer, 0, len(s.data.EdgeServers))
	for _, server := range s.data.EdgeServers {
		servers = append(servers, cloneEdgeServer(server))
	}
	sortEdgeServersByName(servers)
	return servers
}

// ListActiveEdgeServers returns only servers eligible for content sync.
func (s *Storage) ListActiveEdgeServers() []models.EdgeServer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	servers := make([]models.EdgeServer, 0, len(s.data.EdgeServers))
	for _, server := range s.data.EdgeServers {
		if server.Status != models.EdgeServerActive {
			continue
		}
		servers = append(servers, cloneEdgeServer(server))
	}
	sortEdgeServersByName(servers)
	return servers
}

// FindEdgeServerByAPIKey resolves a presented API key to its server via the
// key index. Absence is reported, not an error; callers decide the HTTP
// consequence.
func (s *Storage) FindEdgeServerByAPIKey(key string) (models.EdgeServer, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return models.EdgeServer{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.apiKeyIndex[key]
	if !ok {
		return models.EdgeServer{}, false
	}
	server, ok := s.data.EdgeServers[id]
	if !ok {
		return models.EdgeServer{}, false
	}
	return cloneEdgeServer(server), true
}

func (s *Storage) UpdateEdgeServer(id string, update EdgeServerUpdate) (models.EdgeServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	server, ok := s.data.EdgeServers[id]
	if !ok {
		return models.EdgeServer{}, ErrEdgeServerNotFound
	}
	previous := cloneEdgeServer(server)

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return models.EdgeServer{}, fmt.Errorf("edge server name is required")
		}
		server.Name = name
	}
	if update.Host != nil {
		host := strings.TrimSpace(*update.Host)
		if host == "" {
			return models.EdgeServer{}, fmt.Errorf("edge server host is required")
		}
		server.Host = host
	}
	if update.Port != nil {
		if *update.Port <= 0 || *update.Port > 65535 {
			return models.EdgeServer{}, fmt.Errorf("edge server port %d out of range", *update.Port)
		}
		server.Port = *update.Port
	}
	if update.Protocol != nil {
		protocol := strings.ToLower(strings.TrimSpace(*update.Protocol))
		if protocol != "http" && protocol != "https" {
			return models.EdgeServer{}, fmt.Errorf("unsupported edge server protocol %q", *update.Protocol)
		}
		server.Protocol = protocol
	}
	if update.Status != nil {
		if !update.Status.Valid() {
			return models.EdgeServer{}, fmt.Errorf("invalid edge server status %q", *update.Status)
		}
		server.Status = *update.Status
	}
	server.UpdatedAt = nowUTC()

	s.data.EdgeServers[id] = server
	if err := s.persist(); err != nil {
		s.data.EdgeServers[id] = previous
		return models.EdgeServer{}, err
	}
	return cloneEdgeServer(server), nil
}

// RotateEdgeServerAPIKey mints a fresh API key for the server, atomically
// replacing the old one. Pushes already in flight with the old key fail on
// their next request.
func (s *Storage) RotateEdgeServerAPIKey(id string) (models.EdgeServer, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	server, ok := s.data.EdgeServers[id]
	if !ok {
		return models.EdgeServer{}, "", ErrEdgeServerNotFound
	}
	previous := cloneEdgeServer(server)

	rawKey, err := generateAPIKey()
	if err != nil {
		return models.EdgeServer{}, "", err
	}

	oldKey := server.APIKey
	server.APIKey = rawKey
	server.UpdatedAt = nowUTC()

	s.data.EdgeServers[id] = server
	delete(s.apiKeyIndex, oldKey)
	s.apiKeyIndex[rawKey] = id
	if err := s.persist(); err != nil {
		s.data.EdgeServers[id] = previous
		delete(s.apiKeyIndex, rawKey)
		if oldKey != "" {
			s.apiKeyIndex[oldKey] = id
		}
		return models.EdgeServer{}, "", err
	}
	return cloneEdgeServer(server), rawKey, nil
}

// RecordSyncSuccess bumps the synced counter, stamps the sync time, and
// clears an error status in a single update.
func (s *Storage) RecordSyncSuccess(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	server, ok := s.data.EdgeServers[id]
	if !ok {
		return ErrEdgeServerNotFound
	}
	previous := cloneEdgeServer(server)

	now := nowUTC()
	server.Stats.VideosSynced++
	server.Stats.LastSyncTime = &now
	if server.Status == models.EdgeServerError {
		server.Status = models.EdgeServerActive
	}
	server.UpdatedAt = now

	s.data.EdgeServers[id] = server
	if err := s.persist(); err != nil {
		s.data.EdgeServers[id] = previous
		return err
	}
	return nil
}

// RecordSyncFailure bumps the error counter and flags the server.
func (s *Storage) RecordSyncFailure(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	server, ok := s.data.EdgeServers[id]
	if !ok {
		return ErrEdgeServerNotFound
	}
	previous := cloneEdgeServer(server)

	server.Stats.SyncErrors++
	server.Status = models.EdgeServerError
	server.UpdatedAt = nowUTC()

	s.data.EdgeServers[id] = server
	if err := s.persist(); err != nil {
		s.data.EdgeServers[id] = previous
		return err
	}
	return nil
}

func (s *Storage) DeleteEdgeServer(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	server, ok := s.data.EdgeServers[id]
	if !ok {
		return ErrEdgeServerNotFound
	}

	delete(s.data.EdgeServers, id)
	delete(s.apiKeyIndex, server.APIKey)
	if err := s.persist(); err != nil {
		s.data.EdgeServers[id] = server
		if server.APIKey != "" {
			s.apiKeyIndex[server.APIKey] = id
		}
		return err
	}
	return nil
}

func sortEdgeServersByName(servers []models.EdgeServer) {
	sort.Slice(servers, func(i, j int) bool {
		if servers[i].Name == servers[j].Name {
			return servers[i].ID < servers[j].ID
		}
		return servers[i].Name < servers[j].Name
	})
}
