package models

import (
	"strconv"
	"strings"
	"time"
)

// VideoStatus enumerates the lifecycle states of a hosted video. Transitions
// move forward only: uploading -> processing -> ready, or into error/failed.
// Once a video is ready or failed no automatic transition touches it again.
type VideoStatus string

const (
	VideoStatusUploading  VideoStatus = "uploading"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusReady      VideoStatus = "ready"
	VideoStatusError      VideoStatus = "error"
	VideoStatusFailed     VideoStatus = "failed"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s VideoStatus) Valid() bool {
	switch s {
	case VideoStatusUploading, VideoStatusProcessing, VideoStatusReady, VideoStatusError, VideoStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the status permits no further automatic
// transitions.
func (s VideoStatus) Terminal() bool {
	return s == VideoStatusReady || s == VideoStatusFailed
}

// ParseVideoStatus normalises a raw string into a VideoStatus. The boolean is
// false when the input does not name a known state.
func ParseVideoStatus(raw string) (VideoStatus, bool) {
	status := VideoStatus(strings.ToLower(strings.TrimSpace(raw)))
	return status, status.Valid()
}

// Rendition describes one output profile in the adaptive ladder produced by
// the transcoder.
type Rendition struct {
	Name         string `json:"name"`
	ManifestPath string `json:"manifestPath"`
	Bitrate      int    `json:"bitrate,omitempty"`
}

// ProcessedFiles describes the full artifact set for a transcoded video. It
// is populated atomically when processing succeeds; readers never observe a
// partially filled value.
type ProcessedFiles struct {
	MasterManifest string      `json:"masterManifest"`
	Renditions     []Rendition `json:"renditions,omitempty"`
	Segments       []string    `json:"segments,omitempty"`
	Thumbnails     []string    `json:"thumbnails,omitempty"`
}

// Empty reports whether no artifacts have been recorded.
func (p ProcessedFiles) Empty() bool {
	return p.MasterManifest == "" && len(p.Renditions) == 0 && len(p.Segments) == 0 && len(p.Thumbnails) == 0
}

// Video is the durable record tracked for every hosted video.
type Video struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	InputPath      string         `json:"inputPath"`
	OutputDir      string         `json:"outputDir"`
	Status         VideoStatus    `json:"status"`
	Progress       int            `json:"progress"`
	Error          string         `json:"error,omitempty"`
	DurationSecs   float64        `json:"durationSeconds,omitempty"`
	Resolution     string         `json:"resolution,omitempty"`
	SizeBytes      int64          `json:"sizeBytes,omitempty"`
	ProcessedFiles ProcessedFiles `json:"processedFiles"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
}

// EdgeServerStatus enumerates the administrative/health states of an edge
// server.
type EdgeServerStatus string

const (
	EdgeServerActive   EdgeServerStatus = "active"
	EdgeServerInactive EdgeServerStatus = "inactive"
	EdgeServerError    EdgeServerStatus = "error"
)

// Valid reports whether the status names a known edge server state.
func (s EdgeServerStatus) Valid() bool {
	switch s {
	case EdgeServerActive, EdgeServerInactive, EdgeServerError:
		return true
	}
	return false
}

// EdgeSyncStats accumulates replication outcomes for one edge server. The
// counters only ever increase; LastSyncTime records the most recent
// successful sync.
type EdgeSyncStats struct {
	VideosSynced uint64     `json:"videosSynced"`
	SyncErrors   uint64     `json:"syncErrors"`
	LastSyncTime *time.Time `json:"lastSyncTime,omitempty"`
}

// EdgeServer is the durable registration record for a replica node. The API
// key is a pre-shared server-to-server credential: the primary presents it in
// the X-Api-Key header on every replication call.
type EdgeServer struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Host      string           `json:"host"`
	Port      int              `json:"port"`
	Protocol  string           `json:"protocol"`
	APIKey    string           `json:"apiKey,omitempty"`
	Status    EdgeServerStatus `json:"status"`
	Stats     EdgeSyncStats    `json:"stats"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// BaseURL renders the scheme://host:port prefix used for server-to-server
// calls.
func (e EdgeServer) BaseURL() string {
	protocol := e.Protocol
	if protocol == "" {
		protocol = "http"
	}
	base := protocol + "://" + e.Host
	if e.Port > 0 {
		base += ":" + strconv.Itoa(e.Port)
	}
	return base
}
