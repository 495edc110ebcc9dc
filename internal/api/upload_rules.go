package api

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// UploadDecision is the outcome of evaluating an inbound source file.
// Destination is a slash-separated path relative to the upload root,
// derived deterministically from the video ID so a retried upload lands on
// the same file.
type UploadDecision struct {
	Accept      bool
	Reason      string
	Destination string
}

var acceptedVideoExtensions = map[string]struct{}{
	".mp4":  {},
	".m4v":  {},
	".mov":  {},
	".mkv":  {},
	".webm": {},
	".avi":  {},
}

// EvaluateUpload decides whether a source file is accepted for processing.
// A file passes on a recognised video extension or a video/* content type.
func EvaluateUpload(videoID, filename, contentType string) UploadDecision {
	name := strings.TrimSpace(filename)
	if name == "" {
		return UploadDecision{Reason: "filename is required"}
	}

	ext := strings.ToLower(filepath.Ext(name))
	_, knownExt := acceptedVideoExtensions[ext]
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(mediaType, ";"); idx >= 0 {
		mediaType = strings.TrimSpace(mediaType[:idx])
	}
	isVideoType := strings.HasPrefix(mediaType, "video/")

	if !knownExt && !isVideoType {
		return UploadDecision{Reason: fmt.Sprintf("unsupported media type %q for %q: only video files are accepted", contentType, name)}
	}

	if ext == "" {
		ext = extensionForMediaType(mediaType)
	}
	return UploadDecision{
		Accept:      true,
		Destination: path.Join(videoID, "source"+ext),
	}
}

func extensionForMediaType(mediaType string) string {
	switch mediaType {
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	case "video/x-matroska":
		return ".mkv"
	case "video/x-msvideo":
		return ".avi"
	default:
		return ".mp4"
	}
}
