package web

import (
	"embed"
	"io/fs"
)

// staticFiles bundles the operator console served from the primary node.
//
//go:embed static/*
var staticFiles embed.FS

// Static returns a filesystem rooted at the bundled static assets.
func Static() (fs.FS, error) {
	return fs.Sub(staticFiles, "static")
}
