// Command rotate-edge-key mints a replacement API key for an edge server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"edgeriver/internal/storage"
)

func main() {
	var (
		jsonPath    string
		postgresDSN string
		edgeID      string
		edgeName    string
	)

	flag.StringVar(&jsonPath, "json", "", "Path to the JSON datastore (store.json)")
	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&edgeID, "id", "", "ID of the edge server to rotate")
	flag.StringVar(&edgeName, "name", "", "Name of the edge server to rotate (alternative to --id)")
	flag.Parse()

	if jsonPath == "" && postgresDSN == "" {
		fatalf("either --json or --postgres-dsn must be provided")
	}
	if jsonPath != "" && postgresDSN != "" {
		fatalf("only one datastore option may be provided")
	}
	if strings.TrimSpace(edgeID) == "" && strings.TrimSpace(edgeName) == "" {
		fatalf("either --id or --name is required")
	}

	repo, err := openRepository(jsonPath, postgresDSN)
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer closeRepository(repo)

	id := strings.TrimSpace(edgeID)
	if id == "" {
		id, err = findByName(repo, strings.TrimSpace(edgeName))
		if err != nil {
			fatalf("%v", err)
		}
	}

	server, rawKey, err := repo.RotateEdgeServerAPIKey(id)
	if err != nil {
		fatalf("rotate key: %v", err)
	}

	fmt.Printf("Rotated API key for edge server %s (%s).\n", server.Name, server.ID)
	fmt.Printf("New key: %s\n", rawKey)
	fmt.Println("Update the edge node's configuration before the next sync; pushes with the old key now fail.")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openRepository(jsonPath, postgresDSN string) (storage.Repository, error) {
	if jsonPath != "" {
		return storage.NewJSONRepository(jsonPath)
	}
	return storage.NewPostgresRepository(postgresDSN)
}

func closeRepository(repo storage.Repository) {
	type closer interface {
		Close(context.Context) error
	}
	if c, ok := repo.(closer); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	}
}

func findByName(repo storage.Repository, name string) (string, error) {
	var matches []string
	for _, server := range repo.ListEdgeServers() {
		if server.Name == name {
			matches = append(matches, server.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no edge server named %q", name)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("multiple edge servers named %q; use --id", name)
	}
}
