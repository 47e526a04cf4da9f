package hub

import (
	"os"
	"path/filepath"
	"strings"
)

// Environment variables that locate the local cache, in lookup order.
const (
	EnvHubCache = "HF_HUB_CACHE"
	EnvHome     = "HF_HOME"
	EnvXDGCache = "XDG_CACHE_HOME"
)

// DefaultCacheDir returns the hub cache shared with huggingface_hub.
func DefaultCacheDir() string {
	if dir := os.Getenv(EnvHubCache); dir != "" {
		return dir
	}
	if home := os.Getenv(EnvHome); home != "" {
		return filepath.Join(home, "hub")
	}
	if xdg := os.Getenv(EnvXDGCache); xdg != "" {
		return filepath.Join(xdg, "huggingface", "hub")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "huggingface", "hub")
	}
	return filepath.Join(".cache", "huggingface", "hub")
}

// RepoFolderName maps "org/name" to "models--org--name".
func RepoFolderName(modelID string) string {
	return "models--" + strings.ReplaceAll(modelID, "/", "--")
}

// repoDir is the cache folder of one model repository.
func repoDir(cacheDir, modelID string) string {
	return filepath.Join(cacheDir, RepoFolderName(modelID))
}

// refPath holds the commit a revision name resolved to.
func refPath(cacheDir, modelID, revision string) string {
	return filepath.Join(repoDir(cacheDir, modelID), "refs", revision)
}

// SnapshotDir is the directory of one commit's files.
func SnapshotDir(cacheDir, modelID, commit string) string {
	return filepath.Join(repoDir(cacheDir, modelID), "snapshots", commit)
}

// LocalSnapshot returns the snapshot directory for revision if a complete
// download was recorded. A revision that is itself a commit hash is looked up
// directly.
func LocalSnapshot(cacheDir, modelID, revision string) (string, bool) {
	commit := revision
	if data, err := os.ReadFile(refPath(cacheDir, modelID, revision)); err == nil {
		commit = strings.TrimSpace(string(data))
	} else if !isCommitHash(revision) {
		return "", false
	}

	dir := SnapshotDir(cacheDir, modelID, commit)
	if _, err := os.Stat(filepath.Join(dir, completeMarker)); err != nil {
		return "", false
	}
	return dir, true
}

// completeMarker is written into a snapshot once every file is present.
const completeMarker = ".zimage-complete"

func isCommitHash(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}
