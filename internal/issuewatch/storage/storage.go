// Package storage keeps the last issue snapshot of every watched server between runs
package storage

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store handles persistent storage of issue snapshots
type Store struct {
	dataDir string
}

// NewStore creates a new storage instance
func NewStore(dataDir string) *Store {
	return &Store{
		dataDir: dataDir,
	}
}

func (s *Store) ensureDataDir() error {
	return os.MkdirAll(s.dataDir, 0755)
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.-]+`)

// snapshotName derives a file name from the server and user, e.g. ugs.example.com_alice
func snapshotName(apiURL, userName string) string {
	host := apiURL
	if u, err := url.Parse(apiURL); err == nil && u.Host != "" {
		host = u.Host + u.Path
	}
	host = strings.Trim(unsafeChars.ReplaceAllString(host, "-"), "-")
	user := strings.Trim(unsafeChars.ReplaceAllString(strings.ToLower(userName), "-"), "-")
	return host + "_" + user
}

func (s *Store) snapshotFilePath(apiURL, userName string) string {
	return filepath.Join(s.dataDir, snapshotName(apiURL, userName)+".yaml")
}

// SaveSnapshot saves a snapshot, replacing the previous one of the same server and user
func (s *Store) SaveSnapshot(snapshot Snapshot) error {
	if err := s.ensureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := yaml.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := os.WriteFile(s.snapshotFilePath(snapshot.APIURL, snapshot.UserName), data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}

	return nil
}

// LoadSnapshot loads the snapshot of a server and user. It returns nil if there is none.
func (s *Store) LoadSnapshot(apiURL, userName string) (*Snapshot, error) {
	return s.loadFile(s.snapshotFilePath(apiURL, userName))
}

func (s *Store) loadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var snapshot Snapshot
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snapshot, nil
}

// ListSnapshots returns a summary of every stored snapshot
func (s *Store) ListSnapshots() ([]SnapshotListItem, error) {
	if err := s.ensureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	var items []SnapshotListItem
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		snapshot, err := s.loadFile(filepath.Join(s.dataDir, entry.Name()))
		if err != nil || snapshot == nil {
			continue // Skip snapshots that can't be loaded
		}
		items = append(items, SnapshotListItem{
			APIURL:      snapshot.APIURL,
			UserName:    snapshot.UserName,
			LastFetched: snapshot.LastFetched,
			IssueCount:  len(snapshot.Issues),
		})
	}

	return items, nil
}

// DeleteSnapshot removes the snapshot of a server and user
func (s *Store) DeleteSnapshot(apiURL, userName string) error {
	if err := os.Remove(s.snapshotFilePath(apiURL, userName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete snapshot file: %w", err)
	}

	return nil
}

// DataDir returns the data directory path
func (s *Store) DataDir() string {
	return s.dataDir
}
