// Package service runs one-shot issue queries for the command line and keeps their history
package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/petr-muller/ugs/internal/issuewatch/api"
	"github.com/petr-muller/ugs/internal/issuewatch/compare"
	"github.com/petr-muller/ugs/internal/issuewatch/model"
	"github.com/petr-muller/ugs/internal/issuewatch/storage"
)

// Lister lists issues of one issue service
type Lister interface {
	BaseURL() string
	ListIssues(ctx context.Context, opts api.ListOptions) ([]model.IssueData, error)
}

// Service orchestrates the snapshot functionality
type Service struct {
	client Lister
	store  *storage.Store
	now    func() time.Time
}

// NewService creates a new service instance
func NewService(client Lister, dataDir string) *Service {
	return &Service{
		client: client,
		store:  storage.NewStore(dataDir),
		now:    time.Now,
	}
}

// Result is the current issue set and how it differs from the previous run
type Result struct {
	Issues []model.IssueData
	// PreviousFetch is when the previous snapshot was taken, zero on the first run
	PreviousFetch time.Time
	compare.Result
}

// SnapshotOptions contains options for taking a snapshot
type SnapshotOptions struct {
	UserName string
	// Resolved adds a page of this many recently resolved issues, zero for none
	Resolved int
}

// Snapshot fetches the current issues, compares them with the stored snapshot of the same
// server and user and stores them as the new snapshot
func (s *Service) Snapshot(ctx context.Context, opts SnapshotOptions) (*Result, error) {
	apiURL := s.client.BaseURL()

	existing, err := s.store.LoadSnapshot(apiURL, opts.UserName)
	if err != nil {
		return nil, fmt.Errorf("failed to load previous snapshot: %w", err)
	}

	current, err := s.client.ListIssues(ctx, api.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	if opts.Resolved > 0 {
		resolved, err := s.client.ListIssues(ctx, api.ListOptions{IncludeResolved: true, MaxResults: opts.Resolved})
		if err != nil {
			return nil, fmt.Errorf("failed to list resolved issues: %w", err)
		}
		current = merge(current, resolved)
	}

	var previous []model.IssueData
	result := &Result{Issues: current}
	if existing != nil {
		previous = storage.ToIssues(existing.Issues)
		result.PreviousFetch = existing.LastFetched
	}
	result.Result = compare.Issues(current, previous)

	snapshot := storage.Snapshot{
		APIURL:      apiURL,
		UserName:    opts.UserName,
		LastFetched: s.now(),
		Issues:      storage.FromIssues(current),
	}
	if err := s.store.SaveSnapshot(snapshot); err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}

	return result, nil
}

// ListSnapshots returns all stored snapshots
func (s *Service) ListSnapshots() ([]storage.SnapshotListItem, error) {
	return s.store.ListSnapshots()
}

// ForgetSnapshot removes the stored snapshot of userName on this service
func (s *Service) ForgetSnapshot(userName string) error {
	return s.store.DeleteSnapshot(s.client.BaseURL(), userName)
}

// merge combines open and resolved issues by id, preferring the open ones
func merge(open, resolved []model.IssueData) []model.IssueData {
	byID := make(map[int]model.IssueData, len(open)+len(resolved))
	for _, issue := range resolved {
		byID[issue.ID] = issue
	}
	for _, issue := range open {
		byID[issue.ID] = issue
	}

	merged := make([]model.IssueData, 0, len(byID))
	for _, issue := range byID {
		merged = append(merged, issue)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].ID < merged[j].ID
	})
	return merged
}
