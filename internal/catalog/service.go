package catalog

import (
	"context"
	"time"

	"github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"github.com/skiff-browser/exthost/internal/infrastructure/monitoring"
	"github.com/skiff-browser/exthost/internal/logging"
	"github.com/skiff-browser/exthost/internal/shared/id"
)

// SnippetView is a catalog entry decorated with local cache state.
type SnippetView struct {
	RemoteSnippet
	Cached  bool  `json:"cached"`
	Enabled *bool `json:"enabled,omitempty"`
}

// Service combines the remote client and the local cache behind the
// operations the API exposes. Metrics may be nil.
type Service struct {
	client  *Client
	cache   *Cache
	metrics *monitoring.Metrics
	log     *logging.Logger
}

// NewService creates a catalog service. client may be nil when no
// catalog URL is configured; cached snippets still work offline.
func NewService(client *Client, cache *Cache, metrics *monitoring.Metrics, log *logging.Logger) *Service {
	return &Service{client: client, cache: cache, metrics: metrics, log: log}
}

// List returns the remote catalog decorated with cache state. When the
// remote is unreachable or unconfigured it degrades to the cached
// entries so the browser keeps working offline.
func (s *Service) List(ctx context.Context) ([]SnippetView, error) {
	cached, err := s.cache.List(ctx)
	if err != nil {
		return nil, err
	}
	byRemoteID := make(map[int64]*CachedSnippet, len(cached))
	for _, snip := range cached {
		byRemoteID[snip.RemoteID] = snip
	}

	if s.client == nil {
		return viewsFromCache(cached), nil
	}

	remote, err := s.client.List(ctx)
	if err != nil {
		s.log.Warn("remote catalog unreachable, serving cached snippets", zap.Error(err))
		return viewsFromCache(cached), nil
	}

	views := make([]SnippetView, 0, len(remote))
	for _, rs := range remote {
		view := SnippetView{RemoteSnippet: rs}
		if snip, ok := byRemoteID[rs.ID]; ok {
			view.Cached = true
			enabled := snip.Enabled
			view.Enabled = &enabled
		}
		views = append(views, view)
	}
	return views, nil
}

func viewsFromCache(cached []*CachedSnippet) []SnippetView {
	views := make([]SnippetView, 0, len(cached))
	for _, snip := range cached {
		enabled := snip.Enabled
		views = append(views, SnippetView{
			RemoteSnippet: RemoteSnippet{
				ID:          snip.RemoteID,
				Name:        snip.Name,
				Description: snip.Description,
				Downloads:   snip.Downloads,
			},
			Cached:  true,
			Enabled: &enabled,
		})
	}
	return views
}

// Fetch downloads a snippet and caches it. A first fetch enables the
// snippet; re-fetching refreshes the payload without touching the
// user's toggle.
func (s *Service) Fetch(ctx context.Context, remoteID int64) (*CachedSnippet, error) {
	snip, err := s.fetch(ctx, remoteID)
	if s.metrics != nil {
		if err != nil {
			s.metrics.RecordCatalogFetch("failure")
		} else {
			s.metrics.RecordCatalogFetch("success")
		}
	}
	return snip, err
}

func (s *Service) fetch(ctx context.Context, remoteID int64) (*CachedSnippet, error) {
	if s.client == nil {
		return nil, errors.New(errors.CodeUnavailable, "no remote catalog configured")
	}

	meta, err := s.client.Get(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	script, err := s.client.FetchScript(ctx, remoteID)
	if err != nil {
		return nil, err
	}

	// The counter is advisory; the remote losing one bump is fine.
	if err := s.client.IncrementDownload(ctx, remoteID); err != nil {
		s.log.Warn("failed to increment snippet download counter",
			zap.Int64("remote_id", remoteID), zap.Error(err))
	}

	snip := &CachedSnippet{
		Key:         id.SnippetKeyFor(remoteID).String(),
		RemoteID:    remoteID,
		Name:        meta.Name,
		Description: meta.Description,
		Script:      script,
		Enabled:     true,
		Downloads:   meta.Downloads,
		FetchedAt:   time.Now().UTC(),
	}
	if err := s.cache.Put(ctx, snip); err != nil {
		return nil, err
	}

	s.log.Info("snippet cached",
		zap.Int64("remote_id", remoteID),
		zap.String("snippet_key", snip.Key),
		zap.String("name", snip.Name))
	return s.cache.Get(ctx, snip.Key)
}

// Toggle flips a cached snippet's enabled flag and returns the updated
// record without its script.
func (s *Service) Toggle(ctx context.Context, remoteID int64) (*CachedSnippet, error) {
	key := id.SnippetKeyFor(remoteID).String()
	snip, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetEnabled(ctx, key, !snip.Enabled); err != nil {
		return nil, err
	}
	snip.Enabled = !snip.Enabled
	snip.Script = ""

	s.log.Info("snippet toggled",
		zap.String("snippet_key", key),
		zap.Bool("enabled", snip.Enabled))
	return snip, nil
}

// Script returns the script body of a cached snippet. Disabled
// snippets are refused, matching the registry's serving contract.
func (s *Service) Script(ctx context.Context, remoteID int64) (string, error) {
	snip, err := s.cache.Get(ctx, id.SnippetKeyFor(remoteID).String())
	if err != nil {
		return "", err
	}
	if !snip.Enabled {
		return "", errors.WithContext(
			errors.New(errors.CodeConflict, "snippet is disabled"),
			"snippet_key", snip.Key)
	}
	return snip.Script, nil
}
