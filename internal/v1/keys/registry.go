// Package keys implements the API-key registry. Re-registering a key with
// the same tenant leaves its record untouched; a Put for an existing key
// with a different gameId or projectId is not refused and replaces the
// record. Regeneration is a delete followed by an insert of a fresh key.
package keys

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/traybueno/watchtower-api/internal/v1/logging"
	"github.com/traybueno/watchtower-api/internal/v1/store"
)

// KeyPrefix is the required prefix of every public API key.
const KeyPrefix = "wt_"

var (
	// ErrBadFormat indicates an empty key or one missing the wt_ prefix.
	ErrBadFormat = errors.New("keys: api key must start with " + KeyPrefix)
	// ErrMissingField indicates an empty gameId or projectId.
	ErrMissingField = errors.New("keys: gameId and projectId are required")
)

// Record maps an API key to its tenant.
type Record struct {
	GameID    string `json:"gameId"`
	ProjectID string `json:"projectId"`
	CreatedAt int64  `json:"createdAt"`
}

// Registry is the CRUD surface over apikey: records.
type Registry struct {
	store *store.Store
	now   func() time.Time
}

// NewRegistry creates a Registry over the shared store.
func NewRegistry(s *store.Store) *Registry {
	return &Registry{store: s, now: time.Now}
}

// ValidFormat reports whether apiKey is non-empty and carries the wt_ prefix.
func ValidFormat(apiKey string) bool {
	return apiKey != "" && strings.HasPrefix(apiKey, KeyPrefix)
}

// Put stores the mapping. Idempotent under equal input: re-registering the
// same key for the same tenant keeps the original createdAt.
func (r *Registry) Put(ctx context.Context, apiKey, gameID, projectID string) error {
	if !ValidFormat(apiKey) {
		return ErrBadFormat
	}
	if gameID == "" || projectID == "" {
		return ErrMissingField
	}

	rec := Record{
		GameID:    gameID,
		ProjectID: projectID,
		CreatedAt: r.now().UnixMilli(),
	}

	var existing Record
	err := r.store.GetJSON(ctx, store.APIKeyKey(apiKey), &existing)
	switch {
	case err == nil:
		if existing.GameID == gameID && existing.ProjectID == projectID {
			return nil
		}
		rec.CreatedAt = r.now().UnixMilli()
	case errors.Is(err, store.ErrNotFound):
		// fresh key
	default:
		return err
	}

	if err := r.store.SetJSON(ctx, store.APIKeyKey(apiKey), rec); err != nil {
		return err
	}
	logging.Info(ctx, "Registered API key",
		zap.String("api_key", logging.RedactKey(apiKey)),
		zap.String("game_id", gameID),
		zap.String("project_id", projectID))
	return nil
}

// Delete removes the mapping. A no-op if the key is absent.
func (r *Registry) Delete(ctx context.Context, apiKey string) error {
	if !ValidFormat(apiKey) {
		return ErrBadFormat
	}
	if err := r.store.Delete(ctx, store.APIKeyKey(apiKey)); err != nil {
		return err
	}
	logging.Info(ctx, "Revoked API key", zap.String("api_key", logging.RedactKey(apiKey)))
	return nil
}

// Get returns the record for apiKey, and whether it exists.
func (r *Registry) Get(ctx context.Context, apiKey string) (Record, bool, error) {
	var rec Record
	err := r.store.GetJSON(ctx, store.APIKeyKey(apiKey), &rec)
	if errors.Is(err, store.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}
