// Package hosting manages the subdomain records that co-tenant the shared
// namespace (project:<id>:subdomain and subdomain:<name>). File serving
// itself lives elsewhere; this package only owns the mapping.
package hosting

import (
	"context"
	"errors"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/traybueno/watchtower-api/internal/v1/logging"
	"github.com/traybueno/watchtower-api/internal/v1/store"
)

var (
	// ErrInvalidSubdomain indicates a name outside the DNS-label shape.
	ErrInvalidSubdomain = errors.New("hosting: invalid subdomain")
	// ErrSubdomainTaken indicates the name belongs to another project.
	ErrSubdomainTaken = errors.New("hosting: subdomain already claimed")
)

var subdomainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// Registry owns the bidirectional subdomain mapping.
type Registry struct {
	store *store.Store
}

// NewRegistry creates a subdomain Registry over the shared store.
func NewRegistry(s *store.Store) *Registry {
	return &Registry{store: s}
}

// Claim binds subdomain to projectID, releasing the project's previous name.
// Claiming a name held by a different project fails with ErrSubdomainTaken.
func (r *Registry) Claim(ctx context.Context, projectID, subdomain string) error {
	if !subdomainPattern.MatchString(subdomain) {
		return ErrInvalidSubdomain
	}

	var holder string
	err := r.store.GetJSON(ctx, store.SubdomainKey(subdomain), &holder)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if holder != "" && holder != projectID {
		return ErrSubdomainTaken
	}

	var previous string
	err = r.store.GetJSON(ctx, store.ProjectSubdomainKey(projectID), &previous)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if previous != "" && previous != subdomain {
		if err := r.store.Delete(ctx, store.SubdomainKey(previous)); err != nil {
			return err
		}
	}

	if err := r.store.SetJSON(ctx, store.SubdomainKey(subdomain), projectID); err != nil {
		return err
	}
	return r.store.SetJSON(ctx, store.ProjectSubdomainKey(projectID), subdomain)
}

// Resolve returns the project holding subdomain, and whether it exists.
func (r *Registry) Resolve(ctx context.Context, subdomain string) (string, bool, error) {
	var projectID string
	err := r.store.GetJSON(ctx, store.SubdomainKey(subdomain), &projectID)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return projectID, true, nil
}

// Release drops both directions of the project's mapping. Idempotent.
func (r *Registry) Release(ctx context.Context, projectID string) error {
	var subdomain string
	err := r.store.GetJSON(ctx, store.ProjectSubdomainKey(projectID), &subdomain)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.store.Delete(ctx, store.SubdomainKey(subdomain), store.ProjectSubdomainKey(projectID))
}

// Handler exposes the subdomain admin plane behind the internal gate.
type Handler struct {
	registry *Registry
}

// NewHandler creates a hosting Handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// Register mounts the admin routes on the given group.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.POST("/subdomains", h.Claim)
	g.GET("/subdomains/:subdomain", h.Resolve)
	g.DELETE("/subdomains/:projectId", h.Release)
}

type claimRequest struct {
	ProjectID string `json:"projectId"`
	Subdomain string `json:"subdomain"`
}

// Claim handles POST /internal/subdomains.
func (h *Handler) Claim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ProjectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadJSON"})
		return
	}

	err := h.registry.Claim(c.Request.Context(), req.ProjectID, req.Subdomain)
	switch {
	case errors.Is(err, ErrInvalidSubdomain):
		c.JSON(http.StatusBadRequest, gin.H{"error": "InvalidSubdomain"})
	case errors.Is(err, ErrSubdomainTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "SubdomainTaken"})
	case err != nil:
		logging.Error(c.Request.Context(), "Failed to claim subdomain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal"})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "subdomain": req.Subdomain})
	}
}

// Resolve handles GET /internal/subdomains/:subdomain.
func (h *Handler) Resolve(c *gin.Context) {
	projectID, ok, err := h.registry.Resolve(c.Request.Context(), c.Param("subdomain"))
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to resolve subdomain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "SubdomainNotFound"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"projectId": projectID})
}

// Release handles DELETE /internal/subdomains/:projectId.
func (h *Handler) Release(c *gin.Context) {
	if err := h.registry.Release(c.Request.Context(), c.Param("projectId")); err != nil {
		logging.Error(c.Request.Context(), "Failed to release subdomain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
