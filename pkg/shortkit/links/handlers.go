package links

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shortkit/shortkit/pkg/shortkit/auth"
	"github.com/shortkit/shortkit/pkg/shortkit/config"
	"github.com/shortkit/shortkit/pkg/shortkit/models"
	"github.com/shortkit/shortkit/pkg/shortkit/resolver"
)

// Handler handles link management requests
type Handler struct {
	resolver *resolver.Resolver
	cfg      *config.Config
}

// NewHandler creates a new links handler
func NewHandler(r *resolver.Resolver, cfg *config.Config) *Handler {
	return &Handler{resolver: r, cfg: cfg}
}

// CreateLinkRequest represents the request to shorten a URL
type CreateLinkRequest struct {
	OriginalURL string     `json:"original_url" binding:"required"`
	CustomAlias string     `json:"custom_alias"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// UpdateLinkRequest represents the request to update a link
type UpdateLinkRequest struct {
	OriginalURL *string    `json:"original_url"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// LinkResponse represents a link in API responses
type LinkResponse struct {
	ID             string     `json:"id"`
	ShortCode      string     `json:"short_code"`
	ShortURL       string     `json:"short_url"`
	OriginalURL    string     `json:"original_url"`
	CustomAlias    string     `json:"custom_alias,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	AccessCount    uint       `json:"access_count"`
	IsActive       bool       `json:"is_active"`
}

func (h *Handler) linkToResponse(link *models.Link) LinkResponse {
	return LinkResponse{
		ID:             link.ID,
		ShortCode:      link.ShortCode,
		ShortURL:       h.cfg.ShortURL(link.ShortCode),
		OriginalURL:    link.OriginalURL,
		CustomAlias:    link.CustomAlias,
		CreatedAt:      link.CreatedAt,
		ExpiresAt:      link.ExpiresAt,
		LastAccessedAt: link.LastAccessedAt,
		AccessCount:    link.AccessCount,
		IsActive:       link.IsActive,
	}
}

// writeError maps resolver errors onto HTTP status codes
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, resolver.ErrInvalidURL), errors.Is(err, resolver.ErrInvalidAlias):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, resolver.ErrAliasTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, resolver.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Link not found"})
	case errors.Is(err, resolver.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized to manage this link"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// Shorten creates a new short link. Authentication is optional: an
// anonymous caller creates an ownerless link.
func (h *Handler) Shorten(c *gin.Context) {
	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	link, err := h.resolver.Create(c.Request.Context(), req.OriginalURL, auth.CallerID(c), req.CustomAlias, req.ExpiresAt)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, h.linkToResponse(link))
}

// Get returns information about a short link
func (h *Handler) Get(c *gin.Context) {
	link, err := h.resolver.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.linkToResponse(link))
}

// Update modifies a link's destination URL and/or expiry
func (h *Handler) Update(c *gin.Context) {
	var req UpdateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	link, err := h.resolver.Update(c.Request.Context(), c.Param("code"), auth.CallerID(c), req.OriginalURL, req.ExpiresAt)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.linkToResponse(link))
}

// Delete removes a link
func (h *Handler) Delete(c *gin.Context) {
	if err := h.resolver.Delete(c.Request.Context(), c.Param("code"), auth.CallerID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Link deleted successfully"})
}

// Stats returns the statistics snapshot for a link
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.resolver.Stats(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Search finds links by a fragment of their destination URL. An
// authenticated caller searches only their own links.
func (h *Handler) Search(c *gin.Context) {
	fragment := c.Query("original_url")
	if fragment == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "original_url query parameter is required"})
		return
	}

	found, err := h.resolver.Search(c.Request.Context(), fragment, auth.CallerID(c))
	if err != nil {
		writeError(c, err)
		return
	}

	responses := make([]LinkResponse, len(found))
	for i := range found {
		responses[i] = h.linkToResponse(&found[i])
	}
	c.JSON(http.StatusOK, gin.H{"links": responses})
}

// RegisterRoutes registers link management routes. The group is
// expected to carry OptionalAuth so anonymous link management works.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/shorten", h.Shorten)
	rg.GET("/links/:code", h.Get)
	rg.PUT("/links/:code", h.Update)
	rg.DELETE("/links/:code", h.Delete)
	rg.GET("/links/:code/stats", h.Stats)
	rg.GET("/search", h.Search)
}
