package redirect

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shortkit/shortkit/pkg/shortkit/resolver"
	"go.uber.org/zap"
)

// Handler handles short URL redirects
type Handler struct {
	resolver *resolver.Resolver
	log      *zap.Logger
}

// NewHandler creates a new redirect handler
func NewHandler(r *resolver.Resolver, log *zap.Logger) *Handler {
	return &Handler{resolver: r, log: log}
}

// Redirect resolves a short code and issues a temporary redirect.
// 302 keeps clients re-resolving, so expiry and destination changes
// stay effective. Access recording runs after the response and never
// blocks the redirect.
func (h *Handler) Redirect(c *gin.Context) {
	code := c.Param("code")

	target, err := h.resolver.Resolve(c.Request.Context(), code)
	if err != nil {
		if errors.Is(err, resolver.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Link not found"})
			return
		}
		h.log.Error("resolve failed", zap.String("short_code", code), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	clientIP := c.ClientIP()
	go h.resolver.RecordAccess(code, clientIP)

	c.Redirect(http.StatusFound, target)
}

// RegisterRoutes registers the redirect route on the root router.
// This must be called AFTER all other routes to avoid conflicts.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/:code", h.Redirect)
}
