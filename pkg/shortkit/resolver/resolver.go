package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shortkit/shortkit/pkg/shortkit/cache"
	"github.com/shortkit/shortkit/pkg/shortkit/models"
	"github.com/shortkit/shortkit/pkg/shortkit/shortcode"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound covers absent, inactive and expired links alike so
	// callers cannot distinguish "never existed" from "expired"
	ErrNotFound     = errors.New("link not found")
	ErrForbidden    = errors.New("not authorized to manage this link")
	ErrInvalidURL   = errors.New("invalid URL format")
	ErrInvalidAlias = errors.New("invalid custom alias format")
	ErrAliasTaken   = errors.New("custom alias already in use")
)

// Resolver orchestrates cache-then-store lookups for the redirect path
// and the write paths used by link management. The store is
// authoritative; the cache is a disposable projection kept consistent
// by explicit invalidation and TTLs aligned to link expiry.
type Resolver struct {
	db    *gorm.DB
	cache *cache.Cache
	codes *shortcode.Generator
	log   *zap.Logger
}

// New creates a resolver over an injected store and cache
func New(db *gorm.DB, c *cache.Cache, codes *shortcode.Generator, log *zap.Logger) *Resolver {
	return &Resolver{db: db, cache: c, codes: codes, log: log}
}

func validURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Resolve maps a short code to its destination URL. Cache hits are
// trusted as-is: expired entries never enter the cache and mutations
// invalidate synchronously, so a hit needs no re-validation. On a miss
// the store decides; a valid record refills the cache fire-and-forget.
func (r *Resolver) Resolve(ctx context.Context, code string) (string, error) {
	if target, ok := r.cache.GetLink(code); ok {
		return target, nil
	}

	var link models.Link
	err := r.db.WithContext(ctx).Where("short_code = ?", code).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load link: %w", err)
	}

	if !link.IsActive || link.IsExpired() {
		return "", ErrNotFound
	}

	go r.cache.PutLink(code, link.OriginalURL, link.ExpiresAt)

	return link.OriginalURL, nil
}

// RecordAccess bumps the authoritative access_count with an atomic
// in-database increment and stamps last_accessed_at, then bumps the
// cache-side counter. It runs after the redirect response is produced
// and never fails the request; store failures are logged, not retried.
func (r *Resolver) RecordAccess(code, clientIP string) {
	res := r.db.Model(&models.Link{}).
		Where("short_code = ?", code).
		Updates(map[string]interface{}{
			"access_count":     gorm.Expr("access_count + 1"),
			"last_accessed_at": time.Now(),
		})
	if res.Error != nil {
		r.log.Warn("access recording failed",
			zap.String("short_code", code),
			zap.String("client_ip", clientIP),
			zap.Error(res.Error))
		return
	}

	r.cache.BumpAccessCount(code)
}

// Create validates, allocates a short code and inserts a new link,
// then populates the cache. The unique constraint on short_code is the
// final arbiter for both custom aliases and generated codes.
func (r *Resolver) Create(ctx context.Context, originalURL string, userID *uint, customAlias string, expiresAt *time.Time) (*models.Link, error) {
	if !validURL(originalURL) {
		return nil, ErrInvalidURL
	}

	newLink := func(code string) *models.Link {
		return &models.Link{
			ID:          uuid.NewString(),
			OriginalURL: originalURL,
			ShortCode:   code,
			CustomAlias: customAlias,
			UserID:      userID,
			ExpiresAt:   expiresAt,
			IsActive:    true,
		}
	}

	if customAlias != "" {
		if !shortcode.ValidateAlias(customAlias) {
			return nil, ErrInvalidAlias
		}
		free, err := r.codes.IsAvailable(ctx, customAlias)
		if err != nil {
			return nil, fmt.Errorf("check alias: %w", err)
		}
		if !free {
			return nil, ErrAliasTaken
		}

		link := newLink(customAlias)
		if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
			// Lost the race between the availability check and the
			// insert: the alias is taken, not a server error
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, ErrAliasTaken
			}
			return nil, fmt.Errorf("create link: %w", err)
		}
		r.cache.PutLink(link.ShortCode, link.OriginalURL, link.ExpiresAt)
		return link, nil
	}

	// Generated path: a duplicate key means another request claimed the
	// same code between the pre-check and the insert, so draw again
	for {
		code, err := r.codes.Generate(ctx)
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}

		link := newLink(code)
		err = r.db.WithContext(ctx).Create(link).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create link: %w", err)
		}

		r.cache.PutLink(link.ShortCode, link.OriginalURL, link.ExpiresAt)
		return link, nil
	}
}

// Get returns link metadata, applying the same active/expiry rules as
// the redirect path
func (r *Resolver) Get(ctx context.Context, code string) (*models.Link, error) {
	link, err := r.load(ctx, code)
	if err != nil {
		return nil, err
	}
	if !link.IsActive || link.IsExpired() {
		return nil, ErrNotFound
	}
	return link, nil
}

func (r *Resolver) load(ctx context.Context, code string) (*models.Link, error) {
	var link models.Link
	err := r.db.WithContext(ctx).Where("short_code = ?", code).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load link: %w", err)
	}
	return &link, nil
}

// authorize enforces ownership: an owned link is managed by its owner
// only, and an anonymous link only by anonymous callers.
func authorize(link *models.Link, userID *uint) error {
	if link.UserID != nil {
		if userID == nil || *userID != *link.UserID {
			return ErrForbidden
		}
		return nil
	}
	if userID != nil {
		return ErrForbidden
	}
	return nil
}

// Update changes the destination URL and/or expiry of a link. The
// cache entry is invalidated before being repopulated so a concurrent
// resolve never observes the old destination after this returns.
func (r *Resolver) Update(ctx context.Context, code string, userID *uint, newURL *string, newExpiresAt *time.Time) (*models.Link, error) {
	link, err := r.load(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := authorize(link, userID); err != nil {
		return nil, err
	}

	// Write only the fields being changed. A full-row save would write
	// back the access_count loaded above and erase any increment that
	// landed in between.
	updates := map[string]interface{}{}
	if newURL != nil {
		if !validURL(*newURL) {
			return nil, ErrInvalidURL
		}
		link.OriginalURL = *newURL
		updates["original_url"] = *newURL
	}
	if newExpiresAt != nil {
		link.ExpiresAt = newExpiresAt
		updates["expires_at"] = newExpiresAt
	}

	if len(updates) > 0 {
		err := r.db.WithContext(ctx).Model(&models.Link{}).
			Where("id = ?", link.ID).
			Updates(updates).Error
		if err != nil {
			return nil, fmt.Errorf("update link: %w", err)
		}
	}

	r.cache.Invalidate(code)
	r.cache.PutLink(code, link.OriginalURL, link.ExpiresAt)

	return link, nil
}

// Delete removes a link on behalf of a caller, subject to the same
// authorization rule as Update
func (r *Resolver) Delete(ctx context.Context, code string, userID *uint) error {
	link, err := r.load(ctx, code)
	if err != nil {
		return err
	}
	if err := authorize(link, userID); err != nil {
		return err
	}
	return r.Remove(ctx, link)
}

// Remove deletes a link from the store and invalidates its cache
// entries. The cleanup sweep goes through this same path so store and
// cache never diverge.
func (r *Resolver) Remove(ctx context.Context, link *models.Link) error {
	if err := r.db.WithContext(ctx).Delete(&models.Link{}, "id = ?", link.ID).Error; err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	r.cache.Invalidate(link.ShortCode)
	return nil
}

// Stats returns the statistics snapshot for a link, served from the
// one-hour cache when possible
func (r *Resolver) Stats(ctx context.Context, code string) (*cache.LinkStats, error) {
	if stats, ok := r.cache.GetStats(code); ok {
		return stats, nil
	}

	link, err := r.load(ctx, code)
	if err != nil {
		return nil, err
	}

	stats := &cache.LinkStats{
		ShortCode:      link.ShortCode,
		OriginalURL:    link.OriginalURL,
		CreatedAt:      link.CreatedAt,
		AccessCount:    link.AccessCount,
		LastAccessedAt: link.LastAccessedAt,
	}
	r.cache.PutStats(code, stats)

	return stats, nil
}

// Search finds links whose destination contains the given fragment,
// optionally restricted to one owner's links
func (r *Resolver) Search(ctx context.Context, urlFragment string, userID *uint) ([]models.Link, error) {
	query := r.db.WithContext(ctx).
		Where("original_url LIKE ?", "%"+urlFragment+"%").
		Order("created_at DESC")
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}

	var links []models.Link
	if err := query.Find(&links).Error; err != nil {
		return nil, fmt.Errorf("search links: %w", err)
	}
	return links, nil
}
