package shortcode

import (
	"context"
	"math/rand"
	"regexp"
	"strings"

	"github.com/shortkit/shortkit/pkg/shortkit/models"
	"gorm.io/gorm"
)

const codeCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DefaultLength is the generated code length when none is configured.
// 62^6 gives roughly 56.8 billion combinations.
const DefaultLength = 6

var aliasRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,20}$`)

// reservedAliases are path segments the router owns; a custom alias
// must never shadow them
var reservedAliases = []string{"api", "admin", "auth", "links", "stats", "search", "shorten"}

// Generator produces unique short codes, checking candidates against
// the durable store. The store's unique constraint on short_code is
// the final arbiter; the pre-check here just keeps the insert retry
// loop short.
type Generator struct {
	db     *gorm.DB
	length int
}

// New creates a generator. A non-positive length falls back to DefaultLength.
func New(db *gorm.DB, length int) *Generator {
	if length <= 0 {
		length = DefaultLength
	}
	return &Generator{db: db, length: length}
}

// randomCode draws from the package-level source, which is safe for
// concurrent use by simultaneous create requests
func (g *Generator) randomCode() string {
	b := make([]byte, g.length)
	for i := range b {
		b[i] = codeCharset[rand.Intn(len(codeCharset))]
	}
	return string(b)
}

// Generate returns a short code that is free in the store at the time
// of the check. Collisions are rare but expected as the namespace
// fills, so it keeps drawing until a free code turns up.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	for {
		code := g.randomCode()

		var count int64
		err := g.db.WithContext(ctx).Model(&models.Link{}).
			Where("short_code = ?", code).
			Count(&count).Error
		if err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
	}
}

// IsAvailable checks that no link already uses the alias as its short code
func (g *Generator) IsAvailable(ctx context.Context, alias string) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&models.Link{}).
		Where("short_code = ?", alias).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// ValidateAlias checks a custom alias: 3-20 characters, letters,
// digits, hyphens and underscores only, and not a reserved word.
func ValidateAlias(alias string) bool {
	if !aliasRegex.MatchString(alias) {
		return false
	}
	for _, r := range reservedAliases {
		if strings.EqualFold(alias, r) {
			return false
		}
	}
	return true
}
