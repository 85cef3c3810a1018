package shortcode

import (
	"context"
	"strings"
	"testing"

	"github.com/shortkit/shortkit/pkg/shortkit/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	models.AutoMigrate(db)
	return db
}

func TestValidateAlias(t *testing.T) {
	valid := []string{"mytest", "my-link", "my_link_2", "abc", strings.Repeat("a", 20)}
	for _, alias := range valid {
		if !ValidateAlias(alias) {
			t.Errorf("Expected %q to be a valid alias", alias)
		}
	}

	invalid := []string{
		"ab",
		strings.Repeat("a", 21),
		"has space",
		"has/slash",
		"emoji🙂",
		"",
	}
	for _, alias := range invalid {
		if ValidateAlias(alias) {
			t.Errorf("Expected %q to be an invalid alias", alias)
		}
	}
}

func TestValidateAliasRejectsReservedWords(t *testing.T) {
	for _, word := range []string{"api", "admin", "auth", "links", "stats", "search", "shorten"} {
		if ValidateAlias(word) {
			t.Errorf("Expected reserved word %q to be rejected", word)
		}
		upper := strings.ToUpper(word)
		if ValidateAlias(upper) {
			t.Errorf("Expected reserved word %q to be rejected case-insensitively", upper)
		}
	}
}

func TestGenerateLengthAndCharset(t *testing.T) {
	db := setupTestDB(t)
	gen := New(db, 6)

	code, err := gen.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(code) != 6 {
		t.Errorf("Expected 6-char code, got %d chars", len(code))
	}
	for _, ch := range code {
		if !strings.ContainsRune(codeCharset, ch) {
			t.Errorf("Code %q contains unexpected character %q", code, ch)
		}
	}
}

func TestGenerateDefaultLength(t *testing.T) {
	db := setupTestDB(t)
	gen := New(db, 0)

	code, err := gen.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(code) != DefaultLength {
		t.Errorf("Expected default length %d, got %d", DefaultLength, len(code))
	}
}

func TestIsAvailable(t *testing.T) {
	db := setupTestDB(t)
	gen := New(db, 6)

	free, err := gen.IsAvailable(context.Background(), "mytest")
	if err != nil {
		t.Fatalf("IsAvailable failed: %v", err)
	}
	if !free {
		t.Error("Expected unused alias to be available")
	}

	link := models.Link{ID: "id-1", OriginalURL: "https://example.com", ShortCode: "mytest", IsActive: true}
	if err := db.Create(&link).Error; err != nil {
		t.Fatalf("Failed to create link: %v", err)
	}

	free, err = gen.IsAvailable(context.Background(), "mytest")
	if err != nil {
		t.Fatalf("IsAvailable failed: %v", err)
	}
	if free {
		t.Error("Expected taken alias to be unavailable")
	}
}

func TestGenerateAvoidsTakenCode(t *testing.T) {
	db := setupTestDB(t)
	gen := New(db, 6)

	code, err := gen.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	link := models.Link{ID: "id-1", OriginalURL: "https://example.com", ShortCode: code, IsActive: true}
	if err := db.Create(&link).Error; err != nil {
		t.Fatalf("Failed to create link: %v", err)
	}

	next, err := gen.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if next == code {
		t.Errorf("Generate returned a code already present in the store: %q", next)
	}
}
