package mysql

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeTableName(t *testing.T) {
	valid := []string{"mailqueue_catalog", "mail.mailqueue_catalog", "CATALOG_1"}
	for _, name := range valid {
		if _, err := sanitizeTableName(name); err != nil {
			t.Fatalf("expected valid name %q: %v", name, err)
		}
	}

	invalid := []string{"catalog;drop", "catalog-1", "mail..catalog", "mail.catalog;", "a.b.catalog"}
	for _, name := range invalid {
		if _, err := sanitizeTableName(name); !errors.Is(err, ErrInvalidTableName) {
			t.Fatalf("expected ErrInvalidTableName for %q, got %v", name, err)
		}
	}

	if _, err := sanitizeTableName(""); !errors.Is(err, ErrTableNameRequired) {
		t.Fatalf("expected ErrTableNameRequired, got %v", err)
	}
}

func TestSanitizeTableName_IdentifierLength(t *testing.T) {
	longest := strings.Repeat("c", maxIdentifierLength)
	for _, name := range []string{longest, longest + "." + longest} {
		if _, err := sanitizeTableName(name); err != nil {
			t.Fatalf("expected %d characters to be accepted: %v", maxIdentifierLength, err)
		}
	}

	tooLong := strings.Repeat("c", maxIdentifierLength+1)
	for _, name := range []string{tooLong, "mail." + tooLong, tooLong + ".catalog"} {
		if _, err := sanitizeTableName(name); !errors.Is(err, ErrInvalidTableName) {
			t.Fatalf("expected ErrInvalidTableName for %d characters, got %v", len(name), err)
		}
	}
}
