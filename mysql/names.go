package mysql

import (
	"fmt"
	"strings"
)

// maxIdentifierLength is the MySQL limit for database and table names.
const maxIdentifierLength = 64

// sanitizeTableName validates the catalog table name, optionally qualified
// with a database name. Each part must be a plain identifier MySQL accepts
// without quoting.
func sanitizeTableName(name string) (string, error) {
	if name == "" {
		return "", ErrTableNameRequired
	}
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
	}
	for _, part := range parts {
		if part == "" || len(part) > maxIdentifierLength {
			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
		for _, r := range part {
			if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				continue
			}

			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
	}

	return name, nil
}
