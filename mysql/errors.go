package mysql

import "errors"

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("mailqueue mysql: db is required")
	// ErrTableNameRequired is returned when the table name is empty.
	ErrTableNameRequired = errors.New("mailqueue mysql: table name is required")
	// ErrInvalidTableName is returned when the table name has disallowed characters
	// or a part longer than 64 characters.
	ErrInvalidTableName = errors.New("mailqueue mysql: invalid table name")
	// ErrInvalidStoreKey is returned when the store key does not fit the key column.
	ErrInvalidStoreKey = errors.New("mailqueue mysql: invalid store key")
)
