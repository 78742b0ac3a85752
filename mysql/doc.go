// Package mysql provides a MySQL 8.0+ catalog backend for mailqueue stores.
//
// Each store keeps one row keyed by its store key, holding the JSON encoded
// queue states. Saves are a single upsert so readers never observe a partial
// catalog. Envelope and body files stay on the local filesystem.
//
// See Schema for the table definition and Catalog.EnsureSchema to create it.
package mysql
