// Package store holds the shared persistence schema for keys and claims.
package store

import _ "embed"

// Schema is the DDL both Postgres stores expect. Integration tests apply it
// to a fresh database; deployments run it through their migration tooling.
//
//go:embed schema.sql
var Schema string
