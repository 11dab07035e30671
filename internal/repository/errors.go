// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// session manager and the orchestrator to distinguish a missing row from a
// store failure without inspecting driver errors.
package repository

import "errors"

// ErrNotFound is returned when a lookup by primary key matches no live
// row. Handlers translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write cannot proceed because of
// conflicting state, such as banning an email that a live account still
// uses. Handlers translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")
