// Package storage persists the publication schedule, admin settings and the
// operator audit trail.
//
// The schedule and settings are singleton records addressed by a fixed key.
// Backends: file, sqlite, bolt and memory.
package storage
