// Package storage defines the result store used to persist visualization
// runs, their scripts and artifacts, and user ratings.
//
// Implementations live in the memory and postgres subpackages. This
// package holds the Store interface, list types, sentinel errors and the
// tenant context helpers shared by both.
package storage
