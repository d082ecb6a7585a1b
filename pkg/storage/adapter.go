// Package storage implements the storage primitive protocol (spec §4.1,
// component C1): put/get/delete/list over a keyed namespace, with
// variants for an in-process memory store, the local filesystem, and
// S3-compatible object storage. Base Storage (pkg/base) is the main
// consumer; pkg/wal, pkg/cow and pkg/version also read and write their
// own objects through an Adapter directly.
package storage

import "context"

// Adapter is the storage primitive protocol every backend implements.
// Modeled on the minimal Store interface in johnjansen-torua's
// internal/storage package, generalized with pagination and a
// durability-class hint.
type Adapter interface {
	// WriteObject durably replaces the bytes at path.
	WriteObject(ctx context.Context, path string, data []byte) error
	// ReadObject returns the bytes at path, or a NotFound error if
	// absent.
	ReadObject(ctx context.Context, path string) ([]byte, error)
	// DeleteObject removes path. Idempotent: deleting an absent key is
	// not an error.
	DeleteObject(ctx context.Context, path string) error
	// List returns up to limit keys under prefix, a hasMore flag, and an
	// opaque cursor for the next page. The cursor's encoding is up to
	// the adapter (offset, marker, or continuation token) but must be
	// stable for a given prefix.
	List(ctx context.Context, prefix string, limit int, cursor string) (keys []string, hasMore bool, nextCursor string, err error)
	// ReadOnly reports whether mutating calls should be refused by the
	// caller (spec §4.1: "Adapters may advertise a read-only flag").
	ReadOnly() bool
	// Class reports the adapter's durability class, used by callers
	// (WAL rotation size, checkpoint interval) to pick storage-aware
	// defaults (spec §4.5).
	Class() Class
}

// Appender is the optional SystemOps capability for adapters that can
// append without a read-modify-write round trip (spec §4.1).
type Appender interface {
	Append(ctx context.Context, path string, data []byte) error
}

// Class distinguishes the durability/latency tier an adapter belongs to,
// used to pick storage-class-aware defaults (WAL rotation size,
// checkpoint cadence, per spec §4.5).
type Class int

const (
	// ClassMemory is the in-process store: no durability, no checkpoints.
	ClassMemory Class = iota
	// ClassLocal is the local filesystem: durable, fast.
	ClassLocal
	// ClassCloud is an S3-compatible object store: durable, higher
	// latency, billed per request.
	ClassCloud
)
