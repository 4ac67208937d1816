// Package core defines the content-addressed blob store port shared by every
// backend. Blobs are immutable: there is no update or delete.
package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	id "dukcapil/pkg/domain"
)

// Driver identifies a concrete content store backend implementation.
type Driver string

const (
	DriverMemory     Driver = "memory" // in-memory (tests)
	DriverFilesystem Driver = "fs"     // local filesystem (default, dev)
	DriverS3         Driver = "s3"     // S3 / MinIO compatible
	DriverSQLite     Driver = "sqlite" // single-file embedded
)

// Store is a content-addressed blob store.
//
// Put of identical bytes returns the same ContentID and never fails because
// the blob already exists. Get of an unknown ContentID returns an error
// wrapping sentinel.ErrNotFound.
type Store interface {
	Put(ctx context.Context, data []byte) (id.ContentID, error)
	Get(ctx context.Context, cid id.ContentID) ([]byte, error)
	Driver() Driver
}

// ContentIDPrefix tags the digest algorithm inside every ContentID.
const ContentIDPrefix = "sha256-"

// ComputeID derives the ContentID for data.
func ComputeID(data []byte) id.ContentID {
	sum := sha256.Sum256(data)
	return id.ContentID(ContentIDPrefix + hex.EncodeToString(sum[:]))
}
