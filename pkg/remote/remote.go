// Package remote is the shared document tier: per-user and shared
// collections of JSON documents with server-assigned update times and
// optional expiry.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb"
)

// Shared collections.
const (
	CollPlaces       = "places"
	CollPlaceCaches  = "placeCaches"
	CollPlaceDetails = "placeDetails"
	CollRoutes       = "routes"
)

// Per-user sub-collections.
const (
	SubVisitedPlaces   = "visitedPlaces"
	SubSettings        = "settings"
	SubLocationHistory = "locationHistory"
)

// MaxBatch is the most documents one batched write may carry.
const MaxBatch = 500

// ErrBatchTooLarge is returned when a batch exceeds MaxBatch.
var ErrBatchTooLarge = errors.New("remote: batch exceeds write limit")

// Document is one stored record.
type Document struct {
	Collection string
	ID         string
	Data       []byte // JSON
	Lat        float64
	Lon        float64
	HasGeo     bool
	ExpiresAt  time.Time // zero means no expiry
	UpdatedAt  time.Time // assigned by the store
}

// DocumentStore is the remote tier.
type DocumentStore interface {
	// Get returns nil, nil when the document does not exist.
	Get(ctx context.Context, collection, id string) (*Document, error)
	GetMany(ctx context.Context, collection string, ids []string) ([]Document, error)
	Put(ctx context.Context, doc Document) error
	// PutBatch writes all documents or none; at most MaxBatch per call.
	PutBatch(ctx context.Context, docs []Document) error
	Delete(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection string) ([]Document, error)
	// QueryBounds returns documents with a location inside b.
	QueryBounds(ctx context.Context, collection string, b orb.Bound) ([]Document, error)
	// DeleteExpired removes documents whose expiry is at or before now.
	DeleteExpired(ctx context.Context, collection string, now time.Time) (int64, error)
	Close() error
}

// UserCollection returns the path of a per-user sub-collection.
func UserCollection(uid, sub string) string {
	return "users/" + uid + "/" + sub
}

// NewDocument encodes v as the document body.
func NewDocument(collection, id string, v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Document{}, fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	return Document{Collection: collection, ID: id, Data: data}, nil
}

// WithGeo attaches a location used by bounding-box queries.
func (d Document) WithGeo(lat, lon float64) Document {
	d.Lat, d.Lon, d.HasGeo = lat, lon, true
	return d
}

// WithExpiry attaches an explicit expiry.
func (d Document) WithExpiry(t time.Time) Document {
	d.ExpiresAt = t
	return d
}

// Decode unmarshals the document body into dst.
func (d *Document) Decode(dst any) error {
	if err := json.Unmarshal(d.Data, dst); err != nil {
		return fmt.Errorf("decode %s/%s: %w", d.Collection, d.ID, err)
	}
	return nil
}

// Expired reports whether the document carries an expiry at or before now.
func (d *Document) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}

// PutChunked writes docs in batches of at most size (capped at MaxBatch).
// It stops at the first failing batch; earlier batches stay written.
func PutChunked(ctx context.Context, s DocumentStore, docs []Document, size int) error {
	if size <= 0 || size > MaxBatch {
		size = MaxBatch
	}
	for start := 0; start < len(docs); start += size {
		end := min(start+size, len(docs))
		if err := s.PutBatch(ctx, docs[start:end]); err != nil {
			return fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// GetChunked reads ids in batches of at most size.
func GetChunked(ctx context.Context, s DocumentStore, collection string, ids []string, size int) ([]Document, error) {
	if size <= 0 {
		size = len(ids)
	}
	var out []Document
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		docs, err := s.GetMany(ctx, collection, ids[start:end])
		if err != nil {
			return out, err
		}
		out = append(out, docs...)
	}
	return out, nil
}
