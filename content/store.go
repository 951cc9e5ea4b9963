// Package content implements the content-addressed blob store described in
// spec.md §4.2: write(bytes) -> (hash, size), try_read_as[T](hash), and
// read_many_as[T](hashes), backed by a durable relational tier with a fast
// cache tier in front (content/layercache.go).
//
// Grounded on db/state_store.go's pgx/v5 pool usage and db/dragonflydb.go's
// redis-compatible fast tier, retargeted from action-execution rows to
// content-addressed blobs.
package content

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zeebo/blake3"

	"github.com/systeminit/workspace-engine/errs"
	"github.com/systeminit/workspace-engine/snapshot"
)

// Envelope is the versioned wrapper every stored blob carries, per spec.md
// §4.2: "try_read_as deserializes using a versioned content envelope
// (Content::V1(...), Content::V2(...) ...); older variants are upgraded on
// read by the owning type."
type Envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// Upgrader converts an older envelope version's raw data into the current
// version's shape. Callers that care about backward compatibility register
// one per type; Store.TryReadAs applies it before unmarshaling into T.
type Upgrader func(version int, data json.RawMessage) (json.RawMessage, error)

// Store is the durable content-addressed blob store. Writes are idempotent
// by hash; deletes are never exposed here, per spec.md §4.2 — garbage
// collection is an external reachability sweep.
type Store struct {
	pool  *pgxpool.Pool
	cache *LayerCache
}

// NewStore wires a durable pool and an optional fast-tier cache (nil
// disables caching, used in tests against a bare postgres).
func NewStore(pool *pgxpool.Pool, cache *LayerCache) *Store {
	return &Store{pool: pool, cache: cache}
}

// hashBytes returns the blake3-class content hash of b, hex-encoded, per
// spec.md §4.2's "fixed-width, collision-resistant (blake3-class)"
// requirement — the same algorithm snapshot/merkle.go uses for subtree
// hashes, so a node's ContentHash and its blob's address are comparable.
func hashBytes(b []byte) snapshot.ContentHash {
	sum := blake3.Sum256(b)
	return snapshot.ContentHash(hex.EncodeToString(sum[:]))
}

// Write stores b under its content hash, wrapped in the current envelope
// version, and returns (hash, size). Writing the same bytes twice is a
// no-op the second time: per spec.md §4.2, "writes are idempotent by hash."
func (s *Store) Write(ctx context.Context, version int, b []byte) (snapshot.ContentHash, int, error) {
	hash := hashBytes(b)

	env := Envelope{Version: version, Data: json.RawMessage(b)}
	encoded, err := json.Marshal(env)
	if err != nil {
		return "", 0, fmt.Errorf("encode envelope: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO content_blobs (hash, body, size)
		VALUES ($1, $2, $3)
		ON CONFLICT (hash) DO NOTHING`,
		string(hash), encoded, len(b))
	if err != nil {
		return "", 0, fmt.Errorf("write content %s: %w", hash, err)
	}

	if s.cache != nil {
		s.cache.Put(ctx, hash, encoded)
	}

	return hash, len(b), nil
}

// TryReadAs reads the blob at hash and unmarshals its current-version data
// into a T, running upgrade first if the stored envelope is an older
// version. Returns *errs.MissingContentFromStore if the hash is unknown.
func TryReadAs[T any](ctx context.Context, s *Store, hash snapshot.ContentHash, currentVersion int, upgrade Upgrader) (*T, error) {
	raw, err := s.readEnvelope(ctx, hash)
	if err != nil {
		return nil, err
	}

	data := raw.Data
	if raw.Version != currentVersion {
		if upgrade == nil {
			return nil, errs.NewInvariantViolation(fmt.Sprintf("content %s is version %d with no upgrader to %d", hash, raw.Version, currentVersion))
		}
		data, err = upgrade(raw.Version, raw.Data)
		if err != nil {
			return nil, fmt.Errorf("upgrade content %s from v%d: %w", hash, raw.Version, err)
		}
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode content %s: %w", hash, err)
	}
	return &out, nil
}

// ReadManyAs reads every hash in hashes, returning a map from hash to
// decoded value. A hash absent from the result was not found in the store;
// callers that require completeness should compare len(result) to
// len(hashes).
func ReadManyAs[T any](ctx context.Context, s *Store, hashes []snapshot.ContentHash, currentVersion int, upgrade Upgrader) (map[snapshot.ContentHash]T, error) {
	out := make(map[snapshot.ContentHash]T, len(hashes))
	for _, h := range hashes {
		v, err := TryReadAs[T](ctx, s, h, currentVersion, upgrade)
		if err != nil {
			if _, ok := err.(*errs.MissingContentFromStore); ok {
				continue
			}
			return nil, err
		}
		out[h] = *v
	}
	return out, nil
}

func (s *Store) readEnvelope(ctx context.Context, hash snapshot.ContentHash) (*Envelope, error) {
	if s.cache != nil {
		if encoded, ok := s.cache.Get(ctx, hash); ok {
			var env Envelope
			if err := json.Unmarshal(encoded, &env); err == nil {
				return &env, nil
			}
		}
	}

	var encoded []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM content_blobs WHERE hash = $1`, string(hash)).Scan(&encoded)
	if err != nil {
		return nil, errs.NewMissingContentFromStore(string(hash))
	}

	if s.cache != nil {
		s.cache.Put(ctx, hash, encoded)
	}

	var env Envelope
	if err := json.Unmarshal(encoded, &env); err != nil {
		return nil, fmt.Errorf("decode envelope for %s: %w", hash, err)
	}
	return &env, nil
}
