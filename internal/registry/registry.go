// Package registry is the tenant-independent content registry and the
// per-tenant library view over it. Assets are shared rows keyed by
// source identity; a tenant only ever owns a reference. Garbage
// collection of unreferenced assets lives here too, since reference
// counting is this package's invariant to protect.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/R005ter/fwp/database"
	"github.com/R005ter/fwp/internal/blob"
)

type Registry struct {
	db *database.Database
	// media is the local directory artifacts land in; always present.
	media *blob.LocalStore
	// remote is the optional object store; nil in local-only deployments.
	remote blob.Store
	log    *zap.SugaredLogger
}

func New(db *database.Database, media *blob.LocalStore, remote blob.Store) *Registry {
	return &Registry{
		db:     db,
		media:  media,
		remote: remote,
		log:    zap.S().Named("registry"),
	}
}

// FindBySource returns the asset registered for a source identity, or
// nil. No side effects.
func (r *Registry) FindBySource(sourceIdentity string) (*database.Asset, error) {
	return r.db.GetAssetBySource(sourceIdentity)
}

// FindByStorageKey returns the asset owning a storage key, or nil.
func (r *Registry) FindByStorageKey(storageKey string) (*database.Asset, error) {
	return r.db.GetAssetByStorageKey(storageKey)
}

// Register records an acquired artifact. Idempotent: registering a
// storage key (or source identity) that already has a row returns the
// existing row, because the artifact a concurrent job produced is
// exactly the one this job wanted.
func (r *Registry) Register(storageKey, sourceIdentity, title string, byteSize int64) (*database.Asset, error) {
	asset := &database.Asset{
		StorageKey: storageKey,
		Title:      title,
	}
	if sourceIdentity != "" {
		asset.SourceIdentity = sql.NullString{String: sourceIdentity, Valid: true}
	}
	if byteSize > 0 {
		asset.ByteSize = sql.NullInt64{Int64: byteSize, Valid: true}
	}
	if err := r.db.InsertAsset(asset); err != nil {
		return nil, err
	}
	// Backfill the size when an earlier registration never learned it.
	if !asset.ByteSize.Valid && byteSize > 0 {
		if err := r.db.SetAssetByteSize(asset.ID, byteSize); err != nil {
			return nil, err
		}
		asset.ByteSize = sql.NullInt64{Int64: byteSize, Valid: true}
	}
	r.log.Infow("registered asset", "asset_id", asset.ID, "storage_key", asset.StorageKey)
	return asset, nil
}

// ReferenceCount returns how many tenant libraries reference the asset.
func (r *Registry) ReferenceCount(assetID database.RowID) (int, error) {
	return r.db.AssetReferenceCount(assetID)
}

// Delete removes the asset row and, by cascade, any library entries.
// Unconditional; callers must have verified a zero reference count.
func (r *Registry) Delete(assetID database.RowID) error {
	return r.db.DeleteAsset(assetID)
}

// BytesPresent reports whether the asset's backing bytes actually exist:
// in the object store when one is configured, else on local disk. A
// remote miss still consults local disk — a failed upload leaves the
// bytes only there, and the serving path serves them from there, so the
// library view and dedup must agree with it.
func (r *Registry) BytesPresent(ctx context.Context, storageKey string) bool {
	if r.remote != nil {
		ok, err := r.remote.Exists(ctx, storageKey)
		if err == nil && ok {
			return true
		}
		if err != nil {
			r.log.Warnw("blob existence check failed, falling back to local disk",
				"storage_key", storageKey, "error", err)
		}
	}
	ok, err := r.media.Exists(ctx, storageKey)
	return err == nil && ok
}

// Attach adds (or re-saves) an asset in a tenant's library, replacing
// the metadata when the pair already exists.
func (r *Registry) Attach(tenantID, assetID database.RowID, metadata map[string]any) error {
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	return r.db.UpsertLibraryEntry(tenantID, assetID, string(encoded))
}

// List returns the tenant's library as storage key to metadata. Entries
// whose backing bytes are gone are silently omitted — a self-healing
// view, not a hard delete; the rows stay until the tenant detaches or
// the bytes reappear.
func (r *Registry) List(ctx context.Context, tenantID database.RowID) (map[string]json.RawMessage, error) {
	rows, err := r.db.ListLibrary(tenantID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		if !r.BytesPresent(ctx, row.StorageKey) {
			r.log.Debugw("omitting library entry with missing bytes",
				"tenant_id", tenantID, "storage_key", row.StorageKey)
			continue
		}
		out[row.StorageKey] = json.RawMessage(row.Metadata)
	}
	return out, nil
}

// Detach removes the asset from the tenant's library, reporting whether
// anything was removed. The asset itself is never deleted here —
// "tenant no longer wants it" and "nobody wants it" are decided by
// different actors.
func (r *Registry) Detach(tenantID database.RowID, storageKey string) (bool, error) {
	removed, err := r.db.DeleteLibraryEntry(tenantID, storageKey)
	if err != nil {
		return false, err
	}
	if removed {
		r.log.Infow("detached asset", "tenant_id", tenantID, "storage_key", storageKey)
	}
	return removed, nil
}

// Sweep deletes every zero-reference asset and returns their storage
// keys for the caller to purge from the blob store and local disk. Safe
// to run concurrently with jobs: a job only ever attaches, so an asset
// cannot reach zero references between a job's register and attach.
func (r *Registry) Sweep() ([]string, error) {
	orphans, err := r.db.OrphanedAssets()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(orphans))
	for _, orphan := range orphans {
		if err := r.db.DeleteAsset(orphan.ID); err != nil {
			return keys, err
		}
		keys = append(keys, orphan.StorageKey)
	}
	if len(keys) > 0 {
		r.log.Infow("swept orphaned assets", "count", len(keys))
	}
	return keys, nil
}

// Purge removes swept storage keys from the object store and local
// disk. Separated from Sweep so callers control when bytes disappear.
func (r *Registry) Purge(ctx context.Context, storageKeys []string) {
	for _, key := range storageKeys {
		if r.remote != nil {
			if err := r.remote.Delete(ctx, key); err != nil {
				r.log.Warnw("failed to delete blob", "storage_key", key, "error", err)
			}
		}
		if err := r.media.Delete(ctx, key); err != nil {
			r.log.Warnw("failed to delete local file", "storage_key", key, "error", err)
		}
	}
}
