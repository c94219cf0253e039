package database

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

type RowID = int64

const NullRowID RowID = 0

type Database struct {
	db  *sqlx.DB
	log *zap.SugaredLogger
}

func NewDatabase(path string) (*Database, error) {
	// foreign_keys=on so library rows cascade when an asset is deleted.
	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	return &Database{db: db, log: zap.S().Named("database")}, nil
}

func (d *Database) Migrate() error {
	d.log.Info("running database migrations")
	fs, err := iofs.New(embedMigrations, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlite3.WithInstance(d.db.DB, &sqlite3.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", fs, "sqlite3", driver)
	if err != nil {
		return err
	}
	err = m.Up()
	switch err {
	case nil:
		d.log.Info("database migration complete")
	case migrate.ErrNoChange:
		d.log.Info("no database migration required")
	default:
		return err
	}
	return nil
}

func (d *Database) Close() {
	_ = d.db.Close()
}

// An Asset is one acquired media file, shared across tenants. Exactly
// one row exists per non-null source identity.
type Asset struct {
	ID             RowID          `db:"id"`
	StorageKey     string         `db:"storage_key"`
	SourceIdentity sql.NullString `db:"source_identity"`
	Title          string         `db:"title"`
	ByteSize       sql.NullInt64  `db:"byte_size"`
	CreatedAt      time.Time      `db:"created_at"`
}

// A LibraryEntry is one tenant's reference to an Asset plus their own
// metadata for it. The count of these rows is an Asset's reference count.
type LibraryEntry struct {
	ID       RowID  `db:"id"`
	TenantID RowID  `db:"tenant_id"`
	AssetID  RowID  `db:"asset_id"`
	Metadata string `db:"metadata"`
}

type Tenant struct {
	ID             RowID          `db:"id"`
	Name           string         `db:"name"`
	CredentialData sql.NullString `db:"credential_data"`
	CreatedAt      time.Time      `db:"created_at"`
}

// GetAssetBySource returns (nil, nil) if the error is only that no such row exists.
func (d *Database) GetAssetBySource(sourceIdentity string) (*Asset, error) {
	a := Asset{}
	if err := d.db.Get(&a, `SELECT * FROM asset WHERE source_identity = ? LIMIT 1`, sourceIdentity); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// GetAssetByStorageKey returns (nil, nil) if the error is only that no such row exists.
func (d *Database) GetAssetByStorageKey(storageKey string) (*Asset, error) {
	a := Asset{}
	if err := d.db.Get(&a, `SELECT * FROM asset WHERE storage_key = ? LIMIT 1`, storageKey); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// InsertAsset adds a new asset, overwriting Asset.ID with the new row
// ID. If an asset with the same storage key already exists the existing
// row is loaded into a instead; a concurrent job acquiring the same
// source must resolve to the single canonical row, not an error.
func (d *Database) InsertAsset(a *Asset) error {
	res, err := d.db.NamedExec(
		`INSERT INTO asset (storage_key, source_identity, title, byte_size)
		 VALUES (:storage_key, :source_identity, :title, :byte_size)
		 ON CONFLICT (storage_key) DO NOTHING`, a)
	if err != nil {
		// A concurrent job for the same source but a different storage key
		// trips the source_identity unique index instead; resolve to the
		// winner's row rather than surfacing the constraint violation.
		if a.SourceIdentity.Valid {
			existing, getErr := d.GetAssetBySource(a.SourceIdentity.String)
			if getErr == nil && existing != nil {
				*a = *existing
				return nil
			}
		}
		return err
	}
	if count, err := res.RowsAffected(); err != nil {
		return err
	} else if count == 0 {
		existing, err := d.GetAssetByStorageKey(a.StorageKey)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("asset %q vanished during upsert", a.StorageKey)
		}
		*a = *existing
		return nil
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	return d.RefreshAsset(a)
}

// RefreshAsset reloads the asset row identified by Asset.ID.
func (d *Database) RefreshAsset(a *Asset) error {
	return d.db.Get(a, `SELECT * FROM asset WHERE id = ?`, a.ID)
}

// SetAssetByteSize backfills the byte size after the artifact has been
// measured; the only mutation an asset row ever sees.
func (d *Database) SetAssetByteSize(id RowID, size int64) error {
	_, err := d.db.Exec(`UPDATE asset SET byte_size = ? WHERE id = ?`, size, id)
	return err
}

// DeleteAsset removes the asset and any library rows referencing it, in
// one transaction. Callers must have verified a zero reference count.
func (d *Database) DeleteAsset(id RowID) error {
	tx := d.db.MustBegin()
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM library WHERE asset_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete library entries: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM asset WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// AssetReferenceCount counts the tenant library entries pointing at the
// asset; the sole input to garbage collection.
func (d *Database) AssetReferenceCount(id RowID) (int, error) {
	var count int
	if err := d.db.Get(&count, `SELECT COUNT(*) FROM library WHERE asset_id = ?`, id); err != nil {
		return 0, err
	}
	return count, nil
}

// OrphanedAssets returns assets with no library references.
func (d *Database) OrphanedAssets() ([]Asset, error) {
	var orphans []Asset
	err := d.db.Select(&orphans, `
		SELECT a.* FROM asset a
		LEFT JOIN library l ON l.asset_id = a.id
		WHERE l.id IS NULL`)
	if err != nil {
		return nil, err
	}
	return orphans, nil
}

// UpsertLibraryEntry attaches an asset to a tenant's library, replacing
// the metadata if the pair already exists.
func (d *Database) UpsertLibraryEntry(tenantID, assetID RowID, metadata string) error {
	_, err := d.db.Exec(`
		INSERT INTO library (tenant_id, asset_id, metadata) VALUES (?, ?, ?)
		ON CONFLICT (tenant_id, asset_id) DO UPDATE SET metadata = excluded.metadata`,
		tenantID, assetID, metadata)
	return err
}

// LibraryRow is one row of a tenant's library listing.
type LibraryRow struct {
	StorageKey string `db:"storage_key"`
	Metadata   string `db:"metadata"`
}

// ListLibrary returns the tenant's library entries joined with their
// backing assets, ordered by storage key for stable output.
func (d *Database) ListLibrary(tenantID RowID) ([]LibraryRow, error) {
	var rows []LibraryRow
	err := d.db.Select(&rows, `
		SELECT a.storage_key, l.metadata
		FROM library l JOIN asset a ON l.asset_id = a.id
		WHERE l.tenant_id = ?
		ORDER BY a.storage_key`, tenantID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteLibraryEntry detaches the asset identified by storage key from
// the tenant's library, returning whether a row was removed. The asset
// itself is never deleted here; that is the garbage collector's job.
func (d *Database) DeleteLibraryEntry(tenantID RowID, storageKey string) (bool, error) {
	asset, err := d.GetAssetByStorageKey(storageKey)
	if err != nil {
		return false, err
	}
	if asset == nil {
		return false, nil
	}
	res, err := d.db.Exec(`DELETE FROM library WHERE tenant_id = ? AND asset_id = ?`, tenantID, asset.ID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetTenantByID returns (nil, nil) if the error is only that no such row exists.
func (d *Database) GetTenantByID(id RowID) (*Tenant, error) {
	t := Tenant{}
	if err := d.db.Get(&t, `SELECT * FROM tenant WHERE id = ? LIMIT 1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// GetTenantByName returns (nil, nil) if the error is only that no such row exists.
func (d *Database) GetTenantByName(name string) (*Tenant, error) {
	t := Tenant{}
	if err := d.db.Get(&t, `SELECT * FROM tenant WHERE name = ? LIMIT 1`, name); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// InsertTenant adds a new tenant, overwriting Tenant.ID with the new row ID.
func (d *Database) InsertTenant(t *Tenant) error {
	if res, err := d.db.NamedExec(`INSERT INTO tenant (name) VALUES (:name)`, t); err != nil {
		return err
	} else if t.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	return d.db.Get(t, `SELECT * FROM tenant WHERE id = ?`, t.ID)
}

// GetTenantCredential returns the tenant's stored credential blob, or
// nil when the tenant has none.
func (d *Database) GetTenantCredential(tenantID RowID) ([]byte, error) {
	var cred sql.NullString
	if err := d.db.Get(&cred, `SELECT credential_data FROM tenant WHERE id = ?`, tenantID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if !cred.Valid {
		return nil, nil
	}
	return []byte(cred.String), nil
}

// SetTenantCredential stores (or replaces) the tenant's credential blob.
func (d *Database) SetTenantCredential(tenantID RowID, data []byte) error {
	res, err := d.db.Exec(`UPDATE tenant SET credential_data = ? WHERE id = ?`, string(data), tenantID)
	if err != nil {
		return err
	}
	if count, err := res.RowsAffected(); err != nil {
		return err
	} else if count == 0 {
		return sql.ErrNoRows
	}
	return nil
}
