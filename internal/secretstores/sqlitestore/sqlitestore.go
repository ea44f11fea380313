// Package sqlitestore is a secretstore.Client persisted in a local SQLite
// database. It gives local rotation runs a store that survives between
// invocations, with stage moves done in transactions.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/systmms/rotator/internal/secretstores/memstore"
	"github.com/systmms/rotator/pkg/secretstore"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS secrets (
	name TEXT PRIMARY KEY,
	rotation_enabled INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE TABLE IF NOT EXISTS versions (
	secret TEXT NOT NULL REFERENCES secrets(name) ON DELETE CASCADE,
	version_id TEXT NOT NULL,

	-- NULL until a value is written; a staged version may precede its value.
	value TEXT,

	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	PRIMARY KEY (secret, version_id)
);

-- One row per (secret, stage) keeps each stage on at most one version.
CREATE TABLE IF NOT EXISTS stages (
	secret TEXT NOT NULL,
	stage TEXT NOT NULL,
	version_id TEXT NOT NULL,
	PRIMARY KEY (secret, stage),
	FOREIGN KEY (secret, version_id) REFERENCES versions(secret, version_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_stages_version ON stages(secret, version_id);
`

// ErrStageMismatch is returned when a stage move names a version that does not
// hold the stage, or omits the version that does.
var ErrStageMismatch = errors.New("stage mismatch")

// Open opens (creating if needed) the database at path.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Read-then-write transactions must not interleave.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the tables.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Store implements secretstore.Client on a SQLite database.
type Store struct {
	name string
	db   *sql.DB
}

var _ secretstore.Client = (*Store)(nil)

// New wraps an opened and migrated database.
func New(name string, db *sql.DB) *Store {
	if name == "" {
		name = "sqlite"
	}
	return &Store{name: name, db: db}
}

// OpenStore opens the database at path, migrates it and returns a Store.
func OpenStore(ctx context.Context, name, path string) (*Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}
	return New(name, db), nil
}

// Name returns the store name.
func (s *Store) Name() string {
	return s.name
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSecret registers a secret, or updates its rotation flag if it exists.
func (s *Store) CreateSecret(ctx context.Context, secretID string, rotationEnabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets(name, rotation_enabled) VALUES(?, ?)
		 ON CONFLICT(name) DO UPDATE SET rotation_enabled = excluded.rotation_enabled`,
		secretID, rotationEnabled)
	if err != nil {
		return s.storeError("CreateSecret", secretID, err)
	}
	return nil
}

// BeginRotation stages versionID as PENDING without a value.
func (s *Store) BeginRotation(ctx context.Context, secretID, versionID string) error {
	return s.inTx(ctx, "BeginRotation", secretID, func(tx *sql.Tx) error {
		if err := requireSecret(ctx, tx, s.name, secretID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO versions(secret, version_id) VALUES(?, ?) ON CONFLICT DO NOTHING`,
			secretID, versionID); err != nil {
			return err
		}
		return attach(ctx, tx, secretID, secretstore.StagePending, versionID)
	})
}

// Import writes the fixture's secrets into the store, replacing secrets with
// the same ID.
func (s *Store) Import(ctx context.Context, fx memstore.Fixture) error {
	for _, fs := range fx.Secrets {
		if fs.ID == "" {
			return fmt.Errorf("fixture secret without id")
		}
		err := s.inTx(ctx, "Import", fs.ID, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `DELETE FROM secrets WHERE name = ?`, fs.ID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO secrets(name, rotation_enabled) VALUES(?, ?)`, fs.ID, fs.RotationEnabled); err != nil {
				return err
			}
			for _, fv := range fs.Versions {
				if fv.ID == "" {
					return fmt.Errorf("fixture secret %s has a version without id", fs.ID)
				}
				var value sql.NullString
				if fv.Value != nil {
					value = sql.NullString{String: *fv.Value, Valid: true}
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO versions(secret, version_id, value) VALUES(?, ?, ?)`,
					fs.ID, fv.ID, value); err != nil {
					return err
				}
				for _, label := range fv.Stages {
					if _, err := tx.ExecContext(ctx,
						`INSERT INTO stages(secret, stage, version_id) VALUES(?, ?, ?)`,
						fs.ID, string(secretstore.ParseStage(label)), fv.ID); err != nil {
						return fmt.Errorf("fixture secret %s: stage %s: %w", fs.ID, label, err)
					}
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// DescribeSecret implements secretstore.Client.
func (s *Store) DescribeSecret(ctx context.Context, secretID string) (secretstore.Metadata, error) {
	var enabled bool
	err := s.db.QueryRowContext(ctx, `SELECT rotation_enabled FROM secrets WHERE name = ?`, secretID).Scan(&enabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return secretstore.Metadata{}, secretstore.NotFoundError{Store: s.name, SecretID: secretID}
		}
		return secretstore.Metadata{}, s.storeError("DescribeSecret", secretID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT v.version_id, v.value IS NOT NULL, st.stage
FROM versions v
LEFT JOIN stages st ON st.secret = v.secret AND st.version_id = v.version_id
WHERE v.secret = ?`, secretID)
	if err != nil {
		return secretstore.Metadata{}, s.storeError("DescribeSecret", secretID, err)
	}
	defer rows.Close()

	meta := secretstore.Metadata{
		ARN:             arn(secretID),
		Name:            secretID,
		RotationEnabled: enabled,
		Versions:        make(map[string]secretstore.StageSet),
	}
	for rows.Next() {
		var (
			versionID string
			hasValue  bool
			stage     sql.NullString
		)
		if err := rows.Scan(&versionID, &hasValue, &stage); err != nil {
			return secretstore.Metadata{}, s.storeError("DescribeSecret", secretID, err)
		}
		if !hasValue && !stage.Valid {
			continue
		}
		set, ok := meta.Versions[versionID]
		if !ok {
			set = secretstore.NewStageSet()
			meta.Versions[versionID] = set
		}
		if stage.Valid {
			set.Add(secretstore.Stage(stage.String))
		}
	}
	if err := rows.Err(); err != nil {
		return secretstore.Metadata{}, s.storeError("DescribeSecret", secretID, err)
	}
	return meta, nil
}

// GetSecretValue implements secretstore.Client.
func (s *Store) GetSecretValue(ctx context.Context, secretID string, sel secretstore.ValueSelector) (secretstore.SecretValue, error) {
	notFound := secretstore.NotFoundError{Store: s.name, SecretID: secretID, Selector: sel}

	var out secretstore.SecretValue
	err := s.inTx(ctx, "GetSecretValue", secretID, func(tx *sql.Tx) error {
		if err := requireSecret(ctx, tx, s.name, secretID); err != nil {
			return err
		}

		versionID := sel.VersionID
		if versionID == "" {
			stage := sel.Stage
			if stage == "" {
				stage = secretstore.StageCurrent
			}
			holder, err := holderOf(ctx, tx, secretID, stage)
			if err != nil {
				return err
			}
			if holder == "" {
				return notFound
			}
			versionID = holder
		}

		var value sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT value FROM versions WHERE secret = ? AND version_id = ?`, secretID, versionID).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !value.Valid) {
			return notFound
		}
		if err != nil {
			return err
		}

		stages, err := stagesOf(ctx, tx, secretID, versionID)
		if err != nil {
			return err
		}
		if sel.Stage != "" && !stages.Has(sel.Stage) {
			return notFound
		}

		out = secretstore.SecretValue{
			ARN:       arn(secretID),
			Name:      secretID,
			VersionID: versionID,
			Value:     value.String,
			Stages:    stages,
		}
		return nil
	})
	return out, err
}

// PutSecretValue implements secretstore.Client with put-if-absent semantics
// keyed by versionID.
func (s *Store) PutSecretValue(ctx context.Context, secretID, versionID, value string, stages ...secretstore.Stage) error {
	return s.inTx(ctx, "PutSecretValue", secretID, func(tx *sql.Tx) error {
		if err := requireSecret(ctx, tx, s.name, secretID); err != nil {
			return err
		}

		var existing sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT value FROM versions WHERE secret = ? AND version_id = ?`, secretID, versionID).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO versions(secret, version_id, value) VALUES(?, ?, ?)`, secretID, versionID, value); err != nil {
				return err
			}
		case err != nil:
			return err
		case existing.Valid:
			if existing.String != value {
				return secretstore.ConflictError{Store: s.name, SecretID: secretID, VersionID: versionID}
			}
			return nil
		default:
			if _, err := tx.ExecContext(ctx,
				`UPDATE versions SET value = ? WHERE secret = ? AND version_id = ?`, value, secretID, versionID); err != nil {
				return err
			}
		}

		for _, stage := range stages {
			if err := attach(ctx, tx, secretID, stage, versionID); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateSecretVersionStage implements secretstore.Client. The move commits as
// one transaction.
func (s *Store) UpdateSecretVersionStage(ctx context.Context, secretID string, stage secretstore.Stage, moveTo, removeFrom string) error {
	return s.inTx(ctx, "UpdateSecretVersionStage", secretID, func(tx *sql.Tx) error {
		if err := requireSecret(ctx, tx, s.name, secretID); err != nil {
			return err
		}

		holder, err := holderOf(ctx, tx, secretID, stage)
		if err != nil {
			return err
		}
		if removeFrom != "" && holder != removeFrom {
			return fmt.Errorf("%w: stage %s is not attached to version %s", ErrStageMismatch, stage, removeFrom)
		}

		if moveTo != "" {
			var exists int
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM versions WHERE secret = ? AND version_id = ?`, secretID, moveTo).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return secretstore.NotFoundError{Store: s.name, SecretID: secretID, Selector: secretstore.ValueSelector{VersionID: moveTo}}
			}
			if err != nil {
				return err
			}
			if holder != "" && holder != moveTo && removeFrom == "" {
				return fmt.Errorf("%w: stage %s is attached to version %s; pass it as the version to remove from", ErrStageMismatch, stage, holder)
			}
			return attach(ctx, tx, secretID, stage, moveTo)
		}

		if removeFrom != "" {
			_, err := tx.ExecContext(ctx, `DELETE FROM stages WHERE secret = ? AND stage = ?`, secretID, string(stage))
			return err
		}
		return nil
	})
}

// inTx runs fn in a transaction. Errors that are already store-level results
// pass through; database failures become StoreError.
func (s *Store) inTx(ctx context.Context, op, secretID string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.storeError(op, secretID, err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if isResult(err) {
			return err
		}
		return s.storeError(op, secretID, err)
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return s.storeError(op, secretID, err)
	}
	return nil
}

func (s *Store) storeError(op, secretID string, err error) error {
	return secretstore.StoreError{Store: s.name, Op: op, SecretID: secretID, Err: err}
}

func isResult(err error) bool {
	return secretstore.IsNotFound(err) || secretstore.IsConflict(err) || errors.Is(err, ErrStageMismatch)
}

func requireSecret(ctx context.Context, tx *sql.Tx, store, secretID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM secrets WHERE name = ?`, secretID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return secretstore.NotFoundError{Store: store, SecretID: secretID}
	}
	return err
}

func holderOf(ctx context.Context, tx *sql.Tx, secretID string, stage secretstore.Stage) (string, error) {
	var versionID string
	err := tx.QueryRowContext(ctx,
		`SELECT version_id FROM stages WHERE secret = ? AND stage = ?`, secretID, string(stage)).Scan(&versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return versionID, err
}

func stagesOf(ctx context.Context, tx *sql.Tx, secretID, versionID string) (secretstore.StageSet, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT stage FROM stages WHERE secret = ? AND version_id = ?`, secretID, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := secretstore.NewStageSet()
	for rows.Next() {
		var stage string
		if err := rows.Scan(&stage); err != nil {
			return nil, err
		}
		set.Add(secretstore.Stage(stage))
	}
	return set, rows.Err()
}

// attach puts stage on versionID. A version losing CURRENT becomes PREVIOUS,
// and the version gaining CURRENT loses PENDING.
func attach(ctx context.Context, tx *sql.Tx, secretID string, stage secretstore.Stage, versionID string) error {
	old, err := holderOf(ctx, tx, secretID, stage)
	if err != nil {
		return err
	}
	if old == versionID {
		return nil
	}

	if old != "" {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM stages WHERE secret = ? AND stage = ?`, secretID, string(stage)); err != nil {
			return err
		}
		if stage == secretstore.StageCurrent {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO stages(secret, stage, version_id) VALUES(?, ?, ?)
				 ON CONFLICT(secret, stage) DO UPDATE SET version_id = excluded.version_id`,
				secretID, string(secretstore.StagePrevious), old); err != nil {
				return err
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stages(secret, stage, version_id) VALUES(?, ?, ?)`, secretID, string(stage), versionID); err != nil {
		return err
	}

	if stage == secretstore.StageCurrent {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM stages WHERE secret = ? AND stage = ? AND version_id = ?`,
			secretID, string(secretstore.StagePending), versionID); err != nil {
			return err
		}
	}
	return nil
}

func arn(secretID string) string {
	return "arn:sqlite:secretsmanager:local:000000000000:secret:" + secretID
}
