// Package infra implements infrastructure concerns (storage, process, registry).
package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"
	_ "modernc.org/sqlite"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

const (
	encryptedDBName = "profiles.db"
	plainDBName     = "profiles.plain.db"

	metaLastRecordedDate = "last_recorded_date"
)

// SQLStore implements domain.ProfileStore on SQLite.
// The profile list is stored one row per profile, JSON encoded, in list order.
type SQLStore struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedStore opens (or creates) a SQLCipher encrypted profile database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedStore(dataDir string, key []byte) (*SQLStore, error) {
	dbPath := filepath.Join(dataDir, encryptedDBName)
	if _, err := os.Stat(dbPath); err == nil {
		encrypted, err := sqlcipher.IsEncrypted(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect profile database: %w", err)
		}
		if !encrypted {
			return nil, fmt.Errorf("profile database %s is not encrypted", dbPath)
		}
	}
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	return openStore(dataDir, "sqlite3", dsn, dbPath)
}

// NewPlainStore opens (or creates) an unencrypted profile database (pure Go driver).
func NewPlainStore(dataDir string) (*SQLStore, error) {
	dbPath := filepath.Join(dataDir, plainDBName)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	return openStore(dataDir, "sqlite", dsn, dbPath)
}

func openStore(dataDir, driver, dsn, dbPath string) (*SQLStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// With SQLCipher a wrong key only shows up on first access
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to profile database: %w", err)
	}

	s := &SQLStore{db: db, dbPath: dbPath}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		position INTEGER NOT NULL,
		name TEXT PRIMARY KEY,
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load returns the saved profiles and last recorded date.
func (s *SQLStore) Load(ctx context.Context) (*domain.State, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, data FROM profiles ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	state := &domain.State{Profiles: make([]*domain.Profile, 0)}
	for rows.Next() {
		var name, data string
		if err := rows.Scan(&name, &data); err != nil {
			return nil, err
		}
		var p domain.Profile
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("failed to decode profile %q: %w", name, err)
		}
		state.Profiles = append(state.Profiles, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var date string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaLastRecordedDate).Scan(&date)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, err
	default:
		t, err := time.Parse(time.RFC3339Nano, date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", metaLastRecordedDate, err)
		}
		state.LastRecordedDate = t
	}

	return state, nil
}

// Save replaces the stored profile list and last recorded date in one transaction.
func (s *SQLStore) Save(ctx context.Context, state *domain.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM profiles`); err != nil {
		return err
	}
	for i, p := range state.Profiles {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to encode profile %q: %w", p.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO profiles (position, name, data) VALUES (?, ?, ?)`,
			i, p.Name, string(data)); err != nil {
			return err
		}
	}

	if !state.LastRecordedDate.IsZero() {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
			metaLastRecordedDate, state.LastRecordedDate.Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Path returns the database file path.
func (s *SQLStore) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure SQLStore implements domain.ProfileStore.
var _ domain.ProfileStore = (*SQLStore)(nil)
