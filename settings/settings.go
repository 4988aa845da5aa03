// Package settings persists the agent's connection preferences in a
// small SQLite key/value table. Missing or unreadable values always
// fall back to defaults; preferences must never block startup.
package settings

import (
	"database/sql"
	"log"
	"os"
	"strconv"
	"sync"

	_ "modernc.org/sqlite"
)

// DefaultURL is the gateway address offered before the user has saved
// anything.
const DefaultURL = "ws://192.168.1.10:3030"

// Storage keys. The tudi_ prefix matches the key names used by earlier
// deployments so existing databases keep working.
const (
	keyDeviceURL   = "tudi_device_url"
	keyMockMode    = "tudi_mock_mode"
	keyAutoConnect = "tudi_auto_connect"
)

// Settings holds the persisted connection preferences.
type Settings struct {
	URL         string `json:"url"`
	MockMode    bool   `json:"mockMode"`
	AutoConnect bool   `json:"autoConnect"`
}

// Defaults returns the settings used when nothing has been saved.
func Defaults() Settings {
	return Settings{URL: DefaultURL}
}

// Store reads and writes Settings. When the backing database cannot be
// opened the store degrades to an in-memory map, so preferences work
// for the process lifetime but do not survive a restart.
type Store struct {
	logger *log.Logger

	mu  sync.Mutex
	db  *sql.DB
	mem map[string]string
}

// Open opens or creates the settings database at path. Open never
// fails: on any error the returned store is memory-only.
func Open(path string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "[settings] ", log.LstdFlags)
	}
	s := &Store{logger: logger, mem: make(map[string]string)}

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		logger.Printf("open %s failed, settings will not persist: %v", path, err)
		return s
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		logger.Printf("init %s failed, settings will not persist: %v", path, err)
		db.Close()
		return s
	}
	s.db = db
	return s
}

// Close releases the backing database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Load returns the persisted settings. Any missing or unparseable
// value is replaced by its default.
func (s *Store) Load() Settings {
	out := Defaults()
	if v, found := s.get(keyDeviceURL); found && v != "" {
		out.URL = v
	}
	if v, found := s.get(keyMockMode); found {
		if b, err := strconv.ParseBool(v); err == nil {
			out.MockMode = b
		}
	}
	if v, found := s.get(keyAutoConnect); found {
		if b, err := strconv.ParseBool(v); err == nil {
			out.AutoConnect = b
		}
	}
	return out
}

// Save persists all settings.
func (s *Store) Save(cfg Settings) error {
	if err := s.set(keyDeviceURL, cfg.URL); err != nil {
		return err
	}
	if err := s.set(keyMockMode, strconv.FormatBool(cfg.MockMode)); err != nil {
		return err
	}
	return s.set(keyAutoConnect, strconv.FormatBool(cfg.AutoConnect))
}

func (s *Store) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		v, found := s.mem[key]
		return v, found
	}
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		s.logger.Printf("read %s failed: %v", key, err)
		return "", false
	}
	return value, true
}

func (s *Store) set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		s.mem[key] = value
		return nil
	}
	_, err := s.db.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
