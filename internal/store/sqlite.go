// Package store persists users, bots, and chat histories in SQLite.
//
// The layout mirrors a document store: a bot row holds the whole corpus
// text plus persona, and a history row holds the full turn sequence as
// one JSON blob with overwrite-on-put semantics. Bot names are keyed
// lower-cased, so names collide case-insensitively per owner.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// MaxBotsPerUser is the hard cap on concurrently held bots, enforced
// before any mutation.
const MaxBotsPerUser = 2

var (
	ErrUserExists  = errors.New("username already exists")
	ErrBotExists   = errors.New("a bot with that name already exists")
	ErrBotLimit    = fmt.Errorf("bot limit reached (max %d), delete one first", MaxBotsPerUser)
	ErrBotNotFound = errors.New("bot not found")
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY, -- UUID
        username TEXT UNIQUE NOT NULL,
        password_hash TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS bots (
        owner TEXT NOT NULL,
        key TEXT NOT NULL, -- lower-cased name
        name TEXT NOT NULL,
        corpus TEXT NOT NULL,
        persona TEXT NOT NULL DEFAULT '',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        PRIMARY KEY (owner, key)
    );

    CREATE TABLE IF NOT EXISTS chat_histories (
        owner TEXT NOT NULL,
        bot_key TEXT NOT NULL,
        history_json TEXT NOT NULL,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        PRIMARY KEY (owner, bot_key)
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

func botKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// User methods

func (s *SQLiteStore) CreateUser(username, passwordHash string) (*User, error) {
	existing, err := s.GetUser(username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	user := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	_, err = s.db.Exec(
		"INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)",
		user.ID, user.Username, user.PasswordHash, user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

func (s *SQLiteStore) GetUser(username string) (*User, error) {
	var user User
	err := s.db.QueryRow(
		"SELECT id, username, password_hash, created_at FROM users WHERE username = ?",
		username,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// Bot methods

func (s *SQLiteStore) GetBots(owner string) ([]BotSummary, error) {
	rows, err := s.db.Query(
		"SELECT name, persona FROM bots WHERE owner = ? ORDER BY created_at ASC",
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query bots: %w", err)
	}
	defer rows.Close()

	var bots []BotSummary
	for rows.Next() {
		var b BotSummary
		if err := rows.Scan(&b.Name, &b.Persona); err != nil {
			return nil, fmt.Errorf("failed to scan bot row: %w", err)
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// GetBotCorpus returns the stored corpus text and persona for a bot,
// looked up case-insensitively by name.
func (s *SQLiteStore) GetBotCorpus(owner, botName string) (string, string, error) {
	var corpus, persona string
	err := s.db.QueryRow(
		"SELECT corpus, persona FROM bots WHERE owner = ? AND key = ?",
		owner, botKey(botName),
	).Scan(&corpus, &persona)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", "", ErrBotNotFound
		}
		return "", "", fmt.Errorf("failed to query bot: %w", err)
	}
	return corpus, persona, nil
}

// PutBot creates a bot. Rejected before any write when the owner is at
// the bot cap or already holds a bot whose name collides
// case-insensitively (first writer wins).
func (s *SQLiteStore) PutBot(owner, name, corpusText, persona string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin bot insert: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow("SELECT COUNT(1) FROM bots WHERE owner = ?", owner).Scan(&count); err != nil {
		return fmt.Errorf("failed to count bots: %w", err)
	}
	if count >= MaxBotsPerUser {
		return ErrBotLimit
	}
	var exists int
	if err := tx.QueryRow("SELECT COUNT(1) FROM bots WHERE owner = ? AND key = ?", owner, botKey(name)).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check bot name: %w", err)
	}
	if exists > 0 {
		return ErrBotExists
	}

	if _, err := tx.Exec(
		"INSERT INTO bots (owner, key, name, corpus, persona) VALUES (?, ?, ?, ?, ?)",
		owner, botKey(name), name, corpusText, persona,
	); err != nil {
		return fmt.Errorf("failed to insert bot: %w", err)
	}
	return tx.Commit()
}

// RenameBot re-keys a bot document and carries its chat history along.
// Fails if the new key is already taken by another bot of the same
// owner.
func (s *SQLiteStore) RenameBot(owner, oldName, newName string) error {
	oldKey, newKey := botKey(oldName), botKey(newName)
	if oldKey == newKey {
		// Case-only rename: just refresh the display name.
		res, err := s.db.Exec("UPDATE bots SET name = ? WHERE owner = ? AND key = ?", newName, owner, oldKey)
		if err != nil {
			return fmt.Errorf("failed to rename bot: %w", err)
		}
		return requireAffected(res)
	}

	var exists int
	if err := s.db.QueryRow("SELECT COUNT(1) FROM bots WHERE owner = ? AND key = ?", owner, newKey).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check bot name: %w", err)
	}
	if exists > 0 {
		return ErrBotExists
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin rename: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"UPDATE bots SET key = ?, name = ? WHERE owner = ? AND key = ?",
		newKey, newName, owner, oldKey,
	)
	if err != nil {
		return fmt.Errorf("failed to rename bot: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"UPDATE chat_histories SET bot_key = ? WHERE owner = ? AND bot_key = ?",
		newKey, owner, oldKey,
	); err != nil {
		return fmt.Errorf("failed to move chat history: %w", err)
	}
	return tx.Commit()
}

// DeleteBot removes a bot and cascades to its chat history.
func (s *SQLiteStore) DeleteBot(owner, name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM bots WHERE owner = ? AND key = ?", owner, botKey(name))
	if err != nil {
		return fmt.Errorf("failed to delete bot: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM chat_histories WHERE owner = ? AND bot_key = ?", owner, botKey(name)); err != nil {
		return fmt.Errorf("failed to delete chat history: %w", err)
	}
	return tx.Commit()
}

func requireAffected(res sql.Result) error {
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrBotNotFound
	}
	return nil
}

// History methods

// GetHistory loads the ordered turn sequence for a (owner, bot) pair.
// Missing history is an empty sequence, not an error. Turn statuses are
// normalized on the way out.
func (s *SQLiteStore) GetHistory(owner, botName string) ([]Turn, error) {
	var raw string
	err := s.db.QueryRow(
		"SELECT history_json FROM chat_histories WHERE owner = ? AND bot_key = ?",
		owner, botKey(botName),
	).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}

	var turns []Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, fmt.Errorf("failed to decode chat history: %w", err)
	}
	for i := range turns {
		turns[i].Normalize()
	}
	return turns, nil
}

// PutHistory overwrites the whole turn sequence for a (owner, bot)
// pair. Called after every history mutation, partial streamed updates
// included, so a crash loses at most the in-flight chunk.
func (s *SQLiteStore) PutHistory(owner, botName string, turns []Turn) error {
	if turns == nil {
		turns = []Turn{}
	}
	raw, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("failed to encode chat history: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO chat_histories (owner, bot_key, history_json, updated_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(owner, bot_key) DO UPDATE SET history_json = excluded.history_json, updated_at = excluded.updated_at`,
		owner, botKey(botName), string(raw), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to write chat history: %w", err)
	}
	return nil
}
