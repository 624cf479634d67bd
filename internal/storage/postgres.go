package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// PostgresStorage persists every collection as JSON documents in a single
// records table keyed by (collection, id).
type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(config DatabaseConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %v", err)
	}

	storage := &PostgresStorage{db: db}

	// Initialize database schema
	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %v", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %v", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %v", err)
	}

	return nil
}

type postgresCollection struct {
	db   *sql.DB
	name string
}

func (s *PostgresStorage) collection(name string) Collection {
	return &postgresCollection{db: s.db, name: name}
}

func (s *PostgresStorage) Feedbacks() Collection   { return s.collection("feedbacks") }
func (s *PostgresStorage) Surveys() Collection     { return s.collection("surveys") }
func (s *PostgresStorage) Transcripts() Collection { return s.collection("transcripts") }
func (s *PostgresStorage) Workspaces() Collection  { return s.collection("workspaces") }

func (c *postgresCollection) Get(ctx context.Context, id string, out any) error {
	query := `
		SELECT data
		FROM records
		WHERE collection = $1 AND id = $2`

	var raw []byte
	err := c.db.QueryRowContext(ctx, query, c.name, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("error querying record %s/%s: %v", c.name, id, err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("error decoding record %s/%s: %v", c.name, id, err)
	}
	return nil
}

func (c *postgresCollection) Save(ctx context.Context, id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error encoding record %s/%s: %v", c.name, id, err)
	}

	query := `
		INSERT INTO records (collection, id, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (collection, id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`

	if _, err := c.db.ExecContext(ctx, query, c.name, id, raw, time.Now()); err != nil {
		return fmt.Errorf("error saving record %s/%s: %v", c.name, id, err)
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
