package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/AaronLay10/carla-go/carla"
)

// EventRow represents an event stored in Postgres.
type EventRow struct {
	EventID        int64                  `json:"event_id"`
	Timestamp      time.Time              `json:"ts"`
	Level          string                 `json:"level"`
	Event          string                 `json:"event"`
	Message        *string                `json:"msg,omitempty"`
	Fields         map[string]interface{} `json:"fields,omitempty"`
	BindingVersion string                 `json:"binding_version"`
}

// Settings holds connection parameters.
type Settings struct {
	Host     string
	Port     string
	User     string
	Database string
	Password string
	SSLMode  string
}

// SettingsFromEnv reads the standard PG* variables.
func SettingsFromEnv(lookup carla.LookupFunc) Settings {
	return Settings{
		Host:     getEnv(lookup, "PGHOST", "127.0.0.1"),
		Port:     getEnv(lookup, "PGPORT", "5432"),
		User:     getEnv(lookup, "PGUSER", "carla"),
		Database: getEnv(lookup, "PGDATABASE", "carla"),
		Password: getEnv(lookup, "PGPASSWORD", ""),
		SSLMode:  getEnv(lookup, "PGSSLMODE", "disable"),
	}
}

func getEnv(lookup carla.LookupFunc, key, defaultVal string) string {
	if lookup == nil {
		return defaultVal
	}
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return defaultVal
}

// DSN returns a lib/pq key/value connection string.
func (s Settings) DSN() string {
	parts := []string{
		"host=" + quote(s.Host),
		"port=" + quote(s.Port),
		"user=" + quote(s.User),
	}
	if s.Password != "" {
		parts = append(parts, "password="+quote(s.Password))
	}
	parts = append(parts, "dbname="+quote(s.Database))
	sslmode := s.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	parts = append(parts, "sslmode="+quote(sslmode))
	return strings.Join(parts, " ")
}

func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// Client stores binding events in Postgres.
type Client struct {
	db             *sql.DB
	bindingVersion string
	timeout        time.Duration
}

// New connects, pings and ensures the events table exists.
func New(ctx context.Context, s Settings, bindingVersion string) (*Client, error) {
	db, err := sql.Open("postgres", s.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{
		db:             db,
		bindingVersion: bindingVersion,
		timeout:        5 * time.Second,
	}

	if err := client.createTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create binding_events table: %w", err)
	}

	return client, nil
}

func (c *Client) createTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS binding_events (
			event_id        BIGSERIAL PRIMARY KEY,
			ts              TIMESTAMPTZ NOT NULL,
			level           TEXT NOT NULL,
			event           TEXT NOT NULL,
			msg             TEXT,
			fields          JSONB,
			binding_version TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_binding_events_ts ON binding_events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_binding_events_version ON binding_events(binding_version);
	`
	_, err := c.db.ExecContext(ctx, query)
	return err
}

// Append inserts an event tagged with the client's binding version.
func (c *Client) Append(ts time.Time, level, event, msg string, fields map[string]interface{}) error {
	var fieldsJSON []byte
	var err error
	if fields != nil {
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	var msgPtr *string
	if msg != "" {
		msgPtr = &msg
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	query := `
		INSERT INTO binding_events (ts, level, event, msg, fields, binding_version)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = c.db.ExecContext(ctx, query, ts, level, event, msgPtr, fieldsJSON, c.bindingVersion)
	return err
}

// ClampLimit bounds a query limit to 1..10000, defaulting to 200.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return 200
	}
	if limit > 10000 {
		return 10000
	}
	return limit
}

// Query returns the last N events for this binding version, newest first.
func (c *Client) Query(ctx context.Context, limit int) ([]EventRow, error) {
	query := `
		SELECT event_id, ts, level, event, msg, fields, binding_version
		FROM binding_events
		WHERE binding_version = $1
		ORDER BY ts DESC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, query, c.bindingVersion, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		var fieldsJSON []byte
		var msg sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.BindingVersion); err != nil {
			return nil, err
		}

		if msg.Valid {
			e.Message = &msg.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
