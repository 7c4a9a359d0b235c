package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/agentmesh/agentmesh/internal/common/errors"
	"github.com/agentmesh/agentmesh/internal/db"
	v1 "github.com/agentmesh/agentmesh/pkg/api/v1"
)

// SQLCatalog is a Catalog backed by a relational store through sqlx. The
// descriptor's structured fields are stored as JSON columns; the key and
// status stay relational for indexed lookups. Queries use ? placeholders
// rebound per driver, so the same code runs on SQLite and Postgres.
type SQLCatalog struct {
	pool *db.Pool
}

var _ Catalog = (*SQLCatalog)(nil)

// NewSQLCatalog creates the catalog tables if needed and returns the store.
func NewSQLCatalog(pool *db.Pool) (*SQLCatalog, error) {
	c := &SQLCatalog{pool: pool}
	if err := c.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	return c, nil
}

func (c *SQLCatalog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agent_catalog (
		agent_id TEXT PRIMARY KEY,
		agent_type TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		is_system_agent BOOLEAN NOT NULL DEFAULT FALSE,
		service_identity TEXT NOT NULL DEFAULT '',
		endpoints TEXT NOT NULL DEFAULT '{}',
		capabilities TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}',
		permissions TEXT NOT NULL DEFAULT '{}',
		registered_at TIMESTAMP,
		last_heartbeat TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS agent_display_configs (
		agent_id TEXT PRIMARY KEY,
		endpoints TEXT NOT NULL DEFAULT '{}',
		permissions TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_agent_catalog_status ON agent_catalog(status);
	`
	_, err := c.pool.Writer().Exec(schema)
	return err
}

type catalogRow struct {
	AgentID         string       `db:"agent_id"`
	AgentType       string       `db:"agent_type"`
	Name            string       `db:"name"`
	Description     string       `db:"description"`
	Status          string       `db:"status"`
	IsSystemAgent   bool         `db:"is_system_agent"`
	ServiceIdentity string       `db:"service_identity"`
	Endpoints       string       `db:"endpoints"`
	Capabilities    string       `db:"capabilities"`
	Metadata        string       `db:"metadata"`
	Permissions     string       `db:"permissions"`
	RegisteredAt    sql.NullTime `db:"registered_at"`
	LastHeartbeat   sql.NullTime `db:"last_heartbeat"`
}

func (row *catalogRow) toDescriptor() (*v1.AgentDescriptor, error) {
	desc := &v1.AgentDescriptor{
		AgentID:         row.AgentID,
		AgentType:       row.AgentType,
		Name:            row.Name,
		Description:     row.Description,
		Status:          v1.AgentStatus(row.Status),
		IsSystemAgent:   row.IsSystemAgent,
		ServiceIdentity: row.ServiceIdentity,
	}
	if err := json.Unmarshal([]byte(row.Endpoints), &desc.Endpoints); err != nil {
		return nil, fmt.Errorf("decode endpoints for %s: %w", row.AgentID, err)
	}
	if err := json.Unmarshal([]byte(row.Capabilities), &desc.Capabilities); err != nil {
		return nil, fmt.Errorf("decode capabilities for %s: %w", row.AgentID, err)
	}
	if err := json.Unmarshal([]byte(row.Metadata), &desc.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", row.AgentID, err)
	}
	if err := json.Unmarshal([]byte(row.Permissions), &desc.Permissions); err != nil {
		return nil, fmt.Errorf("decode permissions for %s: %w", row.AgentID, err)
	}
	if row.RegisteredAt.Valid {
		desc.RegisteredAt = row.RegisteredAt.Time.UTC()
	}
	if row.LastHeartbeat.Valid {
		desc.LastHeartbeat = row.LastHeartbeat.Time.UTC()
	}
	return desc, nil
}

// Get returns the catalog entry, or a not-found error.
func (c *SQLCatalog) Get(ctx context.Context, agentID string) (*v1.AgentDescriptor, error) {
	reader := c.pool.Reader()
	var row catalogRow
	err := reader.GetContext(ctx, &row,
		reader.Rebind(`SELECT * FROM agent_catalog WHERE agent_id = ?`), agentID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("agent", agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("query agent catalog: %w", err)
	}
	return row.toDescriptor()
}

// Put inserts or replaces the catalog entry.
func (c *SQLCatalog) Put(ctx context.Context, descriptor *v1.AgentDescriptor) error {
	endpoints, err := json.Marshal(descriptor.Endpoints)
	if err != nil {
		return fmt.Errorf("encode endpoints: %w", err)
	}
	capabilities, err := json.Marshal(descriptor.Capabilities)
	if err != nil {
		return fmt.Errorf("encode capabilities: %w", err)
	}
	metadata, err := json.Marshal(descriptor.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	permissions, err := json.Marshal(descriptor.Permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}

	writer := c.pool.Writer()
	query := writer.Rebind(`
		INSERT INTO agent_catalog (
			agent_id, agent_type, name, description, status, is_system_agent,
			service_identity, endpoints, capabilities, metadata, permissions,
			registered_at, last_heartbeat
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			agent_type = excluded.agent_type,
			name = excluded.name,
			description = excluded.description,
			status = excluded.status,
			is_system_agent = excluded.is_system_agent,
			service_identity = excluded.service_identity,
			endpoints = excluded.endpoints,
			capabilities = excluded.capabilities,
			metadata = excluded.metadata,
			permissions = excluded.permissions,
			registered_at = excluded.registered_at,
			last_heartbeat = excluded.last_heartbeat`)
	_, err = writer.ExecContext(ctx, query,
		descriptor.AgentID, descriptor.AgentType, descriptor.Name,
		descriptor.Description, string(descriptor.Status), descriptor.IsSystemAgent,
		descriptor.ServiceIdentity, string(endpoints), string(capabilities),
		string(metadata), string(permissions),
		nullableTime(descriptor.RegisteredAt), nullableTime(descriptor.LastHeartbeat))
	if err != nil {
		return fmt.Errorf("upsert agent catalog: %w", err)
	}
	return nil
}

// List returns all catalog entries.
func (c *SQLCatalog) List(ctx context.Context) ([]*v1.AgentDescriptor, error) {
	var rows []catalogRow
	if err := c.pool.Reader().SelectContext(ctx, &rows,
		`SELECT * FROM agent_catalog ORDER BY agent_id`); err != nil {
		return nil, fmt.Errorf("list agent catalog: %w", err)
	}

	results := make([]*v1.AgentDescriptor, 0, len(rows))
	for i := range rows {
		desc, err := rows[i].toDescriptor()
		if err != nil {
			return nil, err
		}
		results = append(results, desc)
	}
	return results, nil
}

// SetDisplayConfig records endpoints and permissions for backfill.
func (c *SQLCatalog) SetDisplayConfig(ctx context.Context, agentID string, endpoints v1.AgentEndpoints, permissions v1.AgentPermissions) error {
	endpointsJSON, err := json.Marshal(endpoints)
	if err != nil {
		return fmt.Errorf("encode endpoints: %w", err)
	}
	permissionsJSON, err := json.Marshal(permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	writer := c.pool.Writer()
	query := writer.Rebind(`
		INSERT INTO agent_display_configs (agent_id, endpoints, permissions)
		VALUES (?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			endpoints = excluded.endpoints,
			permissions = excluded.permissions`)
	_, err = writer.ExecContext(ctx, query,
		agentID, string(endpointsJSON), string(permissionsJSON))
	if err != nil {
		return fmt.Errorf("upsert display config: %w", err)
	}
	return nil
}

// GetDisplayConfig returns the display configuration recorded for an agent.
func (c *SQLCatalog) GetDisplayConfig(ctx context.Context, agentID string) (*v1.AgentEndpoints, *v1.AgentPermissions, error) {
	var row struct {
		Endpoints   string `db:"endpoints"`
		Permissions string `db:"permissions"`
	}
	reader := c.pool.Reader()
	err := reader.GetContext(ctx, &row,
		reader.Rebind(`SELECT endpoints, permissions FROM agent_display_configs WHERE agent_id = ?`), agentID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil, errors.NotFound("display config", agentID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("query display config: %w", err)
	}

	var endpoints v1.AgentEndpoints
	if err := json.Unmarshal([]byte(row.Endpoints), &endpoints); err != nil {
		return nil, nil, fmt.Errorf("decode endpoints: %w", err)
	}
	var permissions v1.AgentPermissions
	if err := json.Unmarshal([]byte(row.Permissions), &permissions); err != nil {
		return nil, nil, fmt.Errorf("decode permissions: %w", err)
	}
	return &endpoints, &permissions, nil
}

// Close closes the underlying pool.
func (c *SQLCatalog) Close() error {
	return c.pool.Close()
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
