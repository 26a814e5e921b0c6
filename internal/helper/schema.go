// internal/helper/schema.go
package helper

import (
	"context"
	"database/sql"
	"fmt"
)

// instancesSchema holds the DDL of the status mirror per driver.
var instancesSchema = map[string][]string{
	"postgres": {
		`CREATE TABLE IF NOT EXISTS instances (
            instance_name           VARCHAR(64) PRIMARY KEY,
            status                  VARCHAR(32) NOT NULL DEFAULT 'disconnected',
            is_connected            BOOLEAN NOT NULL DEFAULT false,
            phone_number            VARCHAR(32),
            profile_name            VARCHAR(255),
            reconnect_attempts      INT NOT NULL DEFAULT 0,
            last_disconnect_status  INT,
            last_disconnect_reason  TEXT,
            connected_at            TIMESTAMPTZ,
            disconnected_at         TIMESTAMPTZ,
            updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_instances_status ON instances(status)`,
		`CREATE INDEX IF NOT EXISTS idx_instances_phone_number ON instances(phone_number)`,
	},
	"mysql": {
		`CREATE TABLE IF NOT EXISTS instances (
            instance_name           VARCHAR(64) NOT NULL PRIMARY KEY,
            status                  VARCHAR(32) NOT NULL DEFAULT 'disconnected',
            is_connected            BOOLEAN NOT NULL DEFAULT false,
            phone_number            VARCHAR(32),
            profile_name            VARCHAR(255),
            reconnect_attempts      INT NOT NULL DEFAULT 0,
            last_disconnect_status  INT,
            last_disconnect_reason  TEXT,
            connected_at            DATETIME(6),
            disconnected_at         DATETIME(6),
            updated_at              DATETIME(6) NOT NULL,
            INDEX idx_instances_status (status),
            INDEX idx_instances_phone_number (phone_number)
        )`,
	},
}

// SchemaStatements returns the DDL for driver.
func SchemaStatements(driver string) ([]string, error) {
	stmts, ok := instancesSchema[driver]
	if !ok {
		return nil, fmt.Errorf("no schema for driver %q", driver)
	}
	return stmts, nil
}

// InitSchema creates the instances table if it does not exist yet.
func InitSchema(ctx context.Context, db *sql.DB, driver string) error {
	stmts, err := SchemaStatements(driver)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
