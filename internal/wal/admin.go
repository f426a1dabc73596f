package wal

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"

	"wirecdc/internal/parser"

	"go.uber.org/zap"
)

// Admin provisions the server-side objects a replication session depends on:
// wal_level must be logical, the publication and the slot must exist.
// Existence checks and publication DDL run on a regular connection; slot
// creation runs on a replication connection because CREATE_REPLICATION_SLOT
// is a replication-protocol command.
type Admin struct {
	slot   SlotConfig
	logger *zap.Logger
}

func NewAdmin(slot SlotConfig, logger *zap.Logger) *Admin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Admin{slot: slot, logger: logger}
}

// EnsurePrerequisites verifies wal_level and creates the configured
// publication and replication slot when they are missing. Existing objects
// are left untouched.
func (a *Admin) EnsurePrerequisites(ctx context.Context) error {
	if a.slot.DatabaseURL == "" {
		return fmt.Errorf("missing database url for provisioning")
	}
	conn, err := pgconn.Connect(ctx, a.slot.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect for provisioning: %w", err)
	}
	defer conn.Close(ctx)

	if err := a.checkWALLevel(ctx, conn); err != nil {
		return err
	}
	for _, pub := range a.slot.Publications {
		if err := a.ensurePublication(ctx, conn, pub); err != nil {
			return err
		}
	}
	if err := a.ensureSlot(ctx, conn); err != nil {
		return err
	}
	return nil
}

func (a *Admin) checkWALLevel(ctx context.Context, conn *pgconn.PgConn) error {
	level, found, err := queryScalar(ctx, conn, `SHOW wal_level;`)
	if err != nil {
		return fmt.Errorf("query wal_level: %w", err)
	}
	if !found || level != "logical" {
		return fmt.Errorf("logical replication isn't enabled: wal_level = %q", level)
	}
	return nil
}

func (a *Admin) ensurePublication(ctx context.Context, conn *pgconn.PgConn, name string) error {
	if !validIdentifier(name) {
		return fmt.Errorf("invalid publication name %q", name)
	}
	count, _, err := queryScalar(ctx, conn, fmt.Sprintf(
		`SELECT COUNT(*) FROM pg_catalog.pg_publication WHERE pubname = '%s';`, name))
	if err != nil {
		return fmt.Errorf("query publications: %w", err)
	}
	if count == "1" {
		a.logger.Debug("publication exists", zap.String("publication", name))
		return nil
	}

	ddl, err := publicationDDL(name, filterTables(a.slot.TableFilter))
	if err != nil {
		return err
	}
	a.logger.Info("creating publication", zap.String("publication", name))
	if _, err := conn.Exec(ctx, ddl).ReadAll(); err != nil {
		return fmt.Errorf("create publication %q: %w", name, err)
	}
	return nil
}

func (a *Admin) ensureSlot(ctx context.Context, conn *pgconn.PgConn) error {
	name := a.slot.SlotName
	if !validIdentifier(name) {
		return fmt.Errorf("invalid slot name %q", name)
	}
	count, _, err := queryScalar(ctx, conn, fmt.Sprintf(
		`SELECT COUNT(*) FROM pg_catalog.pg_replication_slots WHERE slot_name = '%s' AND slot_type = 'logical';`, name))
	if err != nil {
		return fmt.Errorf("query replication slots: %w", err)
	}
	if count == "1" {
		a.logger.Debug("replication slot exists", zap.String("slot", name))
		return nil
	}

	plugin := a.slot.Plugin
	if plugin == "" {
		plugin = parser.PluginPGOutput
	}
	if plugin != parser.PluginPGOutput && plugin != parser.PluginWal2JSON {
		return fmt.Errorf("unsupported plugin: %s", plugin)
	}

	cfg, err := pgconn.ParseConfig(a.slot.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse db url: %w", err)
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	cfg.RuntimeParams["replication"] = "database"
	replConn, err := pgconn.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect for slot creation: %w", err)
	}
	defer replConn.Close(ctx)

	a.logger.Info("creating replication slot", zap.String("slot", name), zap.String("plugin", plugin))
	if _, err := pglogrepl.CreateReplicationSlot(ctx, replConn, name, plugin,
		pglogrepl.CreateReplicationSlotOptions{Mode: pglogrepl.LogicalReplication}); err != nil {
		return fmt.Errorf("create replication slot %q: %w", name, err)
	}
	return nil
}

// publicationDDL builds the CREATE PUBLICATION statement. An empty table
// list publishes everything.
func publicationDDL(name string, tables []string) (string, error) {
	if len(tables) == 0 {
		return fmt.Sprintf(`CREATE PUBLICATION %q FOR ALL TABLES;`, name), nil
	}
	quoted := make([]string, 0, len(tables))
	for _, t := range tables {
		schema, table, ok := strings.Cut(t, ".")
		if !ok || !validIdentifier(schema) || !validIdentifier(table) {
			return "", fmt.Errorf("invalid table name %q, want schema.table", t)
		}
		quoted = append(quoted, fmt.Sprintf("%q.%q", schema, table))
	}
	return fmt.Sprintf(`CREATE PUBLICATION %q FOR TABLE %s;`, name, strings.Join(quoted, ", ")), nil
}

func filterTables(filter map[string]struct{}) []string {
	if len(filter) == 0 {
		return nil
	}
	tables := make([]string, 0, len(filter))
	for t := range filter {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

// validIdentifier accepts the unquoted lowercase identifiers replication
// objects use. Anything else would need quoting and is rejected instead of
// interpolated into DDL.
func validIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}

func queryScalar(ctx context.Context, conn *pgconn.PgConn, sql string) (string, bool, error) {
	results, err := conn.Exec(ctx, sql).ReadAll()
	if err != nil {
		return "", false, err
	}
	for _, res := range results {
		if len(res.Rows) > 0 && len(res.Rows[0]) > 0 {
			return string(res.Rows[0][0]), true, nil
		}
	}
	return "", false, nil
}
