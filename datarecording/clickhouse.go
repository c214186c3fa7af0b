package datarecording

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/tebeka/atexit"
)

// ClickHouseConfig describes how to reach a ClickHouse server.
type ClickHouseConfig struct {
	Addr      string
	Database  string
	Username  string
	Password  string
	BatchSize int
}

// clickHouseRecorder writes records to ClickHouse with native batch
// inserts.
type clickHouseRecorder struct {
	*tableSet

	conn    clickhouse.Conn
	timeout time.Duration
}

// NewClickHouse connects to a ClickHouse server and returns a DataRecorder
// writing into it. Tables are created if they do not exist yet.
func NewClickHouse(ctx context.Context, cfg ClickHouseConfig) (DataRecorder, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      30 * time.Second,
		MaxOpenConns:     5,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	r := &clickHouseRecorder{
		tableSet: newTableSet(cfg.BatchSize),
		conn:     conn,
		timeout:  time.Minute,
	}

	atexit.Register(func() { _ = r.Flush() })

	return r, nil
}

func clickHouseType(kind reflect.Kind) string {
	switch kind {
	case reflect.Bool:
		return "Bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "Int64"
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "UInt64"
	case reflect.Float32, reflect.Float64:
		return "Float64"
	default:
		return "String"
	}
}

func clickHouseCreateTableSQL(tableName string, schema tableSchema) string {
	cols := make([]string, len(schema.columns))
	for i, c := range schema.columns {
		cols[i] = c.Name + " " + clickHouseType(c.Kind)
	}

	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n\t%s\n) ENGINE = MergeTree()\nORDER BY tuple()",
		tableName, strings.Join(cols, ",\n\t"))
}

func (r *clickHouseRecorder) CreateTable(tableName string, sampleEntry any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	schema, err := r.add(tableName, sampleEntry)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.conn.Exec(ctx, clickHouseCreateTableSQL(tableName, schema)); err != nil {
		delete(r.tables, tableName)
		return fmt.Errorf("failed to create table %s: %w", tableName, err)
	}

	return nil
}

func (r *clickHouseRecorder) InsertData(tableName string, entry any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	full, err := r.buffer(tableName, entry)
	if err != nil {
		return err
	}

	if full {
		return r.flushLocked()
	}

	return nil
}

func (r *clickHouseRecorder) ListTables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.names()
}

func (r *clickHouseRecorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.flushLocked()
}

func (r *clickHouseRecorder) flushLocked() error {
	if r.entryCount == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	for _, name := range r.names() {
		t := r.tables[name]
		if len(t.entries) == 0 {
			continue
		}

		batch, err := r.conn.PrepareBatch(ctx, "INSERT INTO "+name)
		if err != nil {
			return fmt.Errorf("failed to prepare batch for %s: %w", name, err)
		}

		for _, row := range t.entries {
			if err := batch.Append(row...); err != nil {
				return fmt.Errorf("failed to append to %s: %w", name, err)
			}
		}

		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to send batch for %s: %w", name, err)
		}

		t.entries = nil
	}

	r.reset()

	return nil
}

func (r *clickHouseRecorder) Close() error {
	if err := r.Flush(); err != nil {
		return err
	}

	return r.conn.Close()
}
