// Package datarecording stores flat records produced during simulation in
// a database, one table per record type.
package datarecording

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"sync"
)

var (
	// ErrInvalidEntry is returned for sample entries that are not flat
	// structs of scalar fields.
	ErrInvalidEntry = errors.New("entry is invalid")

	// ErrTableNotFound is returned when inserting into an unknown table.
	ErrTableNotFound = errors.New("table does not exist")

	// ErrTableExists is returned when creating a table twice.
	ErrTableExists = errors.New("table already exists")

	// ErrEntryTypeMismatch is returned when an entry does not have the type
	// of the sample entry the table was created with.
	ErrEntryTypeMismatch = errors.New("entry type does not match table")
)

// DataRecorder is a backend that can record and store data.
type DataRecorder interface {
	// CreateTable creates a table whose columns are the fields of
	// sampleEntry.
	CreateTable(tableName string, sampleEntry any) error

	// InsertData buffers an entry for a table that already exists.
	InsertData(tableName string, entry any) error

	// ListTables returns the names of all tables, sorted.
	ListTables() []string

	// Flush writes all the buffered entries into the database.
	Flush() error

	// Close flushes and releases the database.
	Close() error
}

const defaultBatchSize = 100000

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type column struct {
	Name string
	Kind reflect.Kind
}

type tableSchema struct {
	structType reflect.Type
	columns    []column
}

func isAllowedKind(kind reflect.Kind) bool {
	switch kind {
	case
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
		reflect.Float32,
		reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

func schemaOf(tableName string, sampleEntry any) (tableSchema, error) {
	if !tableNamePattern.MatchString(tableName) {
		return tableSchema{}, fmt.Errorf("%w: bad table name %q",
			ErrInvalidEntry, tableName)
	}

	t := reflect.TypeOf(sampleEntry)
	if t == nil || t.Kind() != reflect.Struct {
		return tableSchema{}, fmt.Errorf("%w: %T is not a struct",
			ErrInvalidEntry, sampleEntry)
	}

	schema := tableSchema{structType: t}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if !field.IsExported() {
			return tableSchema{}, fmt.Errorf("%w: field %s is not exported",
				ErrInvalidEntry, field.Name)
		}

		if !isAllowedKind(field.Type.Kind()) {
			return tableSchema{}, fmt.Errorf("%w: field %s has kind %s",
				ErrInvalidEntry, field.Name, field.Type.Kind())
		}

		schema.columns = append(schema.columns,
			column{Name: field.Name, Kind: field.Type.Kind()})
	}

	if len(schema.columns) == 0 {
		return tableSchema{}, fmt.Errorf("%w: %T has no fields",
			ErrInvalidEntry, sampleEntry)
	}

	return schema, nil
}

// values flattens an entry into column values with canonical Go types.
func (s tableSchema) values(entry any) ([]any, error) {
	v := reflect.ValueOf(entry)
	if !v.IsValid() {
		return nil, fmt.Errorf("%w: got nil, want %s",
			ErrEntryTypeMismatch, s.structType)
	}

	if v.Type() != s.structType {
		return nil, fmt.Errorf("%w: got %s, want %s",
			ErrEntryTypeMismatch, v.Type(), s.structType)
	}

	values := make([]any, len(s.columns))

	for i := range s.columns {
		f := v.Field(i)

		switch f.Kind() {
		case reflect.Bool:
			values[i] = f.Bool()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			values[i] = f.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			values[i] = f.Uint()
		case reflect.Float32, reflect.Float64:
			values[i] = f.Float()
		default:
			values[i] = f.String()
		}
	}

	return values, nil
}

type table struct {
	schema  tableSchema
	entries [][]any
}

// tableSet holds the schemas and buffered rows shared by every backend.
type tableSet struct {
	mu         sync.Mutex
	tables     map[string]*table
	batchSize  int
	entryCount int
}

func newTableSet(batchSize int) *tableSet {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	return &tableSet{
		tables:    make(map[string]*table),
		batchSize: batchSize,
	}
}

func (s *tableSet) add(tableName string, sampleEntry any) (tableSchema, error) {
	schema, err := schemaOf(tableName, sampleEntry)
	if err != nil {
		return tableSchema{}, err
	}

	if _, exists := s.tables[tableName]; exists {
		return tableSchema{}, fmt.Errorf("%w: %s", ErrTableExists, tableName)
	}

	s.tables[tableName] = &table{schema: schema}

	return schema, nil
}

// buffer appends an entry and reports whether the batch is full.
func (s *tableSet) buffer(tableName string, entry any) (bool, error) {
	t, exists := s.tables[tableName]
	if !exists {
		return false, fmt.Errorf("%w: %s", ErrTableNotFound, tableName)
	}

	values, err := t.schema.values(entry)
	if err != nil {
		return false, err
	}

	t.entries = append(t.entries, values)
	s.entryCount++

	return s.entryCount >= s.batchSize, nil
}

func (s *tableSet) names() []string {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func (s *tableSet) reset() {
	for _, t := range s.tables {
		t.entries = nil
	}

	s.entryCount = 0
}
