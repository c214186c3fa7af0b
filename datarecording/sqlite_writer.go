package datarecording

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/desim/idgen"
)

var recordingNames = idgen.NewParallel()

// New creates a DataRecorder that writes into the SQLite file
// path + ".sqlite3". An empty path picks a unique name. It refuses to
// overwrite an existing file. Buffered entries are flushed when the
// program exits through atexit.
func New(path string) (DataRecorder, error) {
	if path == "" {
		path = "desim_recording_" + recordingNames.Generate()
	}

	filename := path + ".sqlite3"

	if _, err := os.Stat(filename); err == nil {
		return nil, fmt.Errorf("file %s already exists", filename)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, err
	}

	logrus.WithField("file", filename).Info("database created for recording")

	w := newSQLiteWriter(db)
	w.filename = filename

	return w, nil
}

// NewWithDB creates a DataRecorder on an already opened SQLite database.
func NewWithDB(db *sql.DB) DataRecorder {
	return newSQLiteWriter(db)
}

func newSQLiteWriter(db *sql.DB) *sqliteWriter {
	w := &sqliteWriter{
		DB:       db,
		tableSet: newTableSet(defaultBatchSize),
	}

	atexit.Register(func() {
		if err := w.Flush(); err != nil {
			logrus.WithError(err).Error("failed to flush recording at exit")
		}
	})

	return w
}

// sqliteWriter is the writer that writes data into SQLite database.
type sqliteWriter struct {
	*sql.DB
	*tableSet

	filename string
	closed   bool
}

func (w *sqliteWriter) CreateTable(tableName string, sampleEntry any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	schema, err := w.add(tableName, sampleEntry)
	if err != nil {
		return err
	}

	names := make([]string, len(schema.columns))
	for i, c := range schema.columns {
		names[i] = c.Name
	}

	createTableSQL := `CREATE TABLE ` + tableName +
		` (` + "\n\t" + strings.Join(names, ", \n\t") + "\n" + `);`

	if _, err := w.Exec(createTableSQL); err != nil {
		delete(w.tables, tableName)
		return fmt.Errorf("create table %s: %w", tableName, err)
	}

	return nil
}

func (w *sqliteWriter) InsertData(tableName string, entry any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	full, err := w.buffer(tableName, entry)
	if err != nil {
		return err
	}

	if full {
		return w.flushLocked()
	}

	return nil
}

func (w *sqliteWriter) ListTables() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.names()
}

func (w *sqliteWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.flushLocked()
}

func (w *sqliteWriter) flushLocked() error {
	if w.entryCount == 0 || w.closed {
		return nil
	}

	tx, err := w.Begin()
	if err != nil {
		return err
	}

	for _, name := range w.names() {
		t := w.tables[name]
		if len(t.entries) == 0 {
			continue
		}

		if err := insertRows(tx, name, t); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	w.reset()

	return nil
}

func insertRows(tx *sql.Tx, tableName string, t *table) error {
	placeholders := strings.TrimSuffix(
		strings.Repeat("?, ", len(t.schema.columns)), ", ")
	sqlStr := "INSERT INTO " + tableName + " VALUES (" + placeholders + ")"

	stmt, err := tx.Prepare(sqlStr)
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", tableName, err)
	}
	defer stmt.Close()

	for _, row := range t.entries {
		if _, err := stmt.Exec(row...); err != nil {
			return fmt.Errorf("insert into %s: %w", tableName, err)
		}
	}

	return nil
}

func (w *sqliteWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	if err := w.flushLocked(); err != nil {
		return err
	}

	w.closed = true

	return w.DB.Close()
}
