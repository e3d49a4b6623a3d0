package load

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/template"

	"github.com/marcboeker/go-duckdb"

	"github.com/nickjwilliams1987/MscCompSci-Final-Project/config"
	"github.com/nickjwilliams1987/MscCompSci-Final-Project/transform"
)

// LoadErrorKind distinguishes schema-validation failures (fatal, the row set
// does not match the declared table schema) from transport failures.
type LoadErrorKind string

const (
	KindValidation LoadErrorKind = "validation"
	KindTransport  LoadErrorKind = "transport"
)

// LoadError reports a failed warehouse load.
type LoadError struct {
	Kind  LoadErrorKind
	Table string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s error loading table %s: %v", e.Kind, e.Table, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

type DuckDB struct {
	Logger *slog.Logger
	DB     *sql.DB
	DBType string

	connector *duckdb.Connector
}

// NewDuckDB connects to the warehouse: a local DuckDB file, an in-memory
// database, or MotherDuck when the path has the md: prefix.
func NewDuckDB(cfg *config.Config, logger *slog.Logger) (*DuckDB, error) {
	var path string
	var dbType string
	if strings.HasPrefix(cfg.DuckDB.Path, "md:") {
		motherduckToken := os.Getenv("MOTHERDUCK_TOKEN")
		if motherduckToken == "" {
			return nil, fmt.Errorf("MOTHERDUCK_TOKEN env variable is not set")
		}
		path = fmt.Sprintf("%s?motherduck_token=%s", cfg.DuckDB.Path, motherduckToken)
		dbType = ":md:"
	} else if cfg.DuckDB.Path == "" || cfg.DuckDB.Path == ":memory:" {
		path = ""
		dbType = ":memory:"
	} else {
		path = cfg.DuckDB.Path
		dbType = path
	}

	var connInitFn func(driver.ExecerContext) error
	if len(cfg.DuckDB.ConnInitFnQueries) > 0 {
		connInitFn = func(exec driver.ExecerContext) error {
			for _, queryPath := range cfg.DuckDB.ConnInitFnQueries {
				query, err := os.ReadFile(queryPath)
				if err != nil {
					return fmt.Errorf("failed to read query file %s: %w", queryPath, err)
				}
				if _, err := exec.ExecContext(context.Background(), string(query), nil); err != nil {
					return fmt.Errorf("failed to execute query from file %s: %w", queryPath, err)
				}
			}
			return nil
		}
	}

	connector, err := duckdb.NewConnector(path, connInitFn)
	if err != nil {
		return nil, err
	}

	db := sql.OpenDB(connector)

	switch dbType {
	case ":memory:":
		logger.Info("Connected to DuckDB in-memory database")
	case ":md:":
		logger.Info("Connected to MotherDuck database")
	default:
		logger.Info(fmt.Sprintf("Connected to local DuckDB database at %s", dbType))
	}

	return &DuckDB{
		Logger:    logger,
		DB:        db,
		DBType:    dbType,
		connector: connector,
	}, nil
}

func (db *DuckDB) Close() {
	db.DB.Close()
	db.connector.Close()
}

// EnsureTable creates the target table from the declared schema if it does
// not exist yet, including the schema namespace for dotted table names.
func (db *DuckDB) EnsureTable(ctx context.Context, table string, schema []config.Column) error {
	if namespace, _, found := strings.Cut(table, "."); found {
		ddl := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s;", namespace)
		if _, err := db.DB.ExecContext(ctx, ddl); err != nil {
			return &LoadError{Kind: KindTransport, Table: table, Err: err}
		}
	}

	cols := make([]string, len(schema))
	var pk []string
	for i, col := range schema {
		cols[i] = fmt.Sprintf("%s %s", col.Name, duckdbType(col.Type))
		if col.PrimaryKey {
			pk = append(pk, col.Name)
		}
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s", table, strings.Join(cols, ", "))
	if len(pk) > 0 {
		ddl += fmt.Sprintf(", PRIMARY KEY (%s)", strings.Join(pk, ", "))
	}
	ddl += ");"

	db.Logger.Debug("Ensuring warehouse table", "query", ddl)

	if _, err := db.DB.ExecContext(ctx, ddl); err != nil {
		return &LoadError{Kind: KindTransport, Table: table, Err: err}
	}
	return nil
}

// LoadSnapshot appends the cleaned snapshot to the target table. The frame
// is validated against the declared schema before anything is transmitted;
// with a declared primary key, insert-or-replace semantics apply so a re-run
// for the same keys does not duplicate rows.
func (db *DuckDB) LoadSnapshot(ctx context.Context, frame *transform.Frame, table string, schema []config.Column) (int64, error) {
	if err := validateFrame(frame, table, schema); err != nil {
		return 0, err
	}

	csv, err := frame.CSV()
	if err != nil {
		return 0, &LoadError{Kind: KindValidation, Table: table, Err: err}
	}

	tmpFile, err := createTmpFile(csv)
	if err != nil {
		return 0, &LoadError{Kind: KindTransport, Table: table, Err: err}
	}
	defer os.Remove(tmpFile.Name())

	hasPK := false
	for _, col := range schema {
		if col.PrimaryKey {
			hasPK = true
		}
	}

	var query string
	if hasPK {
		query = fmt.Sprintf("INSERT OR REPLACE INTO %s SELECT * FROM read_csv('%s', delim=',', quote='\"', escape='\"', header=true);", table, tmpFile.Name())
	} else {
		query = fmt.Sprintf("INSERT INTO %s SELECT * FROM read_csv('%s', delim=',', quote='\"', escape='\"', header=true);", table, tmpFile.Name())
	}

	db.Logger.Debug("Executing DuckDB query", "query", query)

	res, err := db.DB.ExecContext(ctx, query)
	if err != nil {
		return 0, &LoadError{Kind: KindTransport, Table: table, Err: err}
	}

	rows, err := res.RowsAffected()
	if err != nil {
		rows = int64(len(frame.Rows))
	}
	return rows, nil
}

// validateFrame checks column count, order and cell types against the
// declared schema. Validation failures name the offending column so a bad
// feed is diagnosable from the error alone.
func validateFrame(frame *transform.Frame, table string, schema []config.Column) error {
	if len(frame.Columns) != len(schema) {
		return &LoadError{
			Kind:  KindValidation,
			Table: table,
			Err:   fmt.Errorf("snapshot has %d columns, schema declares %d", len(frame.Columns), len(schema)),
		}
	}
	for i, col := range schema {
		if frame.Columns[i] != col.Name {
			return &LoadError{
				Kind:  KindValidation,
				Table: table,
				Err:   fmt.Errorf("column %d is %q, schema declares %q", i, frame.Columns[i], col.Name),
			}
		}
	}

	for _, row := range frame.Rows {
		for i, col := range schema {
			if row[i] == "" {
				continue
			}
			if err := checkCell(row[i], col.Type); err != nil {
				return &LoadError{
					Kind:  KindValidation,
					Table: table,
					Err:   fmt.Errorf("column %q (%s): %w", col.Name, col.Type, err),
				}
			}
		}
	}
	return nil
}

func checkCell(cell string, colType config.ColumnType) error {
	switch colType {
	case config.TypeInteger:
		if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
			return fmt.Errorf("value %q is not an integer", cell)
		}
	case config.TypeFloat:
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			return fmt.Errorf("value %q is not a float", cell)
		}
	case config.TypeDate, config.TypeTimestamp:
		if _, err := transform.ParseTime(cell); err != nil {
			return fmt.Errorf("value %q is not a valid %s", cell, colType)
		}
	}
	return nil
}

func duckdbType(colType config.ColumnType) string {
	switch colType {
	case config.TypeInteger:
		return "BIGINT"
	case config.TypeFloat:
		return "DOUBLE"
	case config.TypeDate:
		return "DATE"
	case config.TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}

// RunTemplatedQuery reads a SQL template file, fills in the parameters with
// text/template and executes the result.
func (db *DuckDB) RunTemplatedQuery(ctx context.Context, path string, params map[string]any) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read template file: %w", err)
	}

	tmpl, err := template.New("sql").Parse(string(content))
	if err != nil {
		return fmt.Errorf("failed to parse query template: %w", err)
	}

	var queryBuffer bytes.Buffer
	if err := tmpl.Execute(&queryBuffer, params); err != nil {
		return fmt.Errorf("failed to execute query template: %w", err)
	}

	db.Logger.Debug("Executing DuckDB query", "query", queryBuffer.String())

	if _, err := db.DB.ExecContext(ctx, queryBuffer.String()); err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}

	return nil
}

// GetQueryResults executes a query and returns all values as strings, keyed
// by column name.
func (db *DuckDB) GetQueryResults(query string) (map[string][]string, error) {
	rows, err := db.DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	results := make(map[string][]string)
	for _, col := range columns {
		results[col] = []string{}
	}

	values := make([]any, len(columns))
	scanArgs := make([]any, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, col := range columns {
			if values[i] == nil {
				results[col] = append(results[col], "")
				continue
			}
			results[col] = append(results[col], fmt.Sprintf("%v", values[i]))
		}
	}

	return results, rows.Err()
}

func createTmpFile(csv []byte) (*os.File, error) {
	if len(csv) == 0 {
		return nil, fmt.Errorf("received empty CSV data")
	}

	tmpFile, err := os.CreateTemp("", "snapshot.*.csv")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}

	if _, err := tmpFile.Write(csv); err != nil {
		tmpFile.Close()
		return nil, fmt.Errorf("failed to write to temporary file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temporary file: %w", err)
	}

	return tmpFile, nil
}
