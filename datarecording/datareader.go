package datarecording

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/structs"
)

var (
	// ErrUnknownTable is returned when querying a table that is not mapped.
	ErrUnknownTable = errors.New("table is not mapped")

	// ErrUnknownColumn is returned for conditions or orderings on columns
	// the mapped struct does not have.
	ErrUnknownColumn = errors.New("unknown column")

	// ErrInvalidCondition is returned for conditions that cannot be parsed
	// or use an unsupported operator.
	ErrInvalidCondition = errors.New("invalid condition")
)

// An Op compares a column with a value.
type Op string

// The supported comparisons.
const (
	OpEq Op = "="
	OpNe Op = "!="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

// Two-character operators come first so that "<=" is not read as "<".
var ops = []Op{OpLe, OpGe, OpNe, OpEq, OpLt, OpGt}

func (o Op) valid() bool {
	for _, op := range ops {
		if o == op {
			return true
		}
	}

	return false
}

// A Condition restricts the rows of a query to those whose column compares
// to the value.
type Condition struct {
	Column string
	Op     Op
	Value  any
}

// ParseCondition parses conditions written like "PPN>=0x21" or
// "Kind=invalid entry". Values that parse as integers, including the 0x
// form, compare as numbers; anything else compares as text.
func ParseCondition(s string) (Condition, error) {
	idx := strings.IndexAny(s, "<>=!")
	if idx <= 0 {
		return Condition{}, fmt.Errorf("%w: %q", ErrInvalidCondition, s)
	}

	c := Condition{Column: strings.TrimSpace(s[:idx])}
	rest := s[idx:]

	for _, op := range ops {
		if strings.HasPrefix(rest, string(op)) {
			c.Op = op
			c.Value = parseValue(strings.TrimSpace(rest[len(op):]))

			return c, nil
		}
	}

	return Condition{}, fmt.Errorf("%w: %q", ErrInvalidCondition, s)
}

func parseValue(s string) any {
	if u, err := strconv.ParseUint(s, 0, 64); err == nil {
		return u
	}

	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		return i
	}

	return s
}

// QueryParams selects and orders the rows of a query.
type QueryParams struct {
	// Where holds conditions that all rows must satisfy.
	Where []Condition

	// OrderBy names the column to sort by. Rows come in insertion order if
	// it is empty.
	OrderBy    string
	Descending bool

	// Limit is the maximum number of rows to return, 0 for all.
	Limit int

	// Offset is the number of rows to skip.
	Offset int
}

// DataReader reads back the tables a DataRecorder wrote.
type DataReader interface {
	// MapTable binds a table to the struct type of its rows. Only mapped
	// tables can be queried.
	MapTable(tableName string, sampleEntry any)

	// ListTables returns the names of the mapped tables.
	ListTables() []string

	// Columns returns the columns of a mapped table.
	Columns(tableName string) ([]string, error)

	// Query returns pointers to the rows that match, and the number of
	// matching rows before the limit and offset apply.
	Query(ctx context.Context, tableName string, params QueryParams) (
		results []any,
		totalCount int,
		err error,
	)

	// Close closes the database.
	Close() error
}

type tableSchema struct {
	structType reflect.Type
	columns    []string
}

func (s tableSchema) hasColumn(name string) bool {
	for _, c := range s.columns {
		if c == name {
			return true
		}
	}

	return false
}

type sqliteReader struct {
	*sql.DB

	schemas map[string]tableSchema
}

// NewReader opens the recording in the given SQLite file.
func NewReader(dbFilename string) DataReader {
	db, err := sql.Open("sqlite3", dbFilename)
	if err != nil {
		panic(err)
	}

	return NewReaderWithDB(db)
}

// NewReaderWithDB creates a DataReader on an open database.
func NewReaderWithDB(db *sql.DB) DataReader {
	return &sqliteReader{
		DB:      db,
		schemas: make(map[string]tableSchema),
	}
}

func (r *sqliteReader) MapTable(tableName string, sampleEntry any) {
	err := checkStructFields(sampleEntry)
	if err != nil {
		panic(err)
	}

	r.schemas[tableName] = tableSchema{
		structType: reflect.TypeOf(sampleEntry),
		columns:    structs.Names(sampleEntry),
	}
}

func (r *sqliteReader) ListTables() []string {
	tables := make([]string, 0, len(r.schemas))
	for table := range r.schemas {
		tables = append(tables, table)
	}

	sort.Strings(tables)

	return tables
}

func (r *sqliteReader) schemaOf(tableName string) (tableSchema, error) {
	schema, ok := r.schemas[tableName]
	if !ok {
		return tableSchema{}, fmt.Errorf("%w: %s", ErrUnknownTable, tableName)
	}

	return schema, nil
}

func (r *sqliteReader) Columns(tableName string) ([]string, error) {
	schema, err := r.schemaOf(tableName)
	if err != nil {
		return nil, err
	}

	return append([]string(nil), schema.columns...), nil
}

func (r *sqliteReader) Query(
	ctx context.Context,
	tableName string,
	params QueryParams,
) ([]any, int, error) {
	schema, err := r.schemaOf(tableName)
	if err != nil {
		return nil, 0, err
	}

	where, args, err := whereClause(schema, params.Where)
	if err != nil {
		return nil, 0, err
	}

	query := "SELECT " + strings.Join(schema.columns, ", ") +
		" FROM " + tableName + where

	if params.OrderBy != "" {
		if !schema.hasColumn(params.OrderBy) {
			return nil, 0, fmt.Errorf("%w: %s.%s",
				ErrUnknownColumn, tableName, params.OrderBy)
		}

		query += " ORDER BY " + params.OrderBy
		if params.Descending {
			query += " DESC"
		}
	}

	if params.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", params.Limit, params.Offset)
	} else if params.Offset > 0 {
		query += fmt.Sprintf(" LIMIT -1 OFFSET %d", params.Offset)
	}

	var totalCount int

	err = r.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+tableName+where, args...).Scan(&totalCount)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	results, err := scanRows(rows, schema.structType)
	if err != nil {
		return nil, 0, err
	}

	return results, totalCount, nil
}

func whereClause(
	schema tableSchema,
	conditions []Condition,
) (string, []any, error) {
	if len(conditions) == 0 {
		return "", nil, nil
	}

	terms := make([]string, 0, len(conditions))
	args := make([]any, 0, len(conditions))

	for _, c := range conditions {
		if !schema.hasColumn(c.Column) {
			return "", nil, fmt.Errorf("%w: %s", ErrUnknownColumn, c.Column)
		}

		if !c.Op.valid() {
			return "", nil, fmt.Errorf("%w: operator %q",
				ErrInvalidCondition, c.Op)
		}

		terms = append(terms, c.Column+" "+string(c.Op)+" ?")
		args = append(args, c.Value)
	}

	return " WHERE " + strings.Join(terms, " AND "), args, nil
}

// scanRows scans rows whose columns follow the field order of structType.
func scanRows(rows *sql.Rows, structType reflect.Type) ([]any, error) {
	results := []any{}

	for rows.Next() {
		ptr := reflect.New(structType)
		targets := make([]any, structType.NumField())

		for i := range targets {
			targets[i] = ptr.Elem().Field(i).Addr().Interface()
		}

		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}

		results = append(results, ptr.Interface())
	}

	return results, rows.Err()
}

func (r *sqliteReader) Close() error {
	return r.DB.Close()
}
