package warehouse

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"tgpipeline/pkg/records"
)

// Dialect captures what differs between warehouse engines
type Dialect struct {
	Name            string
	DriverName      string
	Placeholder     sq.PlaceholderFormat
	MessagesTable   string
	DetectionsTable string
	bootstrap       []string
}

// Postgres lands rows in the raw schema as JSONB
var Postgres = Dialect{
	Name:            "postgres",
	DriverName:      "postgres",
	Placeholder:     sq.Dollar,
	MessagesTable:   "raw.telegram_messages",
	DetectionsTable: "raw.image_detections",
	bootstrap: []string{
		`CREATE SCHEMA IF NOT EXISTS raw`,
		`CREATE TABLE IF NOT EXISTS raw.telegram_messages (
			id SERIAL PRIMARY KEY,
			data JSONB,
			file_name VARCHAR(255),
			loaded_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS raw.image_detections (
			id SERIAL PRIMARY KEY,
			data JSONB,
			loaded_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
	},
}

// SQLite is the embedded warehouse. It has no schemas, so the raw namespace
// becomes a table prefix.
var SQLite = Dialect{
	Name:            "sqlite",
	DriverName:      "sqlite",
	Placeholder:     sq.Question,
	MessagesTable:   "raw_telegram_messages",
	DetectionsTable: "raw_image_detections",
	bootstrap: []string{
		`CREATE TABLE IF NOT EXISTS raw_telegram_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			data TEXT CHECK (json_valid(data)),
			file_name VARCHAR(255),
			loaded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS raw_image_detections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			data TEXT CHECK (json_valid(data)),
			loaded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	},
}

// DialectFor returns the dialect for a configured driver name
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported warehouse driver %q", driver)
	}
}

// BootstrapStatements returns the idempotent DDL of the dialect
func (d Dialect) BootstrapStatements() []string {
	return append([]string(nil), d.bootstrap...)
}

func (d Dialect) insertMessage(row records.Row) (string, []interface{}, error) {
	return sq.Insert(d.MessagesTable).
		Columns("data", "file_name").
		Values(string(row.Payload), row.SourceFile).
		PlaceholderFormat(d.Placeholder).
		ToSql()
}

func (d Dialect) insertDetection(row records.Row) (string, []interface{}, error) {
	return sq.Insert(d.DetectionsTable).
		Columns("data").
		Values(string(row.Payload)).
		PlaceholderFormat(d.Placeholder).
		ToSql()
}

func (d Dialect) countRows(table string) (string, []interface{}, error) {
	return sq.Select("COUNT(*)").
		From(table).
		PlaceholderFormat(d.Placeholder).
		ToSql()
}
