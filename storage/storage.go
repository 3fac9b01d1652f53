// Package storage persists observed values into the relational store
// the analysis tooling reads. Each transducer model routes to its own
// table; an experiment row ties the series together.
package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/asaldivar93/reactors-czlab/types"
)

// Info is one observed value pushed by the mirror.
type Info struct {
	Model       string
	Name        string // transducer id
	Units       string
	Value       float64
	Calibration *types.Calibration
}

// modelTables routes info.Model to its destination table.
var modelTables = map[string]string{
	"visiferm": "visiferm",
	"arcph":    "arcph",
	"analog":   "analog",
	"actuator": "actuator",
	"digital":  "digital",
}

// Store wraps the SQLite database.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	expID   int64
	expName string
}

// Open opens (and if needed initializes) the database at path. Use
// ":memory:" for tests.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	s := &Store{db: db, log: log}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema() error {
	const experiments = `CREATE TABLE IF NOT EXISTS experiments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		date TEXT NOT NULL,
		reactors TEXT NOT NULL,
		volume REAL NOT NULL
	)`
	if _, err := s.db.Exec(experiments); err != nil {
		return fmt.Errorf("storage: creating experiments: %w", err)
	}
	for _, table := range modelTables {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			experiment_id INTEGER NOT NULL REFERENCES experiments(id),
			date TEXT NOT NULL,
			reactor TEXT NOT NULL,
			name TEXT NOT NULL,
			value REAL NOT NULL,
			units TEXT NOT NULL,
			calibration TEXT
		)`, table)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("storage: creating %s: %w", table, err)
		}
	}
	return nil
}

// CreateExperiment registers the experiment every subsequent StoreData
// call belongs to.
func (s *Store) CreateExperiment(name string, date time.Time, reactors []string, volume float64) error {
	res, err := s.db.Exec(
		`INSERT INTO experiments (name, date, reactors, volume) VALUES (?, ?, ?, ?)`,
		name, date.Format(time.RFC3339), strings.Join(reactors, ","), volume,
	)
	if err != nil {
		return fmt.Errorf("storage: creating experiment %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.expID = id
	s.expName = name
	s.log.Info().Str("experiment", name).Int64("id", id).Msg("experiment created")
	return nil
}

// StoreData inserts one observation into the table its model selects.
func (s *Store) StoreData(info Info, reactorID, experimentName string, ts time.Time) error {
	table, ok := modelTables[strings.ToLower(info.Model)]
	if !ok {
		return fmt.Errorf("storage: unknown model %q", info.Model)
	}
	if experimentName != s.expName {
		return fmt.Errorf("storage: unknown experiment %q", experimentName)
	}
	var cal any
	if info.Calibration != nil {
		cal = fmt.Sprintf("%g,%g", info.Calibration.A, info.Calibration.B)
	}
	stmt := fmt.Sprintf(
		`INSERT INTO %s (experiment_id, date, reactor, name, value, units, calibration) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		table,
	)
	if _, err := s.db.Exec(stmt, s.expID, ts.Format(time.RFC3339Nano), reactorID, info.Name, info.Value, info.Units, cal); err != nil {
		return fmt.Errorf("storage: inserting into %s: %w", table, err)
	}
	return nil
}
