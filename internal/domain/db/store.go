package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/appstronomer/umon/internal/domain/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS groups (
	id INTEGER PRIMARY KEY,
	name TEXT UNIQUE NOT NULL
);
CREATE TABLE IF NOT EXISTS units (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	fk_unit_group INTEGER REFERENCES groups(id),
	UNIQUE(name, fk_unit_group)
);
CREATE TABLE IF NOT EXISTS data (
	fk_data_unit INTEGER REFERENCES units(id),
	id_record INTEGER NOT NULL,
	time INTEGER,
	type INTEGER NOT NULL,
	val BLOB
);
CREATE INDEX IF NOT EXISTS idx_data_unit_record ON data(fk_data_unit, id_record);
CREATE INDEX IF NOT EXISTS idx_data_unit_time ON data(fk_data_unit, time);
`

// Store wraps the SQLite handle. Only the DB actor's goroutine may call its
// methods; it is not safe for concurrent use by design (§5: "the SQLite
// store is accessed only by the DB goroutine").
type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("db: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer store, avoid modernc.org/sqlite lock contention
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("db: ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// EnsureGroup inserts the group if absent and returns its id.
func (s *Store) EnsureGroup(ctx context.Context, name model.Group) (int64, error) {
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO groups(name) VALUES(?)`, string(name)); err != nil {
		return 0, err
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM groups WHERE name = ?`, string(name)).Scan(&id)
	return id, err
}

// EnsureUnit inserts the unit (scoped to groupID) if absent and returns its id.
func (s *Store) EnsureUnit(ctx context.Context, groupID int64, name model.Unit) (int64, error) {
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO units(name, fk_unit_group) VALUES(?, ?)`, string(name), groupID); err != nil {
		return 0, err
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM units WHERE name = ? AND fk_unit_group = ?`, string(name), groupID).Scan(&id)
	return id, err
}

// LastRecord returns the most recently inserted record for unitID, or nil if
// the unit has no stored records yet.
func (s *Store) LastRecord(ctx context.Context, unitID int64) (*model.Record[model.Update], error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id_record, time, type, val FROM data WHERE fk_data_unit = ? ORDER BY id_record DESC LIMIT 1`, unitID)
	var id uint64
	var t int64
	var typ uint8
	var val []byte
	if err := row.Scan(&id, &t, &typ, &val); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	upd, err := model.UpdateFromSer(append([]byte{typ}, val...))
	if err != nil {
		return nil, err
	}
	return &model.Record[model.Update]{ID: id, Time: t, IsSaved: true, Val: upd}, nil
}

// Count returns the number of stored records for unitID.
func (s *Store) Count(ctx context.Context, unitID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM data WHERE fk_data_unit = ?`, unitID).Scan(&n)
	return n, err
}

// Tx begins a write transaction for one drain batch.
func (s *Store) Tx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// InsertRecord writes one record row within tx.
func InsertRecord(ctx context.Context, tx *sql.Tx, unitID int64, rec model.Record[model.Update]) error {
	ser := rec.Val.ToSer()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO data(fk_data_unit, id_record, time, type, val) VALUES(?, ?, ?, ?, ?)`,
		unitID, rec.ID, rec.Time, ser[0], ser[1:])
	return err
}

// RangeRecords returns records for unitID with id in [min, max].
func (s *Store) RangeRecords(ctx context.Context, unitID int64, min, max uint64) ([]model.Record[model.Update], error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id_record, time, type, val FROM data WHERE fk_data_unit = ? AND id_record BETWEEN ? AND ? ORDER BY id_record ASC`,
		unitID, min, max)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Record[model.Update]
	for rows.Next() {
		var id uint64
		var t int64
		var typ uint8
		var val []byte
		if err := rows.Scan(&id, &t, &typ, &val); err != nil {
			return nil, err
		}
		upd, err := model.UpdateFromSer(append([]byte{typ}, val...))
		if err != nil {
			return nil, err
		}
		out = append(out, model.Record[model.Update]{ID: id, Time: t, IsSaved: true, Val: upd})
	}
	return out, rows.Err()
}

// TrimOldest deletes the oldest countMin rows for unitID (ordered by rowid,
// i.e. insertion order), per §4.1: "delete the oldest count_min records
// ordered by rowid and decrement count" by exactly countMin.
func (s *Store) TrimOldest(ctx context.Context, unitID int64, countMin int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM data WHERE rowid IN (
			SELECT rowid FROM data WHERE fk_data_unit = ? ORDER BY rowid ASC LIMIT ?
		)`, unitID, countMin)
	return err
}
