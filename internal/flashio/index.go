package flashio

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
)

// Index is a queryable SQLite-backed registry cache, complementing
// SaveSnapshot/LoadSnapshot's all-or-nothing gob blob with point lookups
// and range scans useful to ubishell/ubictl (e.g. "which PEBs have the
// highest erase count") without replaying a full attach scan.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if necessary) a SQLite index file at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("flashio: open index %s: %w", path, err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS pebs (
	pnum INTEGER PRIMARY KEY,
	ec   INTEGER NOT NULL,
	loc  INTEGER NOT NULL
);`

	if _, err := db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("flashio: init index %s: %w", path, err)
	}

	return &Index{db: db}, nil
}

func (idx *Index) Close() error { return idx.db.Close() }

// Replace atomically swaps the index contents for snap.
func (idx *Index) Replace(snap []PEBSnapshot) error {
	tx, err := idx.db.Begin()
	if err != nil {
		return fmt.Errorf("flashio: index replace: begin: %w", err)
	}

	defer tx.Rollback() //nolint:errcheck // no-op once committed

	if _, err := tx.Exec(`DELETE FROM pebs`); err != nil {
		return fmt.Errorf("flashio: index replace: clear: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO pebs (pnum, ec, loc) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("flashio: index replace: prepare: %w", err)
	}
	defer stmt.Close()

	for _, p := range snap {
		if _, err := stmt.Exec(p.Pnum, p.EC, p.Loc); err != nil {
			return fmt.Errorf("flashio: index replace: insert pnum %d: %w", p.Pnum, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("flashio: index replace: commit: %w", err)
	}

	return nil
}

// TopByEC returns the n PEBs with the highest erase count, descending.
func (idx *Index) TopByEC(n int) ([]PEBSnapshot, error) {
	rows, err := idx.db.Query(`SELECT pnum, ec, loc FROM pebs ORDER BY ec DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("flashio: index top_by_ec: %w", err)
	}
	defer rows.Close()

	var out []PEBSnapshot

	for rows.Next() {
		var p PEBSnapshot
		if err := rows.Scan(&p.Pnum, &p.EC, &p.Loc); err != nil {
			return nil, fmt.Errorf("flashio: index top_by_ec: scan: %w", err)
		}

		out = append(out, p)
	}

	return out, rows.Err()
}

// Get returns a single PEB's cached entry.
func (idx *Index) Get(pnum int32) (PEBSnapshot, bool, error) {
	var p PEBSnapshot

	err := idx.db.QueryRow(`SELECT pnum, ec, loc FROM pebs WHERE pnum = ?`, pnum).Scan(&p.Pnum, &p.EC, &p.Loc)
	if err == sql.ErrNoRows {
		return PEBSnapshot{}, false, nil
	}

	if err != nil {
		return PEBSnapshot{}, false, fmt.Errorf("flashio: index get %d: %w", pnum, err)
	}

	return p, true, nil
}
