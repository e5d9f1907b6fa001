package hoard

import (
	"database/sql"
	"path/filepath"

	"github.com/pkg/errors"
	. "github.com/stevegt/goadapt"
	_ "modernc.org/sqlite"
)

// Alias is one row of the sidecar table: a human-chosen name and the
// item it resolves to.
type Alias struct {
	Name string
	Dest Hash
}

// sidecar is the metadata.db SQL database.  The filesystem stays
// authoritative for item state; the sidecar holds only alias
// mappings.  All mutations happen inside the store lock and a
// mutation window, so SQL and filesystem state move together.
type sidecar struct {
	db *sql.DB
}

const aliasSchema = `
CREATE TABLE IF NOT EXISTS aliases (
	hash TEXT PRIMARY KEY,
	dest TEXT NOT NULL,
	name TEXT NOT NULL
)`

func openSidecar(dir string) (sc *sidecar, err error) {
	defer Return(&err)
	db, err := sql.Open("sqlite", filepath.Join(dir, "metadata.db"))
	Ck(err)
	_, err = db.Exec(aliasSchema)
	Ck(err)
	return &sidecar{db: db}, nil
}

func (sc *sidecar) put(hash, dest Hash, name string) (err error) {
	_, err = sc.db.Exec(
		`INSERT OR REPLACE INTO aliases (hash, dest, name) VALUES (?, ?, ?)`,
		string(hash), string(dest), name)
	return
}

func (sc *sidecar) get(hash Hash) (dest Hash, found bool, err error) {
	var s string
	err = sc.db.QueryRow(
		`SELECT dest FROM aliases WHERE hash = ?`, string(hash)).Scan(&s)
	if errors.Cause(err) == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return
	}
	return Hash(s), true, nil
}

func (sc *sidecar) del(hash Hash) (err error) {
	_, err = sc.db.Exec(`DELETE FROM aliases WHERE hash = ?`, string(hash))
	return
}

func (sc *sidecar) list() (aliases []Alias, err error) {
	defer Return(&err)
	rows, err := sc.db.Query(`SELECT name, dest FROM aliases ORDER BY name`)
	Ck(err)
	defer rows.Close()
	for rows.Next() {
		var name, dest string
		err = rows.Scan(&name, &dest)
		Ck(err)
		aliases = append(aliases, Alias{Name: name, Dest: Hash(dest)})
	}
	err = rows.Err()
	Ck(err)
	return
}

func (sc *sidecar) close() (err error) {
	return sc.db.Close()
}
