package registry

import (
	"errors"
	"fmt"

	memdb "github.com/hashicorp/go-memdb"
)

const (
	memdbTable = "connections"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
)

// Registry tracks the attached connections, in insertion order.
type Registry struct {
	db  *memdb.MemDB
	seq uint64
}

func New() *Registry {
	db, err := memdb.NewMemDB(&memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			memdbTable: {
				Name: memdbTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name: "id",
						Indexer: &memdb.StringFieldIndex{
							Field: "ID",
						},
						Unique:       true,
						AllowMissing: false,
					},
					"name": {
						Name: "name",
						Indexer: &memdb.StringFieldIndex{
							Field: "Name",
						},
						Unique:       false,
						AllowMissing: false,
					},
				},
			},
		},
	})
	if err != nil {
		panic(err)
	}
	return &Registry{db: db}
}

func (r *Registry) read(statement func(tx *memdb.Txn) error) error {
	tx := r.db.Txn(false)
	return r.run(tx, statement)
}
func (r *Registry) write(statement func(tx *memdb.Txn) error) error {
	tx := r.db.Txn(true)
	return r.run(tx, statement)
}
func (r *Registry) run(tx *memdb.Txn, statement func(tx *memdb.Txn) error) error {
	defer tx.Abort()
	err := statement(tx)
	if err != nil {
		return err
	}
	tx.Commit()
	return nil
}

func list(tx *memdb.Txn, index string, args ...interface{}) ([]*Connection, error) {
	out := []*Connection{}
	iterator, err := tx.Get(memdbTable, index, args...)
	if err != nil {
		return nil, err
	}
	for {
		payload := iterator.Next()
		if payload == nil {
			return out, nil
		}
		out = append(out, payload.(*Connection))
	}
}

// Add appends a connection to the registry. Connections previously registered
// under the same name are removed and returned to the caller.
func (r *Registry) Add(conn *Connection) ([]*Connection, error) {
	var evicted []*Connection
	r.seq++
	// zero-padded so the id index iterates in insertion order
	conn.ID = fmt.Sprintf("%020d", r.seq)
	err := r.write(func(tx *memdb.Txn) error {
		var err error
		evicted, err = list(tx, "name", conn.Name)
		if err != nil {
			return err
		}
		for _, old := range evicted {
			err = tx.Delete(memdbTable, old)
			if err != nil {
				return err
			}
		}
		return tx.Insert(memdbTable, conn)
	})
	return evicted, err
}

// Remove deletes every connection registered under name. Removing an unknown
// name is a no-op.
func (r *Registry) Remove(name string) (int, error) {
	count := 0
	err := r.write(func(tx *memdb.Txn) error {
		var err error
		count, err = tx.DeleteAll(memdbTable, "name", name)
		return err
	})
	return count, err
}

func (r *Registry) Get(name string) (*Connection, error) {
	var conn *Connection
	err := r.read(func(tx *memdb.Txn) error {
		payload, err := tx.First(memdbTable, "name", name)
		if err != nil {
			return err
		}
		if payload == nil {
			return ErrConnectionNotFound
		}
		conn = payload.(*Connection)
		return nil
	})
	return conn, err
}

// All returns the registered connections in insertion order.
func (r *Registry) All() []*Connection {
	var out []*Connection
	err := r.read(func(tx *memdb.Txn) error {
		var err error
		out, err = list(tx, "id")
		return err
	})
	if err != nil {
		return nil
	}
	return out
}

func (r *Registry) Names() []string {
	conns := r.All()
	out := make([]string, len(conns))
	for idx := range conns {
		out[idx] = conns[idx].Name
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.All())
}
