package data

import (
	"github.com/draftpilot/wabuffer/internal/biz/repo"
)

// Repositories contains all store-backed repositories
type Repositories struct {
	Buffer       repo.BufferRepo
	Conversation repo.ConversationRepo
	Job          repo.JobRepo

	db *DB
}

// NewRepositories opens the store and creates all repositories. A
// postgres:// DSN selects the Postgres backend, anything else is a sqlite
// file path.
func NewRepositories(dsn string) (*Repositories, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}

	return &Repositories{
		Buffer:       NewBufferRepo(db),
		Conversation: NewConversationRepo(db),
		Job:          NewJobRepo(db),
		db:           db,
	}, nil
}

// Close closes the underlying database
func (r *Repositories) Close() error {
	return r.db.Close()
}
