package syncer

import (
	"errors"
	"fmt"

	"github.com/astromechza/automerge-whiteboard/pkg/board"
)

// Selection names the board a client reads and writes.
type Selection struct {
	Board string `json:"board"`
}

// Snapshot is the full confirmed state of a board. Version increases with
// every change on the serving side; zero means the sender does not version.
type Snapshot struct {
	Version uint64         `json:"version"`
	Paths   []board.Record `json:"paths"`
}

type MutationKind string

const (
	MutationAdd       MutationKind = "add"
	MutationUpdate    MutationKind = "update"
	MutationDelete    MutationKind = "delete"
	MutationDeleteAll MutationKind = "deleteAll"
)

// Mutation is a single typed write. Add and update carry a Record, delete
// carries an ID and delete-all carries nothing.
type Mutation struct {
	Kind   MutationKind  `json:"kind"`
	Record *board.Record `json:"record,omitempty"`
	ID     string        `json:"id,omitempty"`
}

var ErrInvalidMutation = errors.New("invalid mutation")

func AddPath(p *board.Path) Mutation {
	r := p.Record()
	return Mutation{Kind: MutationAdd, Record: &r}
}

func UpdatePath(p *board.Path) Mutation {
	r := p.Record()
	return Mutation{Kind: MutationUpdate, Record: &r}
}

func DeletePath(id string) Mutation {
	return Mutation{Kind: MutationDelete, ID: id}
}

func DeleteAll() Mutation {
	return Mutation{Kind: MutationDeleteAll}
}

// PathID is the id of the path the mutation touches, empty for delete-all.
func (m Mutation) PathID() string {
	if m.Record != nil {
		return m.Record.ID
	}
	return m.ID
}

func (m Mutation) Validate() error {
	switch m.Kind {
	case MutationAdd, MutationUpdate:
		if m.Record == nil {
			return fmt.Errorf("%w: %s without a record", ErrInvalidMutation, m.Kind)
		}
		if m.ID != "" && m.ID != m.Record.ID {
			return fmt.Errorf("%w: %s id %q does not match record %q", ErrInvalidMutation, m.Kind, m.ID, m.Record.ID)
		}
		if err := m.Record.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidMutation, err)
		}
	case MutationDelete:
		if m.ID == "" {
			return fmt.Errorf("%w: delete without an id", ErrInvalidMutation)
		}
		if m.Record != nil {
			return fmt.Errorf("%w: delete with a record", ErrInvalidMutation)
		}
	case MutationDeleteAll:
		if m.ID != "" || m.Record != nil {
			return fmt.Errorf("%w: deleteAll takes no arguments", ErrInvalidMutation)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMutation, m.Kind)
	}
	return nil
}

// RemoteWriteError is returned by Collaborator.Mutate when the write did not
// land.
type RemoteWriteError struct {
	Mutation Mutation
	Err      error
}

func (e *RemoteWriteError) Error() string {
	if id := e.Mutation.PathID(); id != "" {
		return fmt.Sprintf("remote %s of path %s failed: %v", e.Mutation.Kind, id, e.Err)
	}
	return fmt.Sprintf("remote %s failed: %v", e.Mutation.Kind, e.Err)
}

func (e *RemoteWriteError) Unwrap() error {
	return e.Err
}

// RemoteFeedError is delivered on Subscription.Err when the snapshot feed
// breaks.
type RemoteFeedError struct {
	Err error
}

func (e *RemoteFeedError) Error() string {
	return fmt.Sprintf("remote feed failed: %v", e.Err)
}

func (e *RemoteFeedError) Unwrap() error {
	return e.Err
}
