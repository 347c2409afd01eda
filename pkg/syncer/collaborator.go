package syncer

import "context"

// Collaborator is the remote synchronisation service a reconciler talks to.
type Collaborator interface {
	// Query fetches the current full state.
	Query(ctx context.Context, sel Selection) (Snapshot, error)
	// Mutate applies one write to the selected board. Failures are
	// *RemoteWriteError.
	Mutate(ctx context.Context, sel Selection, m Mutation) error
	// Subscribe delivers every pushed snapshot to handler until the
	// subscription is closed or its context ends. Handler calls are
	// sequential.
	Subscribe(ctx context.Context, sel Selection, handler func(Snapshot)) (Subscription, error)
}

type Subscription interface {
	// Err delivers *RemoteFeedError values and is closed when the feed ends.
	Err() <-chan error
	Close() error
}
