package replica

import (
	"database/sql"
	"fmt"

	"github.com/tursodatabase/go-libsql"
)

// ConnectedReplica is a Queue whose underlying database is a libsql
// embedded replica of the remote primary. Remote changes flow down via
// Pull; local mutations still go up through the sync connector, which
// keeps the upload path identical in both standalone and connected modes.
type ConnectedReplica struct {
	*Queue
	connector *libsql.Connector
}

// OpenConnected opens the replica at path as an embedded replica of
// primaryURL, authenticated with authToken.
func OpenConnected(path, primaryURL, authToken string) (*ConnectedReplica, error) {
	connector, err := libsql.NewEmbeddedReplicaConnector(path, primaryURL,
		libsql.WithAuthToken(authToken))
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded replica: %w", err)
	}

	conn := sql.OpenDB(connector)
	q, err := newQueue(conn, path)
	if err != nil {
		_ = conn.Close()
		_ = connector.Close()
		return nil, err
	}

	return &ConnectedReplica{Queue: q, connector: connector}, nil
}

// Pull syncs remote frames down into the embedded replica.
func (r *ConnectedReplica) Pull() error {
	if _, err := r.connector.Sync(); err != nil {
		return fmt.Errorf("failed to sync embedded replica: %w", err)
	}
	return nil
}

// Close closes the queue and the underlying connector.
func (r *ConnectedReplica) Close() error {
	err := r.Queue.Close()
	if cerr := r.connector.Close(); err == nil {
		err = cerr
	}
	return err
}
