// Package bus runs the embedded message broker that connects every joblens
// component: the coordinator, page agents, and UI surfaces.
//
// The transport gives the protocol its required properties for free:
// request/reply for coordinator operations, subject fan-out for auth-state
// broadcasts, and silent success when a publish reaches zero subscribers.
// JetStream is enabled so the persistent local store can live in a
// file-backed key-value bucket on the same broker.
package bus

import (
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/joblens/internal/config"
)

// Subjects used by the messaging protocol.
const (
	// SubjectCoordinator receives request/reply messages for the
	// background coordinator.
	SubjectCoordinator = "joblens.coordinator"

	// SubjectAuthState carries auth-state broadcasts to every live
	// surface and page agent.
	SubjectAuthState = "joblens.broadcast.authstate"

	pageSubjectPrefix = "joblens.page."
)

const readyTimeout = 5 * time.Second

// PageSubject returns the inbox subject for the page agent attached to the
// given page ID.
func PageSubject(pageID string) string {
	return pageSubjectPrefix + pageID
}

// StartEmbedded starts the in-process broker. The returned server is ready
// for connections. Callers own shutdown via server.Shutdown.
func StartEmbedded(cfg config.BusConfig) (*natsserver.Server, error) {
	opts := &natsserver.Options{
		Host:      cfg.Host,
		Port:      cfg.Port,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  cfg.StoreDir,
	}

	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded broker: %w", err)
	}

	go srv.Start()

	if !srv.ReadyForConnections(readyTimeout) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded broker not ready after %s", readyTimeout)
	}
	return srv, nil
}

// Connect dials the broker at url. Reconnects are bounded; surfaces are
// short-lived and a dead broker means the daemon is gone.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to broker at %s: %w", url, err)
	}
	return nc, nil
}
