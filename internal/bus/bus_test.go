package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/joblens/internal/config"
)

func TestStartEmbeddedAndConnect(t *testing.T) {
	cfg := config.BusConfig{
		Host:     "127.0.0.1",
		Port:     -1,
		StoreDir: t.TempDir(),
		Bucket:   "joblens",
	}

	srv, err := StartEmbedded(cfg)
	require.NoError(t, err)
	defer func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	}()

	nc, err := Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	assert.True(t, nc.IsConnected())
}

// A broadcast that reaches zero subscribers is an expected outcome, not an
// error.
func TestPublishWithZeroSubscribers(t *testing.T) {
	_, nc := StartTestServer(t)

	err := nc.Publish(SubjectAuthState, []byte(`{"action":"authState","isLoggedIn":false}`))
	require.NoError(t, err)
	require.NoError(t, nc.Flush())
}

func TestFanOutReachesAllSubscribers(t *testing.T) {
	_, nc := StartTestServer(t)

	first := make(chan []byte, 1)
	second := make(chan []byte, 1)

	sub1, err := nc.Subscribe(SubjectAuthState, func(m *nats.Msg) { first <- m.Data })
	require.NoError(t, err)
	defer sub1.Unsubscribe()

	sub2, err := nc.Subscribe(SubjectAuthState, func(m *nats.Msg) { second <- m.Data })
	require.NoError(t, err)
	defer sub2.Unsubscribe()

	payload := []byte(`{"action":"authState","isLoggedIn":true}`)
	require.NoError(t, nc.Publish(SubjectAuthState, payload))
	require.NoError(t, nc.Flush())

	for _, ch := range []chan []byte{first, second} {
		select {
		case got := <-ch:
			assert.Equal(t, payload, got)
		case <-time.After(2 * time.Second):
			t.Fatal("subscriber did not receive broadcast")
		}
	}
}

func TestPageSubject(t *testing.T) {
	assert.Equal(t, "joblens.page.tab-42", PageSubject("tab-42"))
}
