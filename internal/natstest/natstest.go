// Package natstest starts embedded NATS servers for tests.
package natstest

import (
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// Start starts an embedded NATS server and returns its client URL. The server
// is shut down when the test finishes.
func Start(t testing.TB) string {
	t.Helper()
	srv := StartServer(t)
	return srv.ClientURL()
}

// StartServer is Start but hands back the server, for tests that need to stop
// it early to simulate a relay going away.
func StartServer(t testing.TB) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv
}
