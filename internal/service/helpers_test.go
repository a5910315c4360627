package service

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"testing"

	"github.com/mdario971/cactus-flasher/internal/repository"
	"github.com/mdario971/cactus-flasher/internal/repository/db"
)

const testDDNS = "cactus.test"

// newTestRepos opens a fresh SQLite registry with the production schema.
func newTestRepos(t *testing.T) *repository.Repository {
	t.Helper()
	conn, err := db.InitDB(filepath.Join(t.TempDir(), "cactus.db"))
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return repository.NewRepository(conn)
}

// routeDialer stands in for the network: connections to a routed port go to a
// local listener, everything else is refused.
type routeDialer struct {
	mu     sync.Mutex
	routes map[int]string
	dialed []string
}

func newRouteDialer() *routeDialer {
	return &routeDialer{routes: make(map[int]string)}
}

func (d *routeDialer) route(port int, addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes[port] = addr
}

func (d *routeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	_, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	port, _ := strconv.Atoi(portStr)

	d.mu.Lock()
	d.dialed = append(d.dialed, address)
	target, ok := d.routes[port]
	d.mu.Unlock()

	if !ok {
		return nil, &net.OpError{Op: "dial", Net: network, Err: syscall.ECONNREFUSED}
	}
	var nd net.Dialer
	return nd.DialContext(ctx, network, target)
}

// listen opens a TCP listener that accepts and immediately closes connections.
func listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()
	return ln.Addr().String()
}
