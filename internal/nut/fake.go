package nut

import (
	"context"
	"errors"
	"sync"
)

// FakeServer is a test double for one upsd server.
//
// UPS maps each known UPS name to the variables it reports; names missing from
// UPS answer with ErrUnknownUPS. UPSErr injects an arbitrary failure for one
// UPS. DialErr makes every dial fail, simulating an unreachable server.
type FakeServer struct {
	UPS     map[string][]Variable
	UPSErr  map[string]error
	DialErr error

	mu      sync.Mutex
	Dials   int
	Closes  int
	Queried []string
}

// FakeDialer routes dials to FakeServers by host:port. Unknown addresses
// fail with ErrConnection.
type FakeDialer struct {
	Servers map[string]*FakeServer
}

// Dial implements DialFunc.
func (d *FakeDialer) Dial(_ context.Context, t Target) (Lister, error) {
	srv, ok := d.Servers[t.Addr()]
	if !ok {
		return nil, &Error{Kind: ErrConnection, Server: t.Addr(), Err: errFakeUnreachable}
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.Dials++
	if srv.DialErr != nil {
		return nil, srv.DialErr
	}
	return &fakeConn{srv: srv, addr: t.Addr()}, nil
}

// Reset clears recorded calls so the fake can be reused between sub-tests.
func (s *FakeServer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Dials = 0
	s.Closes = 0
	s.Queried = nil
}

var errFakeUnreachable = errors.New("no such fake server")

type fakeConn struct {
	srv  *FakeServer
	addr string
}

func (c *fakeConn) ListVariables(ups string) ([]Variable, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.Queried = append(c.srv.Queried, ups)

	if err, ok := c.srv.UPSErr[ups]; ok {
		return nil, err
	}
	src, ok := c.srv.UPS[ups]
	if !ok {
		return nil, &Error{Kind: ErrUnknownUPS, Server: c.addr, UPS: ups, Response: "ERR UNKNOWN-UPS"}
	}
	out := make([]Variable, len(src))
	copy(out, src)
	return out, nil
}

func (c *fakeConn) Close() error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.Closes++
	return nil
}
