// Copyright 2025 The OpenChoreo Authors
// SPDX-License-Identifier: Apache-2.0

package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/branchctl/branchctl/internal/logging"
	"github.com/branchctl/branchctl/pkg/metrics"
)

// Envelope is the JSON wire message carried over one websocket connection:
// a single typed channel tag (branches, environments, error, or update) in
// place of separate per-topic socket namespaces.
type Envelope struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

const (
	// ChannelBranches carries a BranchesSnapshot.
	ChannelBranches = "branches"
	// ChannelEnvironments carries an EnvironmentsSnapshot.
	ChannelEnvironments = "environments"
	// ChannelError carries an ErrorEvent.
	ChannelError = "error"
	// ChannelUpdate carries an inbound operator {id, branches} edit.
	ChannelUpdate = "update"
)

// ReconnectBackoff is the peer-connection retry interval from §5.
const ReconnectBackoff = 60 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn wraps one websocket connection with a write mutex, since
// *websocket.Conn is not safe for concurrent writers.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// Send marshals payload and writes an Envelope frame.
func (c *Conn) Send(channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", channel, err)
	}
	env := Envelope{Channel: channel, Payload: data}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(env)
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.ws.Close() }

// Handler receives every frame read off a Conn.
type Handler func(conn *Conn, env Envelope)

// readLoop dispatches inbound frames to handler until the connection closes.
func readLoop(ctx context.Context, ws *websocket.Conn, conn *Conn, handler Handler) {
	logger := logging.FromContext(ctx)
	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			logger.Info("federation connection closed", "error", err)
			return
		}
		handler(conn, env)
	}
}

// Peer maintains a long-lived outbound connection to the peer URL,
// reconnecting with ReconnectBackoff on failure. It is the "this side
// dials" half of the symmetric federation link; Server below is the
// "this side accepts" half — a deployment can run either or both,
// consistent with the "no master/slave asymmetry" design decision.
type Peer struct {
	url     string
	handler Handler

	mu   sync.Mutex
	conn *Conn
}

// NewPeer constructs a Peer that will dial url once Run is called.
func NewPeer(url string, handler Handler) *Peer {
	return &Peer{url: url, handler: handler}
}

// Run dials the peer, redialing with ReconnectBackoff until ctx is done.
func (p *Peer) Run(ctx context.Context) {
	logger := logging.FromContext(ctx)
	for {
		if ctx.Err() != nil {
			return
		}
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, p.url, nil)
		if err != nil {
			logger.Warn("federation dial failed", "peer", p.url, "error", err)
			metrics.FederationPeers.Set(0)
			select {
			case <-ctx.Done():
				return
			case <-time.After(ReconnectBackoff):
				continue
			}
		}

		conn := &Conn{ws: ws}
		p.mu.Lock()
		p.conn = conn
		p.mu.Unlock()

		logger.Info("federation peer connected", "peer", p.url)
		metrics.FederationPeers.Set(1)
		readLoop(ctx, ws, conn, p.handler)

		p.mu.Lock()
		p.conn = nil
		p.mu.Unlock()
		metrics.FederationPeers.Set(0)

		select {
		case <-ctx.Done():
			return
		case <-time.After(ReconnectBackoff):
		}
	}
}

// Send delivers payload to the peer if currently connected; it is a no-op
// (not an error) when the link is down, since the next pass will re-publish
// the latest snapshot anyway.
func (p *Peer) Send(channel string, payload any) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Send(channel, payload)
}

// Server accepts inbound federation connections, tracked in a registry
// (map guarded by a mutex), simplified to the single expected peer of a
// master/slave pair.
type Server struct {
	handler Handler

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// NewServer constructs a federation Server.
func NewServer(handler Handler) *Server {
	return &Server{handler: handler, conns: map[*Conn]struct{}{}}
}

// Upgrade handles one inbound websocket upgrade request.
func (s *Server) Upgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.FromContext(r.Context()).Warn("federation upgrade failed", "error", err)
		return
	}
	conn := &Conn{ws: ws}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	readLoop(r.Context(), ws, conn, s.handler)
}

// Broadcast sends payload on channel to every currently connected peer.
func (s *Server) Broadcast(channel string, payload any) {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Send(channel, payload)
	}
}

// Count returns the number of currently connected peers.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
