// Package libp2pfabric is the concrete realization of the fabric.Endpoint /
// fabric.Session contract (spec §6.1) over go-libp2p, grounded on goop2's
// internal/p2p.Node: a per-group Ed25519 identity persisted to disk so it
// survives a restart, a single stream protocol per group carrying
// newline-delimited JSON frames, and mDNS for LAN peer discovery. Every
// group gets its own *Endpoint and its own libp2p host, because the spec
// models myPeerId as distinct per group.
package libp2pfabric

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/multiformats/go-multiaddr"

	"github.com/trustcircle/groupcore/internal/corelog"
	"github.com/trustcircle/groupcore/internal/fabric"
	"github.com/trustcircle/groupcore/internal/util"
)

var log = corelog.Logger("libp2pfabric")

// ProtoID is the stream protocol carrying group traffic (spec §6.2 frames),
// scoped per group id so peers never cross-talk between groups sharing a
// process (goop2 uses one fixed GroupProtoID; we derive one per group
// because each group is its own libp2p host here).
func ProtoID(groupID string) protocol.ID {
	return protocol.ID(fmt.Sprintf("/groupcore/sync/1.0.0/%s", groupID))
}

// MdnsTag scopes LAN discovery announcements to this group, so nodes in
// different groups don't connect to each other purely from discovery.
func MdnsTag(groupID string) string {
	return fmt.Sprintf("groupcore-mdns-%s", groupID)
}

// Endpoint is the libp2p-backed fabric.Endpoint for one group.
type Endpoint struct {
	groupID string
	host    host.Host
	mdnsSvc mdns.Service
	proto   protocol.ID

	mu        sync.Mutex
	destroyed bool

	onSession func(fabric.Session)
	onReady   func()
	onErr     func(error)
}

var _ fabric.Endpoint = (*Endpoint)(nil)

// IdentityPath returns the on-disk path for groupID's persisted Ed25519
// identity under dir (spec §4.6 "creates a new endpoint with the same
// myPeerId"): a node that restarts must reuse its prior libp2p host
// identity for a group, not mint a fresh one, or peers who already know
// it by its old peer id can never dial it again.
func IdentityPath(dir, groupID string) string {
	return filepath.Join(dir, groupID+".key")
}

// LoadOrCreateIdentity loads the persisted Ed25519 private key for groupID
// from dir, generating and persisting a fresh one the first time a group
// is created or joined. Grounded on goop2's own on-disk identity caching
// under internal/p2p's key file, generalized here to one key per group.
func LoadOrCreateIdentity(dir, groupID string) (crypto.PrivKey, error) {
	path := IdentityPath(dir, groupID)

	if raw, err := os.ReadFile(path); err == nil {
		priv, err := crypto.UnmarshalPrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("libp2pfabric: unmarshal identity %s: %w", path, err)
		}
		return priv, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("libp2pfabric: read identity %s: %w", path, err)
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, fmt.Errorf("libp2pfabric: generate identity: %w", err)
	}
	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("libp2pfabric: marshal identity: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("libp2pfabric: create identity dir %s: %w", dir, err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("libp2pfabric: write identity %s: %w", path, err)
	}
	return priv, nil
}

// New opens a libp2p host identified by priv, listening on listenPort, and
// starts mDNS discovery scoped to groupID. Callers that need myPeerId to
// survive a restart must obtain priv from LoadOrCreateIdentity rather than
// generating one inline.
func New(ctx context.Context, groupID string, listenPort int, priv crypto.PrivKey) (*Endpoint, error) {
	listenAddr, err := multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", listenPort))
	if err != nil {
		return nil, fmt.Errorf("libp2pfabric: build listen multiaddr: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrs(listenAddr),
	)
	if err != nil {
		return nil, fmt.Errorf("libp2pfabric: new host: %w", err)
	}

	e := &Endpoint{
		groupID: groupID,
		host:    h,
		proto:   ProtoID(groupID),
	}

	h.SetStreamHandler(e.proto, e.handleInboundStream)

	notifee := &mdnsNotifee{ctx: ctx, e: e}
	svc := mdns.NewMdnsService(h, MdnsTag(groupID), notifee)
	if err := svc.Start(); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("libp2pfabric: start mdns: %w", err)
	}
	e.mdnsSvc = svc

	log.Infow("endpoint ready", "group", groupID, "peer", h.ID().String())
	return e, nil
}

// ID returns this endpoint's libp2p peer id.
func (e *Endpoint) ID() string { return e.host.ID().String() }

// Host exposes the underlying libp2p host for the invite flow, which needs
// to publish/resolve bootstrap multiaddrs (spec §4.6 Join).
func (e *Endpoint) Host() host.Host { return e.host }

// Addrs returns this endpoint's full dialable multiaddrs (diagnostics,
// Supplemented features "bootstrap address caching").
func (e *Endpoint) Addrs() []string {
	addrs := e.host.Addrs()
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

func (e *Endpoint) OnSession(cb func(fabric.Session)) { e.onSession = cb }

func (e *Endpoint) OnReady(cb func()) {
	e.onReady = cb
	if cb != nil {
		cb()
	}
}

func (e *Endpoint) OnError(cb func(error)) { e.onErr = cb }

// Connect dials remoteID via mDNS-resolved addresses already in the
// peerstore (discovered by mdnsNotifee) and opens a sync stream.
func (e *Endpoint) Connect(ctx context.Context, remoteID string) (fabric.Session, error) {
	pid, err := peer.Decode(remoteID)
	if err != nil {
		return nil, fmt.Errorf("libp2pfabric: decode peer id %q: %w", remoteID, err)
	}
	s, err := e.host.NewStream(ctx, pid, e.proto)
	if err != nil {
		return nil, fmt.Errorf("libp2pfabric: dial %s: %w", remoteID, err)
	}
	return newSession(s, pid.String()), nil
}

func (e *Endpoint) handleInboundStream(s network.Stream) {
	sess := newSession(s, s.Conn().RemotePeer().String())
	if e.onSession != nil {
		e.onSession(sess)
	} else {
		_ = s.Close()
	}
}

// Destroy stops mDNS and closes the host, tearing down every session it
// owns (spec §6.1 Destroy).
func (e *Endpoint) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return nil
	}
	e.destroyed = true
	if e.mdnsSvc != nil {
		_ = e.mdnsSvc.Close()
	}
	return e.host.Close()
}

// Destroyed reports whether Destroy has run.
func (e *Endpoint) Destroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

// mdnsNotifee connects to any peer discovered on the LAN for this group;
// the connection manager decides, per spec §4.5's dial policy, whether a
// session is actually wanted — this only makes the remote reachable at the
// libp2p layer (mirrors goop2's mdnsNotifee.HandlePeerFound).
type mdnsNotifee struct {
	ctx context.Context
	e   *Endpoint
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.e.host.ID() {
		return
	}
	ctx, cancel := context.WithTimeout(n.ctx, util.DefaultConnectTimeout)
	defer cancel()
	if err := n.e.host.Connect(ctx, pi); err != nil {
		log.Debugw("mdns connect failed", "peer", pi.ID.String(), "err", err)
		return
	}
	n.e.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, peer.PermanentAddrTTL)
}

// Session is the libp2p stream-backed fabric.Session: one frame per line,
// read in a background goroutine and delivered to OnMessage.
type Session struct {
	stream network.Stream
	peer   string
	writer *bufio.Writer

	mu       sync.Mutex
	writeMu  sync.Mutex
	closed   bool

	onOpen    func()
	onMessage func([]byte)
	onClose   func()
	onErr     func(error)
}

var _ fabric.Session = (*Session)(nil)

func newSession(s network.Stream, peerID string) *Session {
	sess := &Session{
		stream: s,
		peer:   peerID,
		writer: bufio.NewWriter(s),
	}
	go sess.readLoop()
	return sess
}

func (s *Session) Peer() string { return s.peer }

func (s *Session) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Send writes one frame, newline-terminated (spec frames are single-line
// JSON so a newline unambiguously ends one).
func (s *Session) Send(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.writer.Write(data); err != nil {
		return err
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return err
	}
	return s.writer.Flush()
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.stream.Close()
}

func (s *Session) OnOpen(cb func()) {
	s.onOpen = cb
	if cb != nil {
		cb()
	}
}
func (s *Session) OnMessage(cb func([]byte)) { s.onMessage = cb }
func (s *Session) OnClose(cb func())         { s.onClose = cb }
func (s *Session) OnError(cb func(error))    { s.onErr = cb }

func (s *Session) readLoop() {
	r := bufio.NewReader(s.stream)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			msg := make([]byte, len(line)-1)
			copy(msg, line[:len(line)-1])
			if s.onMessage != nil {
				s.onMessage(msg)
			}
		}
		if err != nil {
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			if s.onClose != nil {
				s.onClose()
			}
			return
		}
	}
}
