package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
)

// MsgKind tags the wire envelope of a gossiped message, per the protocol's
// fixed set of exchange kinds.
type MsgKind string

const (
	MsgHello     MsgKind = "HELLO"
	MsgGetBlock  MsgKind = "GET_BLOCK"
	MsgBlock     MsgKind = "BLOCK"
	MsgTx        MsgKind = "TX"
	MsgGetPeers  MsgKind = "GET_PEERS"
	MsgPeers     MsgKind = "PEERS"
	MsgHead      MsgKind = "HEAD"
)

const topicBT2C = "bt2c/gossip/v1"

// firewallLimiterCacheSize bounds the number of distinct peer rate-limiter
// buckets the Firewall keeps alive at once, independent of the gossip peer
// count, so a churning peer set cannot grow this unbounded.
const firewallLimiterCacheSize = 4096

// Envelope is the canonical wire wrapper around every gossiped payload.
type Envelope struct {
	Kind      MsgKind         `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// HelloPayload announces a node's identity and chain head on first contact.
type HelloPayload struct {
	ChainID     string `json:"chain_id"`
	HeadHeight  uint64 `json:"head_height"`
	HeadHash    Hash   `json:"head_hash"`
	NetworkKind string `json:"network_kind"`
}

// GetBlockPayload requests a single block by height.
type GetBlockPayload struct {
	Height uint64 `json:"height"`
}

// BlockPayload carries a full block plus its producer signature.
type BlockPayload struct {
	Block     Block  `json:"block"`
	Signature []byte `json:"signature"`
}

// TxPayload carries a single candidate transaction.
type TxPayload struct {
	Tx Transaction `json:"tx"`
}

// PeersPayload answers GET_PEERS with known peer addresses.
type PeersPayload struct {
	Addrs []string `json:"addrs"`
}

// HeadPayload announces a node's current chain head, used for lightweight
// liveness/sync-trigger gossip distinct from the heavier HELLO handshake.
type HeadPayload struct {
	Height uint64 `json:"height"`
	Hash   Hash   `json:"hash"`
}

// NetConfig configures a Network adapter.
type NetConfig struct {
	ListenAddr     string
	BootstrapPeers []string
	DiscoveryTag   string
}

// Network is the gossip transport adapter: a libp2p host running GossipSub
// over one topic, carrying the protocol's typed message kinds, handed off to
// the Driver via SubmitBlock/SubmitTx. It owns no consensus state itself.
type Network struct {
	host   host.Host
	pubsub *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription

	nat *NATManager

	peerLock sync.RWMutex
	peers    map[peer.ID]string

	firewall *Firewall

	driver *Driver
	c      *Context

	ctx    context.Context
	cancel context.CancelFunc
}

// NewNetwork creates and bootstraps a gossip node bound to driver, which
// receives every BLOCK/TX message that passes envelope decoding and the
// firewall's per-peer rate limit (and, for TX, its address block list).
func NewNetwork(c *Context, driver *Driver, cfg NetConfig) (*Network, error) {
	ctx, cancel := context.WithCancel(c.Ctx)

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("network: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("network: create pubsub: %w", err)
	}

	topic, err := ps.Join(topicBT2C)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("network: join topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("network: subscribe topic: %w", err)
	}

	firewall, err := NewFirewall(c.Params.PeerRateLimitPerMin, firewallLimiterCacheSize)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("network: build firewall: %w", err)
	}

	n := &Network{
		host:     h,
		pubsub:   ps,
		topic:    topic,
		sub:      sub,
		peers:    make(map[peer.ID]string),
		firewall: firewall,
		driver:   driver,
		c:        c,
		ctx:      ctx,
		cancel:   cancel,
	}

	if natMgr, err := NewNATManager(); err == nil {
		if port, err := parseTCPPort(cfg.ListenAddr); err == nil {
			if err := natMgr.Map(port); err != nil {
				c.Log.WithError(err).Warn("network: NAT mapping failed")
			}
		}
		n.nat = natMgr
	} else {
		c.Log.WithError(err).Debug("network: NAT discovery unavailable")
	}

	if err := n.dialSeeds(cfg.BootstrapPeers); err != nil {
		c.Log.WithError(err).Warn("network: some bootstrap peers unreachable")
	}

	tag := cfg.DiscoveryTag
	if tag == "" {
		tag = "bt2c"
	}
	if _, err := mdns.NewMdnsService(h, tag, n); err != nil {
		c.Log.WithError(err).Debug("network: mdns discovery unavailable")
	}

	go n.readLoop()

	return n, nil
}

// HandlePeerFound implements mdns.Notifee.
func (n *Network) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	n.peerLock.RLock()
	_, known := n.peers[info.ID]
	n.peerLock.RUnlock()
	if known {
		return
	}
	if err := n.host.Connect(n.ctx, info); err != nil {
		n.c.Log.WithError(err).Debug("network: mdns connect failed")
		return
	}
	n.peerLock.Lock()
	n.peers[info.ID] = info.String()
	n.peerLock.Unlock()
}

func (n *Network) dialSeeds(seeds []string) error {
	var failures []string
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", addr, err))
			continue
		}
		if err := n.host.Connect(n.ctx, *pi); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", addr, err))
			continue
		}
		n.peerLock.Lock()
		n.peers[pi.ID] = addr
		n.peerLock.Unlock()
	}
	if len(failures) > 0 {
		return fmt.Errorf("network: dial failures: %s", strings.Join(failures, "; "))
	}
	return nil
}

// readLoop consumes the gossip subscription and dispatches each decoded
// message kind, forwarding BLOCK and TX payloads to the driver.
func (n *Network) readLoop() {
	for {
		msg, err := n.sub.Next(n.ctx)
		if err != nil {
			n.c.Log.WithError(err).Debug("network: subscription closed")
			return
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			n.c.Log.WithError(err).Debug("network: malformed envelope")
			continue
		}
		n.dispatch(env, msg.ReceivedFrom)
	}
}

// dispatch applies the firewall's per-peer broadcast rate limit before
// handling any message kind, then, for TX specifically, the address block
// list, per PEER_RATE_LIMIT_PER_MIN (spec §6 unsolicited-broadcast limiting).
func (n *Network) dispatch(env Envelope, from peer.ID) {
	if !n.firewall.Allow(from.String()) {
		n.c.Log.WithField("peer", from.String()).Debug("network: peer exceeded broadcast rate limit, dropping message")
		return
	}

	switch env.Kind {
	case MsgBlock:
		var p BlockPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		n.driver.SubmitBlock(p.Block, p.Signature)

	case MsgTx:
		var p TxPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		if err := n.firewall.CheckTx(&p.Tx); err != nil {
			n.c.Log.WithError(err).WithField("peer", from.String()).Debug("network: tx rejected by firewall")
			return
		}
		n.driver.SubmitTx(p.Tx)

	case MsgHello:
		var p HelloPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		n.c.Log.WithFields(map[string]interface{}{
			"peer":   from.String(),
			"height": p.HeadHeight,
		}).Debug("network: hello received")

	case MsgGetBlock:
		var p GetBlockPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		block, err := n.c.Store.GetBlockByHeight(p.Height)
		if err != nil {
			return
		}
		_ = n.PublishBlock(block, nil)

	case MsgGetPeers:
		_ = n.PublishPeers()

	case MsgPeers, MsgHead:
		// Informational only; no driver-side effect required.

	default:
		n.c.Log.WithField("kind", env.Kind).Debug("network: unknown message kind")
	}
}

func (n *Network) publish(kind MsgKind, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := Envelope{Kind: kind, Payload: raw, Timestamp: time.Now().Unix()}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return n.topic.Publish(n.ctx, data)
}

// PublishBlock gossips a block and its producer signature.
func (n *Network) PublishBlock(block Block, signature []byte) error {
	return n.publish(MsgBlock, BlockPayload{Block: block, Signature: signature})
}

// PublishTx gossips a candidate transaction.
func (n *Network) PublishTx(tx Transaction) error {
	return n.publish(MsgTx, TxPayload{Tx: tx})
}

// PublishHello announces this node's identity and head to the topic.
func (n *Network) PublishHello(params NetworkParams, head Block) error {
	return n.publish(MsgHello, HelloPayload{
		ChainID:     params.ChainID,
		HeadHeight:  head.Height,
		HeadHash:    head.Hash,
		NetworkKind: string(params.Kind),
	})
}

// PublishHead announces this node's current head without the full HELLO
// handshake payload, for lightweight liveness/sync-trigger gossip.
func (n *Network) PublishHead(head Block) error {
	return n.publish(MsgHead, HeadPayload{Height: head.Height, Hash: head.Hash})
}

// RequestBlock asks peers for a block at height.
func (n *Network) RequestBlock(height uint64) error {
	return n.publish(MsgGetBlock, GetBlockPayload{Height: height})
}

// PublishPeers answers a GET_PEERS request with this node's known addresses.
func (n *Network) PublishPeers() error {
	n.peerLock.RLock()
	addrs := make([]string, 0, len(n.peers))
	for _, a := range n.peers {
		addrs = append(addrs, a)
	}
	n.peerLock.RUnlock()
	return n.publish(MsgPeers, PeersPayload{Addrs: addrs})
}

// RequestPeers asks the network for known peer addresses.
func (n *Network) RequestPeers() error {
	return n.publish(MsgGetPeers, struct{}{})
}

// PeerCount returns the number of known peers.
func (n *Network) PeerCount() int {
	n.peerLock.RLock()
	defer n.peerLock.RUnlock()
	return len(n.peers)
}

// Firewall exposes the adapter's rate limiter and block lists for
// operational control (e.g. an admin RPC banning a misbehaving peer).
func (n *Network) Firewall() *Firewall { return n.firewall }

// Close tears down the host and releases the NAT mapping.
func (n *Network) Close() error {
	n.cancel()
	if n.nat != nil {
		_ = n.nat.Unmap()
	}
	return n.host.Close()
}

// NATManager manages NAT traversal using NAT-PMP or UPnP, trying NAT-PMP
// first and falling back to UPnP when no NAT-PMP gateway responds.
type NATManager struct {
	pmp        *natpmp.Client
	upnp       *internetgateway1.WANIPConnection1
	mappedPort int
}

// NewNATManager discovers the gateway and external IP via NAT-PMP, falling
// back to UPnP.
func NewNATManager() (*NATManager, error) {
	m := &NATManager{}
	if gw, err := gateway.DiscoverGateway(); err == nil {
		m.pmp = natpmp.NewClient(gw)
		if _, err := m.pmp.GetExternalAddress(); err != nil {
			m.pmp = nil
		}
	}
	if m.pmp == nil {
		clients, _, err := internetgateway1.NewWANIPConnection1Clients()
		if err != nil || len(clients) == 0 {
			return nil, fmt.Errorf("network: no NAT gateway found")
		}
		m.upnp = clients[0]
	}
	return m, nil
}

// Map opens port on the gateway, preferring NAT-PMP.
func (m *NATManager) Map(port int) error {
	if m.pmp != nil {
		if _, err := m.pmp.AddPortMapping("tcp", port, port, 3600); err == nil {
			m.mappedPort = port
			return nil
		}
	}
	if m.upnp != nil {
		ip, err := m.upnp.GetExternalIPAddress()
		if err != nil {
			return err
		}
		if err := m.upnp.AddPortMapping("", uint16(port), "TCP", uint16(port), ip, true, "bt2c", 3600); err != nil {
			return err
		}
		m.mappedPort = port
		return nil
	}
	return fmt.Errorf("network: no mapping method available")
}

// Unmap removes the previously mapped port, if any.
func (m *NATManager) Unmap() error {
	if m.mappedPort == 0 {
		return nil
	}
	if m.pmp != nil {
		_, err := m.pmp.AddPortMapping("tcp", m.mappedPort, m.mappedPort, 0)
		m.mappedPort = 0
		return err
	}
	if m.upnp != nil {
		err := m.upnp.DeletePortMapping("", uint16(m.mappedPort), "TCP")
		m.mappedPort = 0
		return err
	}
	return nil
}

func parseTCPPort(addr string) (int, error) {
	parts := strings.Split(addr, "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "tcp" {
			return strconv.Atoi(parts[i+1])
		}
	}
	return 0, fmt.Errorf("network: no tcp port in %s", addr)
}
