package core

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// firewall.go — per-peer gossip rate limiting and address/IP block lists.

var (
	ErrAddrBlocked = errors.New("address blocked by firewall")
	ErrIPBlocked   = errors.New("ip blocked by firewall")
	ErrPeerLimited = errors.New("peer exceeded unsolicited broadcast rate limit")
)

// Firewall enforces PEER_RATE_LIMIT_PER_MIN unsolicited broadcasts per peer
// and maintains address/IP block lists. Only the Network adapter consults
// it, before a message is handed to the Driver; the Mempool and Applier do
// not.
type Firewall struct {
	mu        sync.RWMutex
	addresses map[Address]struct{}
	ips       map[string]struct{}

	limiters *lru.Cache[string, *rate.Limiter]
	perMin   int
}

// NewFirewall constructs a Firewall whose per-peer limiter cache holds up to
// maxPeers entries, evicting least-recently-used peers once full — a peer
// evicted mid-window simply gets a fresh bucket, which is an acceptable
// trade against unbounded memory growth from a churning peer set.
func NewFirewall(perMinute, maxPeers int) (*Firewall, error) {
	cache, err := lru.New[string, *rate.Limiter](maxPeers)
	if err != nil {
		return nil, WrapError(CategoryFatal, "firewall: build limiter cache", err)
	}
	return &Firewall{
		addresses: make(map[Address]struct{}),
		ips:       make(map[string]struct{}),
		limiters:  cache,
		perMin:    perMinute,
	}, nil
}

// BlockAddress makes CheckTx reject gossiped transactions sent from or to
// the account.
func (fw *Firewall) BlockAddress(a Address) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.addresses[a] = struct{}{}
}

// UnblockAddress removes an address from the block list.
func (fw *Firewall) UnblockAddress(a Address) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	delete(fw.addresses, a)
}

// IsAddressBlocked reports whether a is on the block list.
func (fw *Firewall) IsAddressBlocked(a Address) bool {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	_, ok := fw.addresses[a]
	return ok
}

// BlockIP adds ip to the IP block list, queried through IsIPBlocked; the
// Network adapter's message dispatch does not check this list.
func (fw *Firewall) BlockIP(ip string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.ips[ip] = struct{}{}
}

// UnblockIP lifts an IP ban.
func (fw *Firewall) UnblockIP(ip string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	delete(fw.ips, ip)
}

// IsIPBlocked reports whether ip is banned.
func (fw *Firewall) IsIPBlocked(ip string) bool {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	_, ok := fw.ips[ip]
	return ok
}

// Allow reports whether peerID may send another unsolicited broadcast this
// minute, consuming one token from its bucket if so. A peer that exceeds
// the limit repeatedly should be escalated to BlockIP by the caller.
func (fw *Firewall) Allow(peerID string) bool {
	limiter, ok := fw.limiters.Get(peerID)
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(fw.perMin)/60.0), fw.perMin)
		fw.limiters.Add(peerID, limiter)
	}
	return limiter.Allow()
}

// CheckTx rejects transactions whose sender or recipient is firewalled.
func (fw *Firewall) CheckTx(tx *Transaction) error {
	if fw == nil || tx == nil {
		return nil
	}
	if fw.IsAddressBlocked(tx.Sender) || fw.IsAddressBlocked(tx.Recipient) {
		return ErrAddrBlocked
	}
	return nil
}

// FirewallRules snapshots all current block-list rules for inspection.
type FirewallRules struct {
	Addresses []Address
	IPs       []string
}

// ListRules returns the blocked addresses and IPs.
func (fw *Firewall) ListRules() FirewallRules {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	rules := FirewallRules{}
	for a := range fw.addresses {
		rules.Addresses = append(rules.Addresses, a)
	}
	for ip := range fw.ips {
		rules.IPs = append(rules.IPs, ip)
	}
	return rules
}
