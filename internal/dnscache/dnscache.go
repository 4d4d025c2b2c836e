// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dnscache resolves hostnames and addresses for the ban
// engine (ticket ids that aren't plain IPs, ignoreip entries that
// name a host rather than a CIDR) with a bounded TTL cache in front
// of real DNS lookups, grounded on DNSUtils in ipdns.py.
package dnscache

import (
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"greywall.dev/jaild/internal/ipaddr"
	"greywall.dev/jaild/internal/logging"
)

const (
	cacheTTL     = 5 * time.Minute
	cacheMaxSize = 1000
)

var log = logging.WithComponent("dnscache")

type cacheEntry struct {
	value   any
	expires time.Time
}

type ttlCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newTTLCache() *ttlCache {
	return &ttlCache{entries: make(map[string]cacheEntry)}
}

func (c *ttlCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.value, true
}

func (c *ttlCache) set(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= cacheMaxSize {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[key] = cacheEntry{value: v, expires: time.Now().Add(cacheTTL)}
}

// Resolver performs cached DNS lookups via miekg/dns against the
// nameservers in /etc/resolv.conf (127.0.0.1:53 when none is found).
// Construct one with New; the zero value has no caches and is not usable.
type Resolver struct {
	nameToIP  *ttlCache
	ipToName  *ttlCache
	selfCache *ttlCache

	// Servers overrides the system resolver list, mainly for tests.
	Servers []string

	ipv6Allowed   *bool
	ipv6AllowedMu sync.Mutex
}

// New returns a ready-to-use Resolver.
func New() *Resolver {
	return &Resolver{
		nameToIP:  newTTLCache(),
		ipToName:  newTTLCache(),
		selfCache: newTTLCache(),
	}
}

var defaultResolver = New()

// Default returns the package-wide Resolver used by the package-level
// helper functions below.
func Default() *Resolver { return defaultResolver }

// DNSToIP resolves name to the set of IP addresses it points to,
// querying A records (and AAAA when IPv6 is allowed).
func (r *Resolver) DNSToIP(name string) []*ipaddr.IPAddr {
	if v, ok := r.nameToIP.get(name); ok {
		return v.([]*ipaddr.IPAddr)
	}

	var out []*ipaddr.IPAddr
	qtypes := []uint16{dns.TypeA}
	if r.IPv6IsAllowed() {
		qtypes = append(qtypes, dns.TypeAAAA)
	}
	for _, qt := range qtypes {
		addrs, err := r.lookup(name, qt)
		if err != nil {
			log.Debug("dns lookup failed", "name", name, "error", err)
			continue
		}
		out = append(out, addrs...)
	}
	r.nameToIP.set(name, out)
	return out
}

func (r *Resolver) lookup(name string, qtype uint16) ([]*ipaddr.IPAddr, error) {
	fqdn := dns.Fqdn(name)
	m := new(dns.Msg)
	m.SetQuestion(fqdn, qtype)
	m.RecursionDesired = true

	c := new(dns.Client)
	c.Timeout = 5 * time.Second

	server := r.server()
	in, _, err := c.Exchange(m, server)
	if err != nil {
		return nil, err
	}

	var out []*ipaddr.IPAddr
	for _, rr := range in.Answer {
		switch v := rr.(type) {
		case *dns.A:
			out = append(out, ipaddr.New(v.A.String()))
		case *dns.AAAA:
			out = append(out, ipaddr.New(v.AAAA.String()))
		}
	}
	return out, nil
}

func (r *Resolver) server() string {
	if len(r.Servers) > 0 {
		return r.Servers[0]
	}
	if conf, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(conf.Servers) > 0 {
		return net.JoinHostPort(conf.Servers[0], conf.Port)
	}
	return "127.0.0.1:53"
}

// IPToName resolves ip to its PTR hostname, or "" if none is found.
func (r *Resolver) IPToName(ip *ipaddr.IPAddr) string {
	key := ip.Ntoa()
	if v, ok := r.ipToName.get(key); ok {
		return v.(string)
	}
	ptr := ip.GetPTR("")
	m := new(dns.Msg)
	m.SetQuestion(ptr, dns.TypePTR)

	c := new(dns.Client)
	c.Timeout = 5 * time.Second
	in, _, err := c.Exchange(m, r.server())
	name := ""
	if err == nil {
		for _, rr := range in.Answer {
			if p, ok := rr.(*dns.PTR); ok {
				name = strings.TrimSuffix(p.Ptr, ".")
				break
			}
		}
	} else {
		log.Debug("reverse lookup failed", "ip", key, "error", err)
	}
	r.ipToName.set(key, name)
	return name
}

// TextToIP extracts a plain IP address from text if one is present,
// otherwise (when useDNS allows it) treats text as a hostname and
// resolves it.
func (r *Resolver) TextToIP(text string, useDNS string) []*ipaddr.IPAddr {
	if plain, ok := ipaddr.SearchIP(text); ok {
		ip := ipaddr.New(plain)
		if ip.IsValid() {
			return []*ipaddr.IPAddr{ip}
		}
	}
	if useDNS != "yes" && useDNS != "warn" {
		return nil
	}
	ips := r.DNSToIP(text)
	if len(ips) > 0 && useDNS == "warn" {
		log.Warn("determined ip using dns lookup", "text", text, "ips", ips)
	}
	return ips
}

// GetSelfNames returns this host's own names: "localhost", its short
// hostname, and its FQDN.
func (r *Resolver) GetSelfNames() []string {
	if v, ok := r.selfCache.get("self-names"); ok {
		return v.([]string)
	}
	names := map[string]struct{}{"localhost": {}}
	if host, err := os.Hostname(); err == nil && host != "" {
		names[host] = struct{}{}
		if fqdn, err := lookupFQDN(host); err == nil && fqdn != "" {
			names[fqdn] = struct{}{}
		}
	}
	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	r.selfCache.set("self-names", out)
	return out
}

func lookupFQDN(host string) (string, error) {
	addrs, err := net.LookupHost(host)
	if err != nil || len(addrs) == 0 {
		return "", err
	}
	names, err := net.LookupAddr(addrs[0])
	if err != nil || len(names) == 0 {
		return "", err
	}
	return strings.TrimSuffix(names[0], "."), nil
}

// GetNetIntrfIPs returns the IP addresses bound to local network
// interfaces.
func (r *Resolver) GetNetIntrfIPs() []*ipaddr.IPAddr {
	if v, ok := r.selfCache.get("netintf-ips"); ok {
		return v.([]*ipaddr.IPAddr)
	}
	var out []*ipaddr.IPAddr
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		r.selfCache.set("netintf-ips", out)
		return out
	}
	for _, a := range addrs {
		var ipStr string
		switch v := a.(type) {
		case *net.IPNet:
			ipStr = v.IP.String()
		case *net.IPAddr:
			ipStr = v.IP.String()
		}
		if ipStr == "" {
			continue
		}
		if ip := ipaddr.New(ipStr); ip.IsValid() {
			out = append(out, ip)
		}
	}
	r.selfCache.set("netintf-ips", out)
	return out
}

// GetSelfIPs returns every IP address that identifies this host:
// addresses bound to local interfaces plus whatever its own names
// resolve to.
func (r *Resolver) GetSelfIPs() []*ipaddr.IPAddr {
	if v, ok := r.selfCache.get("self-ips"); ok {
		return v.([]*ipaddr.IPAddr)
	}
	seen := make(map[string]struct{})
	var out []*ipaddr.IPAddr
	add := func(ip *ipaddr.IPAddr) {
		k := ip.Ntoa()
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, ip)
	}
	for _, ip := range r.GetNetIntrfIPs() {
		add(ip)
	}
	for _, name := range r.GetSelfNames() {
		for _, ip := range r.DNSToIP(name) {
			add(ip)
		}
	}
	r.selfCache.set("self-ips", out)
	return out
}

// SetIPv6Allowed pins the IPv6-allowed decision explicitly (the
// daemon config's `allow_ipv6 = yes|no`), bypassing autodetection.
func (r *Resolver) SetIPv6Allowed(allowed bool) {
	r.ipv6AllowedMu.Lock()
	r.ipv6Allowed = &allowed
	r.ipv6AllowedMu.Unlock()
}

// ResetIPv6Allowed clears a pinned decision, reverting to autodetection.
func (r *Resolver) ResetIPv6Allowed() {
	r.ipv6AllowedMu.Lock()
	r.ipv6Allowed = nil
	r.ipv6AllowedMu.Unlock()
}

// IPv6IsAllowed reports whether the resolver should also query AAAA
// records / accept IPv6 ban targets: explicitly pinned, or detected
// from whether the OS has IPv6 enabled and, failing that, whether the
// host has any IPv6 address of its own.
func (r *Resolver) IPv6IsAllowed() bool {
	r.ipv6AllowedMu.Lock()
	pinned := r.ipv6Allowed
	r.ipv6AllowedMu.Unlock()
	if pinned != nil {
		return *pinned
	}
	if v, ok := r.selfCache.get("ipv6-allowed"); ok {
		return v.(bool)
	}
	if supportsIPv6() {
		r.selfCache.set("ipv6-allowed", true)
		return true
	}
	// avoid recursing into GetSelfIPs -> DNSToIP -> IPv6IsAllowed
	r.SetIPv6Allowed(true)
	ips := r.GetNetIntrfIPs()
	r.ResetIPv6Allowed()

	allowed := false
	for _, ip := range ips {
		if ip.IsIPv6() {
			allowed = true
			break
		}
	}
	r.selfCache.set("ipv6-allowed", allowed)
	return allowed
}

func supportsIPv6() bool {
	if b, err := os.ReadFile("/proc/sys/net/ipv6/conf/all/disable_ipv6"); err == nil {
		return strings.TrimSpace(string(b)) == "0"
	}
	l, err := net.Listen("tcp6", "[::1]:0")
	if err != nil {
		return false
	}
	l.Close()
	return true
}

// Package-level helpers delegate to Default().
func DNSToIP(name string) []*ipaddr.IPAddr          { return Default().DNSToIP(name) }
func IPToName(ip *ipaddr.IPAddr) string              { return Default().IPToName(ip) }
func TextToIP(text, useDNS string) []*ipaddr.IPAddr { return Default().TextToIP(text, useDNS) }
func GetSelfIPs() []*ipaddr.IPAddr                   { return Default().GetSelfIPs() }
func GetSelfNames() []string                         { return Default().GetSelfNames() }
func IPv6IsAllowed() bool                            { return Default().IPv6IsAllowed() }
