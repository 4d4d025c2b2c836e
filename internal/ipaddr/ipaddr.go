// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ipaddr implements the address/network primitives the ban
// engine reasons about: a family-agnostic IP value with CIDR masking,
// and sets of addresses/subnets with efficient containment checks.
package ipaddr

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
)

var (
	ip4Pattern = `(?:\d{1,3}\.){3}\d{1,3}`
	ip6Pattern = `(?:[0-9a-fA-F]{1,4}::?|:){1,7}(?:[0-9a-fA-F]{1,4}|:)`

	ip46CRE  = regexp.MustCompile(`(?:(` + ip4Pattern + `)|\[?(` + ip6Pattern + `)\]?)`)
	withCIDR = regexp.MustCompile(`^(` + ip4Pattern + `|` + ip6Pattern + `)/(?:(\d+)|(` + ip4Pattern + `|` + ip6Pattern + `))$`)
)

// ip4in6 is the ::ffff:0:0/96 prefix identifying an IPv4-compatible
// IPv6 address, mirroring IPAddr.IP6_4COMPAT.
var ip4in6 = netip.MustParsePrefix("::ffff:0:0/96")

// IPAddr is a family-agnostic IP address or CIDR network, or — when
// the text doesn't parse as either — a raw identifier such as an
// unresolved DNS name. It is immutable once constructed.
type IPAddr struct {
	raw   string
	valid bool
	addr  netip.Addr
	plen  int
}

// New parses s as an IP address, optionally with a /prefix or
// dotted/colon mask suffix, unwrapping the "[ipv6]" bracket form used
// inside failregex <HOST> captures. If s doesn't parse as an IP, the
// returned IPAddr is invalid and retains s as its raw identifier (the
// DNS-name case from Fail2Ban's ban id grammar). Results are cached by
// the trimmed (ipstr, cidr) text; see cache.go.
func New(s string) *IPAddr {
	s = strings.TrimSpace(s)
	if len(s) > 2 && s[0] == '[' && s[len(s)-1] == ']' {
		s = s[1 : len(s)-1]
	}

	if a, ok := cacheGet(s); ok {
		return a
	}
	a := parseIPAddr(s)
	cacheSet(s, a)
	return a
}

func parseIPAddr(s string) *IPAddr {
	ipStr, plen, hasPlen := splitCIDR(s)
	addr, err := netip.ParseAddr(ipStr)
	if err != nil {
		return &IPAddr{raw: s}
	}

	a := &IPAddr{valid: true, addr: addr, plen: addr.BitLen()}
	if hasPlen {
		if plen < 0 || plen > addr.BitLen() {
			return &IPAddr{raw: s}
		}
		pfx := netip.PrefixFrom(addr, plen)
		a.addr = pfx.Masked().Addr()
		a.plen = plen
	}

	if a.addr.Is4In6() || (a.addr.Is6() && ip4in6.Contains(a.addr)) {
		a.addr = netip.AddrFrom4(a.addr.As4())
		a.plen = a.addr.BitLen()
	}
	return a
}

// FromPrefix builds an IPAddr directly from a parsed netip.Prefix.
func FromPrefix(p netip.Prefix) *IPAddr {
	return &IPAddr{valid: true, addr: p.Masked().Addr(), plen: p.Bits()}
}

func splitCIDR(s string) (ip string, plen int, ok bool) {
	if !strings.Contains(s, "/") {
		return s, 0, false
	}
	m := withCIDR.FindStringSubmatch(s)
	if m == nil {
		return s, 0, false
	}
	ip = m[1]
	if m[3] != "" { // dotted/colon mask form, e.g. 255.255.255.0
		mask := New(m[3])
		if !mask.valid {
			return s, 0, false
		}
		p, err := mask.MaskLen()
		if err != nil {
			return s, 0, false
		}
		return ip, p, true
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return s, 0, false
	}
	return ip, n, true
}

// Raw returns the original, unparsed text.
func (a *IPAddr) Raw() string { return a.raw }

// IsValid reports whether the text parsed as an IP address (as
// opposed to a raw DNS name or garbage).
func (a *IPAddr) IsValid() bool { return a.valid }

// IsIPv4 reports whether this is an IPv4 (or IPv4-mapped) address.
func (a *IPAddr) IsIPv4() bool { return a.valid && a.addr.Is4() }

// IsIPv6 reports whether this is a native IPv6 address.
func (a *IPAddr) IsIPv6() bool { return a.valid && a.addr.Is6() && !a.addr.Is4In6() }

// IsSingle reports whether the object denotes exactly one address
// (prefix length equal to the family width) rather than a subnet.
func (a *IPAddr) IsSingle() bool {
	if !a.valid {
		return false
	}
	return a.plen == a.addr.BitLen()
}

// Addr returns the underlying netip.Addr. Only meaningful if IsValid.
func (a *IPAddr) Addr() netip.Addr { return a.addr }

// Plen returns the prefix length (32 or less for IPv4, 128 or less
// for IPv6).
func (a *IPAddr) Plen() int { return a.plen }

// Prefix returns the address as a netip.Prefix.
func (a *IPAddr) Prefix() netip.Prefix {
	return netip.PrefixFrom(a.addr, a.plen)
}

// FamilyStr returns "inet4", "inet6", or "" for a raw/invalid value.
func (a *IPAddr) FamilyStr() string {
	switch {
	case !a.valid:
		return ""
	case a.addr.Is4():
		return "inet4"
	default:
		return "inet6"
	}
}

// Ntoa renders the address in text form, with a /plen suffix when the
// object denotes a subnet rather than a single address. Falls back to
// the raw text for invalid values.
func (a *IPAddr) Ntoa() string {
	if !a.valid {
		return a.raw
	}
	s := a.addr.String()
	if a.plen < a.addr.BitLen() {
		s += "/" + strconv.Itoa(a.plen)
	}
	return s
}

func (a *IPAddr) String() string { return a.Ntoa() }

// Hexdump renders the raw address bytes as hex, for debug logging.
func (a *IPAddr) Hexdump() string {
	if !a.valid {
		return ""
	}
	b := a.addr.As16()
	if a.addr.Is4() {
		b4 := a.addr.As4()
		return fmt.Sprintf("%08x", uint32(b4[0])<<24|uint32(b4[1])<<16|uint32(b4[2])<<8|uint32(b4[3]))
	}
	var out strings.Builder
	for _, x := range b {
		fmt.Fprintf(&out, "%02x", x)
	}
	return out.String()
}

// GetPTR returns the DNS PTR query name for this address, e.g.
// "4.3.2.1.in-addr.arpa." for 1.2.3.4.
func (a *IPAddr) GetPTR(suffix string) string {
	if !a.valid {
		return ""
	}
	if a.addr.Is4() {
		if suffix == "" {
			suffix = "in-addr.arpa."
		}
		octets := strings.Split(a.addr.String(), ".")
		for i, j := 0, len(octets)-1; i < j; i, j = i+1, j-1 {
			octets[i], octets[j] = octets[j], octets[i]
		}
		return strings.Join(octets, ".") + "." + suffix
	}
	if suffix == "" {
		suffix = "ip6.arpa."
	}
	hex := a.Hexdump()
	nibbles := make([]string, 0, len(hex))
	for i := len(hex) - 1; i >= 0; i-- {
		nibbles = append(nibbles, string(hex[i]))
	}
	return strings.Join(nibbles, ".") + "." + suffix
}

// MaskLen converts a dotted/colon netmask (255.255.255.0, ffff::) to
// a prefix length. Only meaningful for masks (contiguous high bits).
func (a *IPAddr) MaskLen() (int, error) {
	if !a.valid {
		return 0, fmt.Errorf("ipaddr: %q is not a valid mask", a.raw)
	}
	b, err := a.addr.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n := 0
	seenZero := false
	for _, byt := range b {
		for i := 7; i >= 0; i-- {
			bit := byt&(1<<uint(i)) != 0
			if bit {
				if seenZero {
					return 0, fmt.Errorf("ipaddr: %q is not a contiguous mask", a.raw)
				}
				n++
			} else {
				seenZero = true
			}
		}
	}
	return n, nil
}

// Equal mirrors IPAddr.__eq__: raw identifiers compare by string,
// valid addresses compare by family/address/prefix length.
func (a *IPAddr) Equal(other *IPAddr) bool {
	if other == nil {
		return false
	}
	if !a.valid || !other.valid {
		return a.raw == other.raw
	}
	return a.addr == other.addr && a.plen == other.plen
}

// Less imposes a total order (family first, then address), used to
// keep ban/status listings deterministic.
func (a *IPAddr) Less(other *IPAddr) bool {
	if a.valid != other.valid {
		return !a.valid && other.valid
	}
	if !a.valid {
		return a.raw < other.raw
	}
	if a.addr.Is4() != other.addr.Is4() {
		return a.addr.Is4()
	}
	return a.addr.Less(other.addr)
}

// Contains reports whether a (as a network) contains ip.
func (a *IPAddr) Contains(ip *IPAddr) bool {
	if !a.valid || !ip.valid {
		return false
	}
	if a.Equal(ip) {
		return true
	}
	return ip.IsInNet(a)
}

// IsInNet reports whether a is a member of network net.
func (a *IPAddr) IsInNet(network *IPAddr) bool {
	if !a.valid || !network.valid {
		return false
	}
	if a.addr.Is4() != network.addr.Is4() {
		return false
	}
	return network.Prefix().Contains(a.addr)
}

// SearchIP scans text for the first IPv4/IPv6-looking substring,
// mirroring IPAddr.searchIP's use in filter log-line scanning.
func SearchIP(text string) (string, bool) {
	m := ip46CRE.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	if m[1] != "" {
		return m[1], true
	}
	return m[2], true
}
