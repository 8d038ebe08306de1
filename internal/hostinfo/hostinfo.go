// Package hostinfo resolves the identity the server certificate is issued
// for: host name, domain and the current primary IP address.
package hostinfo

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/vishvananda/netlink"
)

// ErrNoAddress is returned when no usable unicast address is found.
var ErrNoAddress = errors.New("no usable IP address")

// probeDst is only used to ask the kernel which source address it would pick
// for outbound traffic; nothing is sent.
var probeDst = net.IPv4(192, 0, 2, 1)

// Options override parts of the discovered identity.
type Options struct {
	Hostname  string
	Domain    string
	Address   string
	Interface string
}

// Identity is the network identity of this host.
type Identity struct {
	Hostname string
	Domain   string
	IP       net.IP
}

// FQDN returns hostname.domain, or the bare host name when no domain is set.
func (id Identity) FQDN() string {
	if id.Domain == "" {
		return id.Hostname
	}
	return id.Hostname + "." + id.Domain
}

// AltNames returns the SAN entries for the server certificate: the FQDN,
// the current IP, then extra, without duplicates and in that order.
func (id Identity) AltNames(extra ...string) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		n = strings.TrimSpace(n)
		if n == "" || seen[strings.ToLower(n)] {
			return
		}
		seen[strings.ToLower(n)] = true
		names = append(names, n)
	}

	add(id.FQDN())
	if id.IP != nil {
		add(id.IP.String())
	}
	for _, n := range extra {
		add(n)
	}
	return names
}

// ResolveHost fills the host name and domain of the identity, without
// looking up an address.
func ResolveHost(opts Options) (Identity, error) {
	id := Identity{Hostname: opts.Hostname, Domain: strings.Trim(opts.Domain, ".")}

	if id.Hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return Identity{}, fmt.Errorf("failed to read host name: %w", err)
		}
		id.Hostname = h
	}
	// A fully qualified host name already carries its domain.
	if id.Domain != "" && strings.HasSuffix(strings.ToLower(id.Hostname), "."+strings.ToLower(id.Domain)) {
		id.Hostname = id.Hostname[:len(id.Hostname)-len(id.Domain)-1]
	}
	return id, nil
}

// Discover builds the host identity, filling anything not given in opts
// from the operating system.
func Discover(opts Options) (Identity, error) {
	id, err := ResolveHost(opts)
	if err != nil {
		return Identity{}, err
	}

	if opts.Address != "" {
		ip := net.ParseIP(opts.Address)
		if ip == nil {
			return Identity{}, fmt.Errorf("invalid address %q", opts.Address)
		}
		id.IP = ip
		return id, nil
	}

	ip, err := PrimaryAddress(opts.Interface)
	if err != nil {
		return Identity{}, err
	}
	id.IP = ip
	return id, nil
}

// PrimaryAddress returns the first global unicast address of iface. With no
// interface it asks the routing table for the source address of the default
// route and falls back to scanning every link.
func PrimaryAddress(iface string) (net.IP, error) {
	if iface != "" {
		link, err := netlink.LinkByName(iface)
		if err != nil {
			return nil, fmt.Errorf("interface %s not found: %w", iface, err)
		}
		return linkAddress(link)
	}

	if routes, err := netlink.RouteGet(probeDst); err == nil {
		for _, r := range routes {
			if r.Src != nil && r.Src.IsGlobalUnicast() {
				return r.Src, nil
			}
		}
	}

	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	for _, link := range links {
		if link.Attrs().Flags&net.FlagUp == 0 {
			continue
		}
		if ip, err := linkAddress(link); err == nil {
			return ip, nil
		}
	}
	return nil, ErrNoAddress
}

// linkAddress prefers IPv4 over IPv6.
func linkAddress(link netlink.Link) (net.IP, error) {
	for _, family := range []int{netlink.FAMILY_V4, netlink.FAMILY_V6} {
		addrs, err := netlink.AddrList(link, family)
		if err != nil {
			return nil, fmt.Errorf("failed to list addresses on %s: %w", link.Attrs().Name, err)
		}
		for _, a := range addrs {
			if a.IP.IsGlobalUnicast() {
				return a.IP, nil
			}
		}
	}
	return nil, fmt.Errorf("%w on %s", ErrNoAddress, link.Attrs().Name)
}
