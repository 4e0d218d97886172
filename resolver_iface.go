package dnspodd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// InterfaceResolver constructs a resolver that reports the first
// global unicast IPv4 address assigned to the named local interface,
// for hosts whose interface carries a publicly routed address and no
// NAT sits in between. If iface is empty all interfaces are scanned.
func InterfaceResolver(iface string) Resolver {
	return interfaceResolver{iface: iface}
}

type interfaceResolver struct {
	iface string
}

// Resolve implements Resolver.
func (r interfaceResolver) Resolve(ctx context.Context) (netip.Addr, error) {
	var (
		addrs []net.Addr
		err   error
	)
	if r.iface == "" {
		if addrs, err = net.InterfaceAddrs(); err != nil {
			return netip.Addr{}, fmt.Errorf("error getting addresses for interface: %w", err)
		}
	} else {
		iface, err := net.InterfaceByName(r.iface)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("error getting interface %s by name: %w", r.iface, err)
		}
		if addrs, err = iface.Addrs(); err != nil {
			return netip.Addr{}, fmt.Errorf("error looking up addresses for interface %s: %w", r.iface, err)
		}
	}

	// addr: ip+net:192.168.86.253/24
	// addr: ip+net:fe80::2cc9:801b:3551:9a43/64
	var errs []error
	for _, addr := range addrs {
		prefix, err := netip.ParsePrefix(addr.String())
		if err != nil {
			errs = append(errs, fmt.Errorf("error parsing local ip %s: %w", addr.String(), err))
			continue
		}
		a := prefix.Addr().Unmap()
		if !a.Is4() || !a.IsGlobalUnicast() || a.IsPrivate() {
			continue
		}
		return a, nil
	}
	errs = append(errs, errors.New("no publicly routable IPv4 address on local interfaces"))
	return netip.Addr{}, errors.Join(errs...)
}
