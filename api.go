package dnspodd

import (
	"context"
	"net/netip"
)

// Apex is the subdomain sentinel addressing the root of a domain.
const Apex = "@"

// A Target names the one address record this package keeps in sync:
// the A record for Sub beneath Domain. An empty Sub means the apex.
type Target struct {
	Domain string
	Sub    string
}

// FQDN returns the fully qualified name of the target record.
func (t Target) FQDN() string {
	if t.Sub == "" || t.Sub == Apex {
		return t.Domain
	}
	return t.Sub + "." + t.Domain
}

// A Resolver reports the machine's current public IPv4 address.
type Resolver interface {
	Resolve(context.Context) (netip.Addr, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(context.Context) (netip.Addr, error)

func (f ResolverFunc) Resolve(ctx context.Context) (netip.Addr, error) { return f(ctx) }

// A Provider points the address record for target at addr.
//
// Implementations must report failure whenever the record cannot be
// confirmed updated, including logical failures embedded in an
// otherwise successful API response. They must not retry internally;
// retry cadence belongs to the caller.
type Provider interface {
	SetAddress(ctx context.Context, target Target, addr netip.Addr) error
}
