package dnspodd

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// OpenDNS answers an A query for myip.opendns.com with the address the
// query came from, which makes it an echo service that works where
// outbound HTTP is filtered.
const (
	defaultEchoNameserver = "resolver1.opendns.com:53"
	defaultEchoName       = "myip.opendns.com."
)

// DNSResolver constructs a resolver that discovers the public address
// over DNS by asking server for the A record of name. Empty arguments
// select the OpenDNS echo service.
func DNSResolver(server, name string) Resolver {
	if server == "" {
		server = defaultEchoNameserver
	}
	if name == "" {
		name = defaultEchoName
	}
	return &dnsResolver{
		client: new(dns.Client),
		server: server,
		name:   dns.Fqdn(name),
		logger: zap.NewNop(),
	}
}

type dnsResolver struct {
	client *dns.Client
	server string
	name   string
	logger *zap.Logger
}

func (r *dnsResolver) setLogger(logger *zap.Logger) { r.logger = logger }

// Resolve implements Resolver.
func (r *dnsResolver) Resolve(ctx context.Context) (netip.Addr, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(r.name, dns.TypeA)

	in, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("dns query against %s failed: %w", r.server, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return netip.Addr{}, fmt.Errorf("dns query against %s returned %s", r.server, dns.RcodeToString[in.Rcode])
	}
	for _, rr := range in.Answer {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(a.A.To4())
		if !ok {
			continue
		}
		r.logger.Debug("public IP resolved over dns",
			zap.String("server", r.server),
			zap.Stringer("address", addr))
		return addr, nil
	}
	return netip.Addr{}, fmt.Errorf("%s returned no A records for %s", r.server, r.name)
}
