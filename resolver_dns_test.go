package dnspodd_test

import (
	"context"
	"net"
	"net/netip"
	"testing"

	"github.com/miekg/dns"

	"github.com/dnspodd/dnspodd"
)

// startEchoNameserver runs a nameserver on a loopback port that answers
// every A query with answer, mimicking resolver1.opendns.com's handling
// of myip.opendns.com.
func startEchoNameserver(t *testing.T, answer string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening on a loopback port: %s", err)
	}
	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(req)
			if answer == "" {
				m.Rcode = dns.RcodeNameError
			} else if req.Question[0].Qtype == dns.TypeA {
				rr, err := dns.NewRR(req.Question[0].Name + " 60 IN A " + answer)
				if err == nil {
					m.Answer = append(m.Answer, rr)
				}
			}
			_ = w.WriteMsg(m)
		}),
	}
	go srv.ActivateAndServe()
	t.Cleanup(func() { _ = srv.Shutdown() })
	<-started
	return pc.LocalAddr().String()
}

func TestDNSResolver(t *testing.T) {
	server := startEchoNameserver(t, "203.0.113.9")
	r := dnspodd.DNSResolver(server, "myip.opendns.com")
	got, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve failed: %s", err)
	}
	if expected := netip.MustParseAddr("203.0.113.9"); expected != got {
		t.Fatalf("Expected %q; got %q", expected, got)
	}
}

func TestDNSResolverNameError(t *testing.T) {
	server := startEchoNameserver(t, "")
	r := dnspodd.DNSResolver(server, "myip.opendns.com")
	if _, err := r.Resolve(context.Background()); err == nil {
		t.Fatal("Expected an error for an NXDOMAIN reply")
	}
}
