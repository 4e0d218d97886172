package dnspodd_test

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dnspodd/dnspodd"
)

// fakeProvider records every SetAddress call and can be told to fail.
type fakeProvider struct {
	mu    sync.Mutex
	calls int
	last  netip.Addr
	err   error
}

func (p *fakeProvider) SetAddress(ctx context.Context, target dnspodd.Target, addr netip.Addr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.last = addr
	return nil
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) lastAddr() netip.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *fakeProvider) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func fixedResolver(addr string) dnspodd.Resolver {
	return dnspodd.ResolverFunc(func(ctx context.Context) (netip.Addr, error) {
		return netip.MustParseAddr(addr), nil
	})
}

func tempStateFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "current_ip.txt")
}

func TestNewRequiresDomain(t *testing.T) {
	_, err := dnspodd.New(dnspodd.Target{})
	if err == nil {
		t.Fatal("Expected an error when the target domain is empty")
	}
}

func TestNewRequiresProvider(t *testing.T) {
	_, err := dnspodd.New(
		dnspodd.Target{Domain: "example.com"},
		dnspodd.WithStateFile(tempStateFile(t)),
	)
	if err == nil {
		t.Fatal("Expected an error when no provider option is given")
	}
}

func TestNewRejectsBadOption(t *testing.T) {
	bad := func(*dnspodd.Client) error { return errors.New("nope") }
	_, err := dnspodd.New(
		dnspodd.Target{Domain: "example.com"},
		dnspodd.UsingProvider(&fakeProvider{}),
		dnspodd.Option(bad),
		dnspodd.WithStateFile(tempStateFile(t)),
	)
	if err == nil {
		t.Fatal("Expected the option error to be returned")
	}
	if expected := "option 1 returned an error"; !strings.Contains(err.Error(), expected) {
		t.Fatalf("Expected error mentioning %q; got %q", expected, err)
	}
}

func TestRunOnceSkipsUnchangedAddress(t *testing.T) {
	state := tempStateFile(t)
	if err := os.WriteFile(state, []byte("192.0.2.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	provider := &fakeProvider{}
	client, err := dnspodd.New(
		dnspodd.Target{Domain: "example.com", Sub: "home"},
		dnspodd.UsingProvider(provider),
		dnspodd.UsingResolver(fixedResolver("192.0.2.1")),
		dnspodd.WithStateFile(state),
	)
	if err != nil {
		t.Fatalf("New failed: %s", err)
	}
	if err := client.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %s", err)
	}
	if provider.count() != 0 {
		t.Fatalf("Expected 0 provider calls for an unchanged address; got %d", provider.count())
	}
}

func TestRunOnceCommitsOnSuccess(t *testing.T) {
	state := tempStateFile(t)
	if err := os.WriteFile(state, []byte("192.0.2.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	provider := &fakeProvider{}
	client, err := dnspodd.New(
		dnspodd.Target{Domain: "example.com", Sub: "home"},
		dnspodd.UsingProvider(provider),
		dnspodd.UsingResolver(fixedResolver("198.51.100.4")),
		dnspodd.WithStateFile(state),
	)
	if err != nil {
		t.Fatalf("New failed: %s", err)
	}
	if err := client.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %s", err)
	}
	if provider.count() != 1 {
		t.Fatalf("Expected 1 provider call; got %d", provider.count())
	}
	if expected := netip.MustParseAddr("198.51.100.4"); provider.lastAddr() != expected {
		t.Fatalf("Expected %q; got %q", expected, provider.lastAddr())
	}
	b, err := os.ReadFile(state)
	if err != nil {
		t.Fatalf("reading state file: %s", err)
	}
	if expected := "198.51.100.4"; strings.TrimSpace(string(b)) != expected {
		t.Fatalf("Expected state file to contain %q; got %q", expected, strings.TrimSpace(string(b)))
	}

	// The address is now current, so another cycle must not touch the provider.
	if err := client.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %s", err)
	}
	if provider.count() != 1 {
		t.Fatalf("Expected no further provider calls; got %d", provider.count())
	}
}

func TestRunOnceKeepsStateOnFailure(t *testing.T) {
	state := tempStateFile(t)
	if err := os.WriteFile(state, []byte("192.0.2.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	provider := &fakeProvider{}
	provider.fail(errors.New("upstream is down"))
	client, err := dnspodd.New(
		dnspodd.Target{Domain: "example.com", Sub: "home"},
		dnspodd.UsingProvider(provider),
		dnspodd.UsingResolver(fixedResolver("198.51.100.4")),
		dnspodd.WithStateFile(state),
	)
	if err != nil {
		t.Fatalf("New failed: %s", err)
	}
	if err := client.RunOnce(context.Background()); err == nil {
		t.Fatal("Expected RunOnce to report the provider failure")
	}
	b, err := os.ReadFile(state)
	if err != nil {
		t.Fatalf("reading state file: %s", err)
	}
	if expected := "192.0.2.1"; strings.TrimSpace(string(b)) != expected {
		t.Fatalf("Expected state file to still contain %q; got %q", expected, strings.TrimSpace(string(b)))
	}

	// The failed address must be retried on the next cycle, not forgotten.
	if err := client.RunOnce(context.Background()); err == nil {
		t.Fatal("Expected RunOnce to report the provider failure")
	}
	if provider.count() != 2 {
		t.Fatalf("Expected the update to be retried; got %d provider calls", provider.count())
	}

	provider.fail(nil)
	if err := client.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed after the provider recovered: %s", err)
	}
	if expected := netip.MustParseAddr("198.51.100.4"); provider.lastAddr() != expected {
		t.Fatalf("Expected %q; got %q", expected, provider.lastAddr())
	}
}

func TestRunOnceReportsResolverError(t *testing.T) {
	provider := &fakeProvider{}
	failing := dnspodd.ResolverFunc(func(ctx context.Context) (netip.Addr, error) {
		return netip.Addr{}, errors.New("all echo services are down")
	})
	client, err := dnspodd.New(
		dnspodd.Target{Domain: "example.com"},
		dnspodd.UsingProvider(provider),
		dnspodd.UsingResolver(failing),
		dnspodd.WithStateFile(tempStateFile(t)),
	)
	if err != nil {
		t.Fatalf("New failed: %s", err)
	}
	if err := client.RunOnce(context.Background()); err == nil {
		t.Fatal("Expected RunOnce to propagate the resolver error")
	}
	if provider.count() != 0 {
		t.Fatalf("Expected 0 provider calls when discovery fails; got %d", provider.count())
	}
}

func TestRunOnceRejectsIPv6(t *testing.T) {
	provider := &fakeProvider{}
	client, err := dnspodd.New(
		dnspodd.Target{Domain: "example.com"},
		dnspodd.UsingProvider(provider),
		dnspodd.UsingResolver(fixedResolver("2001:db8::1")),
		dnspodd.WithStateFile(tempStateFile(t)),
	)
	if err != nil {
		t.Fatalf("New failed: %s", err)
	}
	if err := client.RunOnce(context.Background()); err == nil {
		t.Fatal("Expected RunOnce to reject an IPv6 address")
	}
	if provider.count() != 0 {
		t.Fatalf("Expected 0 provider calls; got %d", provider.count())
	}
}

func TestRunOnceRecoversFromPanic(t *testing.T) {
	provider := &fakeProvider{}
	panicking := dnspodd.ResolverFunc(func(ctx context.Context) (netip.Addr, error) {
		panic("resolver exploded")
	})
	client, err := dnspodd.New(
		dnspodd.Target{Domain: "example.com"},
		dnspodd.UsingProvider(provider),
		dnspodd.UsingResolver(panicking),
		dnspodd.WithStateFile(tempStateFile(t)),
	)
	if err != nil {
		t.Fatalf("New failed: %s", err)
	}
	err = client.RunOnce(context.Background())
	if err == nil {
		t.Fatal("Expected the recovered panic to surface as an error")
	}
	if expected := "resolver exploded"; !strings.Contains(err.Error(), expected) {
		t.Fatalf("Expected error mentioning %q; got %q", expected, err)
	}
}

func TestNewSeedsFromStateFile(t *testing.T) {
	state := tempStateFile(t)
	if err := os.WriteFile(state, []byte("203.0.113.9\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	provider := &fakeProvider{}
	client, err := dnspodd.New(
		dnspodd.Target{Domain: "example.com"},
		dnspodd.UsingProvider(provider),
		dnspodd.UsingResolver(fixedResolver("203.0.113.9")),
		dnspodd.WithStateFile(state),
	)
	if err != nil {
		t.Fatalf("New failed: %s", err)
	}
	if err := client.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %s", err)
	}
	if provider.count() != 0 {
		t.Fatalf("Expected the persisted address to suppress the update; got %d provider calls", provider.count())
	}
}

func TestNewToleratesCorruptStateFile(t *testing.T) {
	state := tempStateFile(t)
	if err := os.WriteFile(state, []byte("not an address\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	provider := &fakeProvider{}
	client, err := dnspodd.New(
		dnspodd.Target{Domain: "example.com"},
		dnspodd.UsingProvider(provider),
		dnspodd.UsingResolver(fixedResolver("203.0.113.9")),
		dnspodd.WithStateFile(state),
	)
	if err != nil {
		t.Fatalf("New failed: %s", err)
	}
	if err := client.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %s", err)
	}
	if provider.count() != 1 {
		t.Fatalf("Expected an update when the stored address is unreadable; got %d provider calls", provider.count())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	provider := &fakeProvider{}
	client, err := dnspodd.New(
		dnspodd.Target{Domain: "example.com"},
		dnspodd.UsingProvider(provider),
		dnspodd.UsingResolver(fixedResolver("192.0.2.1")),
		dnspodd.WithInterval(5*time.Millisecond),
		dnspodd.WithStateFile(tempStateFile(t)),
	)
	if err != nil {
		t.Fatalf("New failed: %s", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Expected Run to return nil after cancellation; got %s", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after its context was cancelled")
	}
}

func TestRunSurvivesFailingCycles(t *testing.T) {
	var mu sync.Mutex
	var resolves int
	flaky := dnspodd.ResolverFunc(func(ctx context.Context) (netip.Addr, error) {
		mu.Lock()
		resolves++
		n := resolves
		mu.Unlock()
		if n%2 == 0 {
			panic("transient failure")
		}
		return netip.Addr{}, errors.New("transient failure")
	})
	client, err := dnspodd.New(
		dnspodd.Target{Domain: "example.com"},
		dnspodd.UsingProvider(&fakeProvider{}),
		dnspodd.UsingResolver(flaky),
		dnspodd.WithInterval(5*time.Millisecond),
		dnspodd.WithStateFile(tempStateFile(t)),
	)
	if err != nil {
		t.Fatalf("New failed: %s", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := client.Run(ctx); err != nil {
		t.Fatalf("Expected Run to outlive failing cycles and return nil; got %s", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if resolves < 2 {
		t.Fatalf("Expected the loop to keep running after failures; got %d cycles", resolves)
	}
}
