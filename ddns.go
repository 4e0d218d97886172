package dnspodd

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"go.uber.org/zap"
)

// DefaultInterval is the delay between convergence cycles when no
// interval was configured.
const DefaultInterval = 300 * time.Second

// userAgent identifies outbound requests to echo services and APIs.
const userAgent = "dnspodd/1 (+https://github.com/dnspodd/dnspodd)"

// New returns a Client that keeps the address record for target
// pointed at the machine's current public IP.
//
// A provider option such as [UsingDNSPod] or [UsingCloudflare] is
// required. Without further options the client discovers its address
// through [DefaultWebServices], remembers the last committed address
// in [DefaultStateFile], logs nowhere, and converges every
// [DefaultInterval].
func New(target Target, options ...Option) (*Client, error) {
	if target.Domain == "" {
		return nil, fmt.Errorf("dnspodd.New: target domain cannot be empty")
	}
	if target.Sub == "" {
		target.Sub = Apex
	}
	c := &Client{
		resolver: &webResolver{services: DefaultWebServices, logger: zap.NewNop()},
		logger:   zap.NewNop(),
		target:   target,
		interval: DefaultInterval,
	}
	for i, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("dnspodd.New: option %d returned an error: %w", i, err)
		}
	}

	if c.provider == nil {
		return nil, fmt.Errorf("dnspodd.New: no DNS provider was registered and there is no default option - use dnspodd.UsingDNSPod or similar")
	}
	if c.state == nil {
		c.state = FileState(DefaultStateFile)
	}

	// this lets us propagate the logger to dependencies that use one if WithLogger was called before all of the dependencies were registered
	withLogger(c.logger)(c)

	addr, err := c.state.Load()
	if err != nil {
		c.logger.Warn("stored address is unreadable, starting with it unknown", zap.Error(err))
	} else {
		c.current = addr
	}
	return c, nil
}

// An Option configures the Client being constructed by New.
type Option func(*Client) error

// UsingDNSPod registers DNSPod as the DNS provider. The login token is
// the API credential pair in DNSPod's "ID,Token" form.
func UsingDNSPod(loginToken string) Option {
	return func(c *Client) (err error) {
		if c.provider, err = newDNSPodProvider(loginToken); err != nil {
			return fmt.Errorf("dnspodd.UsingDNSPod: error creating dnspod DNS provider: %w", err)
		}
		return nil
	}
}

// UsingCloudflare registers Cloudflare as the DNS provider,
// authenticated by an API token scoped to edit the target's zone.
func UsingCloudflare(token string) Option {
	return func(c *Client) (err error) {
		if c.provider, err = newCloudflareProvider(token); err != nil {
			return fmt.Errorf("dnspodd.UsingCloudflare: error creating cloudflare DNS provider: %w", err)
		}
		return nil
	}
}

// UsingProvider registers a custom Provider implementation.
func UsingProvider(provider Provider) Option {
	return func(c *Client) error {
		c.provider = provider
		return nil
	}
}

// UsingResolver sets the source of the machine's public address. A nil
// resolver restores the default.
func UsingResolver(resolver Resolver) Option {
	return func(c *Client) error {
		if resolver == nil {
			resolver = &webResolver{services: DefaultWebServices, logger: zap.NewNop()}
		}
		c.resolver = resolver
		return nil
	}
}

// UsingWebResolver sets the source of the public address to the given
// echo service URLs, consulted in order.
func UsingWebResolver(serviceURL ...string) Option {
	return func(c *Client) error {
		wr, err := WebResolver(serviceURL...)
		if err != nil {
			return err
		}
		c.resolver = wr
		return nil
	}
}

// WithInterval sets the delay between convergence cycles. Values of
// zero or below restore DefaultInterval.
func WithInterval(interval time.Duration) Option {
	return func(c *Client) error {
		if interval <= 0 {
			interval = DefaultInterval
		}
		c.interval = interval
		return nil
	}
}

// WithStateFile keeps the last committed address in the file at path
// instead of DefaultStateFile.
func WithStateFile(path string) Option {
	return func(c *Client) error {
		c.state = FileState(path)
		return nil
	}
}

// UsingState registers a custom StateStore implementation.
func UsingState(store StateStore) Option {
	return func(c *Client) error {
		c.state = store
		return nil
	}
}

// WithJournal records every update attempt in journal. Without it the
// only trail of attempts is the log.
func WithJournal(journal *Journal) Option {
	return func(c *Client) error {
		c.journal = journal
		return nil
	}
}

// WithLogger directs the client's logging to logger. A nil logger
// silences it.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			logger = zap.NewNop()
		}
		c.logger = logger
		return nil
	}
}

func withLogger(logger *zap.Logger) Option {
	return func(c *Client) error {
		type setLogger interface {
			setLogger(*zap.Logger)
		}
		if p, ok := c.provider.(setLogger); ok {
			p.setLogger(logger)
		}
		if r, ok := c.resolver.(setLogger); ok {
			r.setLogger(logger)
		}
		return nil
	}
}

// UsingHTTPClient replaces http.DefaultClient for every component that
// speaks HTTP: the web resolver and the provider API clients.
func UsingHTTPClient(httpclient *http.Client) Option {
	return func(c *Client) error {
		if httpclient == nil {
			httpclient = http.DefaultClient
		}
		type setHTTPClient interface {
			setHTTPClient(*http.Client)
		}
		if r, ok := c.resolver.(setHTTPClient); ok {
			r.setHTTPClient(httpclient)
		}
		switch p := c.provider.(type) {
		case *cloudflareProvider:
			cloudflare.HTTPClient(httpclient)(p.api)
		case setHTTPClient:
			p.setHTTPClient(httpclient)
		}
		return nil
	}
}

// Client converges a single address record: it discovers the current
// public IP, compares it against the last address committed to the
// provider, and updates the record when they differ.
//
// The last committed address is held in memory and mirrored to a
// StateStore after every confirmed update, so restarts do not re-issue
// updates for an address the provider already has.
type Client struct {
	resolver Resolver
	provider Provider
	state    StateStore
	journal  *Journal
	logger   *zap.Logger
	target   Target
	interval time.Duration
	current  netip.Addr // last address confirmed at the provider; zero when unknown
}

// RunOnce performs one convergence cycle: resolve, compare, and update
// if the record drifted. It reports the first thing that went wrong;
// nothing about the cycle is retried internally. A panic inside a
// resolver or provider is recovered and reported as an error.
func (c *Client) RunOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("convergence cycle panicked: %v", r)
		}
	}()

	addr, err := c.resolver.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("error getting public IP: %w", err)
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return fmt.Errorf("resolved %s: only IPv4 can go in an address record", addr)
	}

	if addr == c.current {
		c.logger.Debug("address unchanged",
			zap.String("record", c.target.FQDN()),
			zap.Stringer("address", addr))
		return nil
	}
	c.logger.Info("address drift detected",
		zap.String("record", c.target.FQDN()),
		zap.String("have", formatAddr(c.current)),
		zap.String("want", addr.String()))

	if err := c.provider.SetAddress(ctx, c.target, addr); err != nil {
		c.record(ctx, c.current, addr, OutcomeFailed, err.Error())
		return fmt.Errorf("error updating %s with new IP: %w", c.target.FQDN(), err)
	}

	previous := c.current
	c.current = addr
	if err := c.state.Save(addr); err != nil {
		// The provider already has the new address; losing the file
		// write only costs one redundant update after a restart.
		c.logger.Warn("new address was not persisted", zap.Error(err))
	}
	c.record(ctx, previous, addr, OutcomeUpdated, "")
	c.logger.Info("record updated",
		zap.String("record", c.target.FQDN()),
		zap.String("from", formatAddr(previous)),
		zap.String("to", addr.String()))
	return nil
}

// Run converges the record once immediately and then once per
// interval until ctx is cancelled. Cancellation is a graceful shutdown
// and returns nil. Failed cycles are logged and retried on the next
// tick; they never stop the daemon.
func (c *Client) Run(ctx context.Context) error {
	interval := c.interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	c.logger.Info("daemon started",
		zap.String("record", c.target.FQDN()),
		zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := c.RunOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("convergence cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			c.logger.Info("daemon stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Client) record(ctx context.Context, from, to netip.Addr, outcome, detail string) {
	if c.journal == nil {
		return
	}
	rec := UpdateRecord{
		Domain:  c.target.Domain,
		Sub:     c.target.Sub,
		To:      to.String(),
		Outcome: outcome,
		Detail:  detail,
	}
	if from.IsValid() {
		rec.From = from.String()
	}
	if err := c.journal.Append(ctx, rec); err != nil {
		c.logger.Warn("journal write failed", zap.Error(err))
	}
}

func formatAddr(addr netip.Addr) string {
	if !addr.IsValid() {
		return "unknown"
	}
	return addr.String()
}
