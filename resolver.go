package dnspodd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNoAddress is reported by the web resolver when every echo service
// in its list failed to produce a usable address.
var ErrNoAddress = errors.New("no echo service returned a usable address")

// DefaultWebServices are the echo endpoints consulted when no custom
// list is configured. Order matters: it is a priority list, and the
// first usable answer stops the scan.
var DefaultWebServices = []string{
	"https://ip.3322.net",
	"https://ipinfo.io/ip",
	"https://icanhazip.com",
	"https://v4.ident.me",
	"https://checkip.amazonaws.com",
	"https://ifconfig.co/ip",
	"https://whatismyip.akamai.com",
	"https://ident.me",
	"http://ip.42.pl/raw",
	"https://ipecho.net/plain",
}

// DefaultLookupTimeout bounds each individual echo service request, so
// one hung service delays the scan instead of wedging it.
const DefaultLookupTimeout = 5 * time.Second

// WebResolver constructs a resolver which uses external web services to look up a "public" IP address.
//
// Each serviceURL must speak http and return status "200 OK",
// with a valid IPv4 address as the first line of the response body.
// The list is tried strictly in order and the first usable answer wins;
// a service that errors, times out, or answers with something other
// than an IPv4 address only moves the scan to the next entry.
// Only after the whole list failed does Resolve report [ErrNoAddress].
//
// No single public echo service has guaranteed uptime, so reliability
// comes from listing several independently operated ones. Calling
// WebResolver with no arguments uses [DefaultWebServices].
func WebResolver(serviceURL ...string) (Resolver, error) {
	if len(serviceURL) == 0 {
		serviceURL = DefaultWebServices
	}
	for _, u := range serviceURL {
		if _, err := url.Parse(u); err != nil {
			return nil, fmt.Errorf("error parsing URL: %w", err)
		}
	}
	return &webResolver{services: serviceURL, logger: zap.NewNop()}, nil
}

type webResolver struct {
	httpClient *http.Client
	services   []string
	timeout    time.Duration // per-service; DefaultLookupTimeout when zero
	logger     *zap.Logger
}

func (wr *webResolver) setLogger(logger *zap.Logger)          { wr.logger = logger }
func (wr *webResolver) setHTTPClient(httpclient *http.Client) { wr.httpClient = httpclient }

// Resolve implements Resolver.
func (wr *webResolver) Resolve(ctx context.Context) (netip.Addr, error) {
	if len(wr.services) == 0 {
		return netip.Addr{}, errors.New("no external IP lookup services were provided")
	}

	var errs []error
	for _, service := range wr.services {
		addr, err := wr.lookup(ctx, service)
		if err != nil {
			if ctx.Err() != nil {
				// The caller is gone; the remaining services would
				// only fail the same way.
				return netip.Addr{}, fmt.Errorf("public IP lookup interrupted: %w", ctx.Err())
			}
			wr.logger.Warn("echo service failed",
				zap.String("service", service),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", service, err))
			continue
		}
		wr.logger.Debug("public IP resolved",
			zap.String("service", service),
			zap.Stringer("address", addr))
		return addr, nil
	}
	return netip.Addr{}, fmt.Errorf("%w: %w", ErrNoAddress, errors.Join(errs...))
}

func (wr *webResolver) lookup(ctx context.Context, service string) (netip.Addr, error) {
	timeout := wr.timeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	// The per-service timeout also covers callers that supplied
	// context.Background and an http.Client with no timeout of its own.
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, service, nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", userAgent)

	httpclient := wr.httpClient
	if httpclient == nil {
		httpclient = http.DefaultClient
	}

	resp, err := httpclient.Do(req)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return netip.Addr{}, fmt.Errorf("http request returned %s", resp.Status)
	}

	scanner := bufio.NewReader(resp.Body)
	ipstring, _ := scanner.ReadString('\n')
	addr, err := netip.ParseAddr(strings.TrimSpace(ipstring))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error parsing IP address from response body: %w", err)
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%s is not an IPv4 address", addr)
	}
	return addr, nil
}
