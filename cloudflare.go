package dnspodd

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"sync"

	"github.com/cloudflare/cloudflare-go"
	"go.uber.org/zap"
)

func newCloudflareProvider(token string) (*cloudflareProvider, error) {
	// Bound every API call and turn off the SDK's own retries; the
	// convergence loop owns the retry cadence.
	api, err := cloudflare.NewWithAPIToken(token,
		cloudflare.HTTPClient(&http.Client{Timeout: apiCallTimeout}),
		cloudflare.UsingRetryPolicy(0, 0, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating cloudflare api client: %w", err)
	}
	return &cloudflareProvider{
		api:       api,
		logger:    zap.NewNop(),
		zoneIDs:   map[string]string{},
		recordIDs: map[Target]string{},
	}, nil
}

// cloudflareProvider implements Provider on the Cloudflare v4 API.
//
// The SDK folds the API's embedded success/errors envelope into the
// returned error, so logical failures surface the same way transport
// failures do. Zone and record ids are memoized like the DNSPod
// provider's identifiers.
type cloudflareProvider struct {
	api    *cloudflare.API
	logger *zap.Logger

	mu        sync.Mutex
	zoneIDs   map[string]string // root domain -> zone id
	recordIDs map[Target]string // target -> record id
}

func (cf *cloudflareProvider) setLogger(logger *zap.Logger) { cf.logger = logger }

// SetAddress implements Provider.
func (cf *cloudflareProvider) SetAddress(ctx context.Context, target Target, addr netip.Addr) error {
	zoneID, err := cf.zoneID(target.Domain)
	if err != nil {
		return err
	}
	recordID, err := cf.recordID(ctx, target, zoneID)
	if err != nil {
		return err
	}

	_, err = cf.api.UpdateDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), cloudflare.UpdateDNSRecordParams{
		ID:      recordID,
		Type:    recordTypeA,
		Name:    target.FQDN(),
		Content: addr.String(),
		TTL:     1, // automatic
	})
	if err != nil {
		return fmt.Errorf("modifying record %s: %w", target.FQDN(), err)
	}
	cf.logger.Info("cloudflare record updated",
		zap.String("record", target.FQDN()),
		zap.Stringer("address", addr),
		zap.String("record_id", recordID))
	return nil
}

func (cf *cloudflareProvider) zoneID(domain string) (string, error) {
	cf.mu.Lock()
	id, ok := cf.zoneIDs[domain]
	cf.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := cf.api.ZoneIDByName(domain)
	if err != nil {
		return "", fmt.Errorf("unable to get zone ID for %s: %w", domain, err)
	}
	cf.mu.Lock()
	cf.zoneIDs[domain] = id
	cf.mu.Unlock()
	cf.logger.Info("cloudflare zone resolved",
		zap.String("domain", domain),
		zap.String("zone_id", id))
	return id, nil
}

func (cf *cloudflareProvider) recordID(ctx context.Context, target Target, zoneID string) (string, error) {
	cf.mu.Lock()
	id, ok := cf.recordIDs[target]
	cf.mu.Unlock()
	if ok {
		return id, nil
	}

	records, _, err := cf.api.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(zoneID), cloudflare.ListDNSRecordsParams{
		Type: recordTypeA,
		Name: target.FQDN(),
	})
	if err != nil {
		return "", fmt.Errorf("listing records for %s: %w", target.FQDN(), err)
	}
	if len(records) == 0 {
		return "", fmt.Errorf("%q: %w", target.FQDN(), ErrRecordNotFound)
	}
	id = records[0].ID
	cf.mu.Lock()
	cf.recordIDs[target] = id
	cf.mu.Unlock()
	cf.logger.Info("cloudflare record resolved",
		zap.String("record", target.FQDN()),
		zap.String("record_id", id))
	return id, nil
}
