package dnspodd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DNSPod wire constants. The API answers nearly every call with HTTP
// 200 and reports logical failure in an embedded status object, so
// callers must check status.code rather than the transport status.
const (
	dnspodBaseURL  = "https://dnsapi.cn"
	dnspodStatusOK = "1"
	// The account-independent default routing line. DNSPod expects the
	// Chinese literal even on international accounts.
	dnspodDefaultLine = "默认"
	recordTypeA       = "A"
	apiCallTimeout    = 10 * time.Second
)

// Identifier lookup failures. These repeat identically every cycle
// until the account or the zone is fixed on the provider side.
var (
	ErrDomainNotFound = errors.New("domain is not listed in this account")
	ErrRecordNotFound = errors.New("no address record exists for the subdomain")
)

// An APIError is a logical failure reported inside a
// transport-successful DNSPod response.
type APIError struct {
	Action  string // API action, e.g. "Record.Modify"
	Code    string // embedded status.code; "1" is the success value
	Message string // embedded status.message
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dnspod %s returned code %s: %s", e.Action, e.Code, e.Message)
}

// CheckLoginToken rejects credentials that cannot possibly
// authenticate: DNSPod login tokens are "ID,Token" pairs and both
// halves must be present. Only the string is inspected; no network
// call is made.
func CheckLoginToken(loginToken string) error {
	id, secret, ok := strings.Cut(loginToken, ",")
	if !ok || id == "" || secret == "" {
		return errors.New(`login token must have the form "ID,Token"`)
	}
	return nil
}

// VerifyLoginToken checks loginToken against the live API by listing
// the account's domains. A nil error means DNSPod accepted the
// credential.
func VerifyLoginToken(ctx context.Context, loginToken string) error {
	p, err := newDNSPodProvider(loginToken)
	if err != nil {
		return err
	}
	var resp domainListResponse
	if _, err := p.call(ctx, "Domain.List", url.Values{}, &resp); err != nil {
		return err
	}
	return nil
}

func newDNSPodProvider(loginToken string) (*dnspodProvider, error) {
	if err := CheckLoginToken(loginToken); err != nil {
		return nil, err
	}
	return &dnspodProvider{
		token:     loginToken,
		baseURL:   dnspodBaseURL,
		logger:    zap.NewNop(),
		domainIDs: map[string]string{},
		recordIDs: map[Target]string{},
	}, nil
}

// dnspodProvider implements Provider against the DNSPod v4.6 record
// API (form-encoded POST, JSON out).
//
// Domain and record identifiers are looked up lazily on the first
// update and memoized for the life of the provider: DNSPod ids are
// stable, so once resolved they are never fetched again. Moving a
// record to another account or zone requires a restart.
type dnspodProvider struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu        sync.Mutex
	domainIDs map[string]string // root domain -> domain id
	recordIDs map[Target]string // target -> record id
}

func (p *dnspodProvider) setLogger(logger *zap.Logger)          { p.logger = logger }
func (p *dnspodProvider) setHTTPClient(httpclient *http.Client) { p.httpClient = httpclient }

// SetAddress implements Provider. A failed update is reported as-is
// and nothing is retried here; the caller's next cycle tries again.
func (p *dnspodProvider) SetAddress(ctx context.Context, target Target, addr netip.Addr) error {
	domainID, recordID, err := p.resolveIdentifiers(ctx, target)
	if err != nil {
		return err
	}

	params := url.Values{}
	params.Set("domain_id", domainID)
	params.Set("record_id", recordID)
	params.Set("sub_domain", target.Sub)
	params.Set("record_type", recordTypeA)
	params.Set("record_line", dnspodDefaultLine)
	params.Set("value", addr.String())

	var resp recordModifyResponse
	if _, err := p.call(ctx, "Record.Modify", params, &resp); err != nil {
		return fmt.Errorf("modifying record %s: %w", target.FQDN(), err)
	}
	p.logger.Info("dnspod record updated",
		zap.String("record", target.FQDN()),
		zap.Stringer("address", addr),
		zap.String("record_id", recordID))
	return nil
}

// resolveIdentifiers returns the memoized (domainID, recordID) pair
// for target, looking up whichever half is still missing. A failed
// domain lookup short-circuits: the record listing is never attempted
// without a domain id.
func (p *dnspodProvider) resolveIdentifiers(ctx context.Context, target Target) (domainID, recordID string, err error) {
	if domainID, err = p.resolveDomainID(ctx, target.Domain); err != nil {
		return "", "", err
	}
	if recordID, err = p.resolveRecordID(ctx, target, domainID); err != nil {
		return "", "", err
	}
	return domainID, recordID, nil
}

func (p *dnspodProvider) resolveDomainID(ctx context.Context, domain string) (string, error) {
	p.mu.Lock()
	id, ok := p.domainIDs[domain]
	p.mu.Unlock()
	if ok {
		return id, nil
	}

	var resp domainListResponse
	body, err := p.call(ctx, "Domain.List", url.Values{}, &resp)
	if err != nil {
		return "", fmt.Errorf("listing domains: %w", err)
	}
	for _, d := range resp.Domains {
		if d.Name != domain {
			continue
		}
		id = string(d.ID)
		p.mu.Lock()
		p.domainIDs[domain] = id
		p.mu.Unlock()
		p.logger.Info("dnspod domain resolved",
			zap.String("domain", domain),
			zap.String("domain_id", id))
		return id, nil
	}
	p.logger.Error("domain not present in account",
		zap.String("domain", domain),
		zap.ByteString("response", body))
	return "", fmt.Errorf("%q: %w", domain, ErrDomainNotFound)
}

func (p *dnspodProvider) resolveRecordID(ctx context.Context, target Target, domainID string) (string, error) {
	p.mu.Lock()
	id, ok := p.recordIDs[target]
	p.mu.Unlock()
	if ok {
		return id, nil
	}

	params := url.Values{}
	params.Set("domain_id", domainID)
	params.Set("sub_domain", target.Sub)

	var resp recordListResponse
	body, err := p.call(ctx, "Record.List", params, &resp)
	if err != nil {
		return "", fmt.Errorf("listing records for %s: %w", target.Domain, err)
	}
	for _, r := range resp.Records {
		if r.Name != target.Sub || r.Type != recordTypeA {
			continue
		}
		id = string(r.ID)
		p.mu.Lock()
		p.recordIDs[target] = id
		p.mu.Unlock()
		p.logger.Info("dnspod record resolved",
			zap.String("record", target.FQDN()),
			zap.String("record_id", id))
		return id, nil
	}
	p.logger.Error("no matching address record",
		zap.String("record", target.FQDN()),
		zap.ByteString("response", body))
	return "", fmt.Errorf("%q: %w", target.FQDN(), ErrRecordNotFound)
}

// call posts a DNSPod action and decodes the response into out. The
// raw body is returned alongside for diagnostics; it is non-nil
// whenever the body was read, including on embedded-status failures.
func (p *dnspodProvider) call(ctx context.Context, action string, params url.Values, out responseEnvelope) ([]byte, error) {
	form := url.Values{}
	for k, v := range params {
		form[k] = v
	}
	form.Set("login_token", p.token)
	form.Set("format", "json")

	ctx, cancel := context.WithTimeout(ctx, apiCallTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/"+action, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("error creating %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	httpclient := p.httpClient
	if httpclient == nil {
		httpclient = http.DefaultClient
	}
	resp, err := httpclient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("%s returned %s", action, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", action, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return body, fmt.Errorf("decoding %s response: %w", action, err)
	}
	if status := out.status(); status.Code != dnspodStatusOK {
		p.logger.Error("dnspod api rejected the call",
			zap.String("action", action),
			zap.String("code", status.Code),
			zap.String("message", status.Message),
			zap.ByteString("response", body))
		return body, &APIError{Action: action, Code: status.Code, Message: status.Message}
	}
	return body, nil
}

// apiID holds a DNSPod object id. The API is inconsistent about the
// JSON type: Domain.List sends ids as numbers while Record.List sends
// them as strings, so both are accepted.
type apiID string

func (id *apiID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = apiID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id is neither a string nor a number: %w", err)
	}
	*id = apiID(n.String())
	return nil
}

type apiStatus struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// responseEnvelope is satisfied by every response type via the
// embedded statusResponse.
type responseEnvelope interface {
	status() apiStatus
}

type statusResponse struct {
	Status apiStatus `json:"status"`
}

func (r statusResponse) status() apiStatus { return r.Status }

type domainListResponse struct {
	statusResponse
	Domains []struct {
		ID   apiID  `json:"id"`
		Name string `json:"name"`
	} `json:"domains"`
}

type recordListResponse struct {
	statusResponse
	Records []struct {
		ID   apiID  `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"records"`
}

type recordModifyResponse struct {
	statusResponse
	Record struct {
		ID    apiID  `json:"id"`
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"record"`
}
