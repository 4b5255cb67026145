package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// Config contains scraper configuration
type Config struct {
	// Timeout bounds the whole fetch, including reading the body
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	// AllowPrivateNetworks permits fetching loopback, link-local and
	// private addresses. Off by default so users cannot read internal pages.
	AllowPrivateNetworks bool
}

// DefaultConfig returns default scraper configuration
func DefaultConfig() Config {
	return Config{
		Timeout:      8 * time.Second,
		UserAgent:    "Mozilla/5.0 (compatible; Linkstash/1.0; +https://github.com/mikepea/linkstash)",
		MaxBodyBytes: 2 << 20,
	}
}

// Metadata holds the preview fields extracted from a page.
// A field that could not be found is left empty and omitted from JSON.
type Metadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	SiteName    string `json:"siteName,omitempty"`
	Favicon     string `json:"favicon,omitempty"`
}

// IsEmpty reports whether no field was extracted
func (m Metadata) IsEmpty() bool {
	return m == Metadata{}
}

// Scraper fetches pages and extracts preview metadata on a best-effort basis
type Scraper struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a new Scraper. Zero config fields fall back to DefaultConfig.
func New(config Config, logger *zap.Logger) *Scraper {
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scraper{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: newTransport(config),
		},
		logger: logger.Named("scraper"),
	}
}

var (
	errUnsupportedScheme = errors.New("URL must be http or https")
	errNotHTML           = errors.New("response is not HTML")
	errForbiddenAddress  = errors.New("address is not publicly routable")
)

// sharedAddressSpace is the carrier-grade NAT range, which netip does not
// count as private.
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// newTransport checks every dialed address, so redirects and DNS answers
// pointing inward are refused as well as literal IPs.
func newTransport(config Config) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   config.Timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !config.AllowPrivateNetworks {
		dialer.Control = dialPublicOnly
		// a proxy would be dialed in place of the page's host
		transport.Proxy = nil
	}
	transport.DialContext = dialer.DialContext
	return transport
}

func dialPublicOnly(network, address string, _ syscall.RawConn) error {
	addrPort, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", errForbiddenAddress, address)
	}
	if !isPublicAddr(addrPort.Addr()) {
		return fmt.Errorf("%w: %s", errForbiddenAddress, addrPort.Addr())
	}
	return nil
}

func isPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsGlobalUnicast() && !addr.IsPrivate() && !sharedAddressSpace.Contains(addr)
}

// Scrape fetches targetURL once and extracts its metadata.
// It never fails: any error yields an empty Metadata and is only logged.
func (s *Scraper) Scrape(ctx context.Context, targetURL string) Metadata {
	start := time.Now()
	meta, err := s.scrape(ctx, targetURL)
	if err != nil {
		s.logger.Warn("metadata scrape failed",
			zap.String("url", targetURL),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return Metadata{}
	}
	s.logger.Debug("metadata scraped",
		zap.String("url", targetURL),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("empty", meta.IsEmpty()),
	)
	return meta
}

func (s *Scraper) scrape(ctx context.Context, targetURL string) (meta Metadata, err error) {
	// Scrape must not panic on hostile markup
	defer func() {
		if r := recover(); r != nil {
			meta, err = Metadata{}, fmt.Errorf("extract metadata: panic: %v", r)
		}
	}()

	parsedURL, err := url.Parse(targetURL)
	if err != nil {
		return Metadata{}, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return Metadata{}, errUnsupportedScheme
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Metadata{}, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !isHTML(contentType) {
		return Metadata{}, fmt.Errorf("%w: %q", errNotHTML, contentType)
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, s.config.MaxBodyBytes), contentType)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to decode body: %w", err)
	}

	doc, err := html.Parse(body)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to parse HTML: %w", err)
	}

	// Relative links resolve against where we ended up after redirects
	base := resp.Request.URL
	return extract(doc, base), nil
}

func isHTML(contentType string) bool {
	if contentType == "" {
		// Servers that omit the header are usually serving HTML
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
