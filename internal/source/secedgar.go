package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/Boswecw/rake/internal/models"
	"github.com/Boswecw/rake/internal/observability"
)

const (
	defaultEdgarBaseURL    = "https://www.sec.gov"
	defaultEdgarInterval   = 100 * time.Millisecond
	defaultMaxFilingSize   = 10 * 1024 * 1024
	edgarRequestTimeout    = 30 * time.Second
	defaultEdgarFilingKind = "10-K"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	urlPattern   = regexp.MustCompile(`https?://[^\s]+`)
)

// SECEdgarAdapter fetches company filings from the SEC EDGAR full-text system
type SECEdgarAdapter struct {
	userAgent     string
	baseURL       string
	maxFilingSize int64
	limiter       *rate.Limiter
	client        *http.Client
	logger        observability.Logger
}

// SECEdgarConfig configures the EDGAR adapter
type SECEdgarConfig struct {
	// UserAgent must identify the operator with an email address or URL,
	// per SEC fair-access rules.
	UserAgent string

	// MinInterval is the minimum spacing between requests
	MinInterval time.Duration

	// BaseURL overrides the EDGAR endpoint (tests)
	BaseURL string

	// MaxFilingSize caps the size of a fetched filing in bytes
	MaxFilingSize int64
}

// NewSECEdgarAdapter creates the adapter. The user agent is validated here
// so a misconfigured service fails at startup, not mid-job.
func NewSECEdgarAdapter(cfg SECEdgarConfig, logger observability.Logger) (*SECEdgarAdapter, error) {
	if !emailPattern.MatchString(cfg.UserAgent) && !urlPattern.MatchString(cfg.UserAgent) {
		return nil, fmt.Errorf("sec_edgar user agent must include an email address or URL, got %q", cfg.UserAgent)
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaultEdgarInterval
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultEdgarBaseURL
	}
	if cfg.MaxFilingSize <= 0 {
		cfg.MaxFilingSize = defaultMaxFilingSize
	}
	return &SECEdgarAdapter{
		userAgent:     cfg.UserAgent,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		maxFilingSize: cfg.MaxFilingSize,
		limiter:       rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		client:        &http.Client{Timeout: edgarRequestTimeout},
		logger:        logger.WithPrefix("source-sec-edgar"),
	}, nil
}

var _ Source = (*SECEdgarAdapter)(nil)

// Name implements Source
func (a *SECEdgarAdapter) Name() string { return KindSECEdgar }

// ValidateInput implements Source. Either a ticker symbol or a CIK number
// identifies the company; the ticker is resolved only when no CIK is given.
func (a *SECEdgarAdapter) ValidateInput(input map[string]interface{}) error {
	ticker, _ := input["ticker"].(string)
	cik, _ := input["cik"].(string)
	if strings.TrimSpace(ticker) == "" && strings.TrimSpace(cik) == "" {
		return &ValidationError{Source: KindSECEdgar, Field: "ticker", Msg: "ticker or cik is required"}
	}
	return nil
}

type edgarCompanyInfo struct {
	XMLName xml.Name `xml:"companyFilings"`
	CIK     string   `xml:"companyInfo>CIK"`
}

type edgarFiling struct {
	Type            string `xml:"type"`
	FilingDate      string `xml:"filingDate"`
	AccessionNumber string `xml:"accessionNumber"`
	FileNumber      string `xml:"fileNumber"`
	FilingHref      string `xml:"filingHREF"`
	CompanyName     string `xml:"companyName"`
}

type edgarFilingList struct {
	XMLName xml.Name      `xml:"companyFilings"`
	Filings []edgarFiling `xml:"results>filing"`
}

// Fetch implements Source
func (a *SECEdgarAdapter) Fetch(ctx context.Context, input map[string]interface{}) ([]*models.RawDocument, error) {
	if err := a.ValidateInput(input); err != nil {
		return nil, err
	}
	rawTicker, _ := input["ticker"].(string)
	ticker := strings.ToUpper(strings.TrimSpace(rawTicker))
	rawCIK, _ := input["cik"].(string)
	cik := strings.TrimSpace(rawCIK)

	filingType, _ := input["filing_type"].(string)
	if filingType == "" {
		filingType = defaultEdgarFilingKind
	}
	count := intFromInput(input, "count", 1)
	tenantID, _ := input["tenant_id"].(string)

	if cik == "" {
		var err error
		cik, err = a.lookupCIK(ctx, ticker)
		if err != nil {
			return nil, err
		}
	}

	filings, err := a.listFilings(ctx, cik, filingType, count)
	if err != nil {
		return nil, err
	}
	if len(filings) == 0 {
		company := ticker
		if company == "" {
			company = "CIK " + cik
		}
		return nil, &FetchError{
			Source: KindSECEdgar,
			Msg:    fmt.Sprintf("no %s filings found for %s (CIK %s)", filingType, company, cik),
		}
	}

	docs := make([]*models.RawDocument, 0, len(filings))
	for _, filing := range filings {
		content, err := a.fetchFilingText(ctx, filing.FilingHref)
		if err != nil {
			return nil, err
		}
		docs = append(docs, &models.RawDocument{
			ID:      models.NewDocumentID(),
			Source:  KindSECEdgar,
			URL:     filing.FilingHref,
			Content: content,
			Metadata: map[string]interface{}{
				"ticker":           ticker,
				"cik":              cik,
				"company_name":     filing.CompanyName,
				"filing_type":      filing.Type,
				"filing_date":      filing.FilingDate,
				"accession_number": filing.AccessionNumber,
				"file_number":      filing.FileNumber,
			},
			FetchedAt: time.Now().UTC(),
			TenantID:  tenantID,
		})
	}

	a.logger.Info("Fetched EDGAR filings", map[string]interface{}{
		"ticker":      ticker,
		"filing_type": filingType,
		"count":       len(docs),
	})
	return docs, nil
}

// lookupCIK resolves a ticker symbol to the company's CIK number
func (a *SECEdgarAdapter) lookupCIK(ctx context.Context, ticker string) (string, error) {
	params := url.Values{}
	params.Set("action", "getcompany")
	params.Set("ticker", ticker)
	params.Set("output", "xml")

	body, err := a.get(ctx, a.baseURL+"/cgi-bin/browse-edgar?"+params.Encode())
	if err != nil {
		return "", err
	}

	var info edgarCompanyInfo
	if err := xml.Unmarshal(body, &info); err != nil || info.CIK == "" {
		return "", &FetchError{
			Source: KindSECEdgar,
			Msg:    fmt.Sprintf("no CIK found for ticker %s", ticker),
			Err:    err,
		}
	}
	return info.CIK, nil
}

// listFilings returns the most recent filings of the requested type
func (a *SECEdgarAdapter) listFilings(ctx context.Context, cik, filingType string, count int) ([]edgarFiling, error) {
	params := url.Values{}
	params.Set("action", "getcompany")
	params.Set("CIK", cik)
	params.Set("type", filingType)
	params.Set("owner", "exclude")
	params.Set("count", fmt.Sprintf("%d", count))
	params.Set("output", "xml")

	body, err := a.get(ctx, a.baseURL+"/cgi-bin/browse-edgar?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var list edgarFilingList
	if err := xml.Unmarshal(body, &list); err != nil {
		return nil, &FetchError{Source: KindSECEdgar, Msg: "cannot parse filings list", Err: err}
	}
	if len(list.Filings) > count {
		list.Filings = list.Filings[:count]
	}
	return list.Filings, nil
}

// fetchFilingText downloads a filing page and extracts its visible text
func (a *SECEdgarAdapter) fetchFilingText(ctx context.Context, href string) (string, error) {
	body, err := a.get(ctx, href)
	if err != nil {
		return "", err
	}
	if int64(len(body)) > a.maxFilingSize {
		return "", &FetchError{
			Source: KindSECEdgar,
			Msg:    fmt.Sprintf("filing size %d exceeds limit of %d bytes", len(body), a.maxFilingSize),
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", &FetchError{Source: KindSECEdgar, Msg: "cannot parse filing HTML", Err: err}
	}
	doc.Find("script, style").Remove()

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	text := strings.Join(lines, "\n")
	if text == "" {
		return "", &FetchError{Source: KindSECEdgar, Msg: fmt.Sprintf("filing at %s has no text content", href)}
	}
	return text, nil
}

// get issues a rate-limited GET with the configured user agent
func (a *SECEdgarAdapter) get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Source: KindSECEdgar, Msg: "cannot build request", Err: err}
	}
	req.Header.Set("User-Agent", a.userAgent)
	if a.baseURL == defaultEdgarBaseURL {
		req.Host = "www.sec.gov"
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: KindSECEdgar, Msg: fmt.Sprintf("request to %s failed", rawURL), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{
			Source: KindSECEdgar,
			Msg:    fmt.Sprintf("unexpected status %d from %s", resp.StatusCode, rawURL),
		}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, a.maxFilingSize+1))
	if err != nil {
		return nil, &FetchError{Source: KindSECEdgar, Msg: "cannot read response body", Err: err}
	}
	return body, nil
}

// HealthCheck implements Source
func (a *SECEdgarAdapter) HealthCheck(ctx context.Context) error {
	_, err := a.get(ctx, a.baseURL+"/cgi-bin/browse-edgar?action=getcompany&ticker=AAPL&output=xml")
	return err
}

// Close implements Source
func (a *SECEdgarAdapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

func intFromInput(input map[string]interface{}, key string, def int) int {
	switch v := input[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}
