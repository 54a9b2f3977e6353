package source

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/Boswecw/rake/internal/models"
	"github.com/Boswecw/rake/internal/observability"
)

const (
	defaultAPIMaxItems = 100
	defaultAPIMaxPages = 10
	apiRequestTimeout  = 30 * time.Second
)

var allowedAPIMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// contentFallbackFields are tried in order when no content_field is given
var contentFallbackFields = []string{"body", "text", "content", "description", "summary"}

// APIFetchAdapter ingests documents from JSON or XML HTTP APIs
type APIFetchAdapter struct {
	client *http.Client
	logger observability.Logger
}

// NewAPIFetchAdapter creates the adapter
func NewAPIFetchAdapter(logger observability.Logger) *APIFetchAdapter {
	return &APIFetchAdapter{
		client: &http.Client{Timeout: apiRequestTimeout},
		logger: logger.WithPrefix("source-api-fetch"),
	}
}

var _ Source = (*APIFetchAdapter)(nil)

// Name implements Source
func (a *APIFetchAdapter) Name() string { return KindAPIFetch }

// ValidateInput implements Source
func (a *APIFetchAdapter) ValidateInput(input map[string]interface{}) error {
	raw, _ := input["url"].(string)
	if raw == "" {
		return &ValidationError{Source: KindAPIFetch, Field: "url", Msg: "url is required"}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return &ValidationError{Source: KindAPIFetch, Field: "url", Msg: fmt.Sprintf("not a valid http(s) URL: %q", raw)}
	}
	if method, ok := input["method"].(string); ok && method != "" {
		if !allowedAPIMethods[strings.ToUpper(method)] {
			return &ValidationError{Source: KindAPIFetch, Field: "method", Msg: fmt.Sprintf("unsupported method %q", method)}
		}
	}
	if format, ok := input["format"].(string); ok && format != "" && format != "json" && format != "xml" {
		return &ValidationError{Source: KindAPIFetch, Field: "format", Msg: fmt.Sprintf("format must be json or xml, got %q", format)}
	}
	if auth, ok := input["auth"].(map[string]interface{}); ok {
		if err := validateAuth(auth); err != nil {
			return err
		}
	}
	return nil
}

func validateAuth(auth map[string]interface{}) error {
	authType, _ := auth["type"].(string)
	switch authType {
	case "", "none", "custom":
		return nil
	case "api_key":
		if key, _ := auth["key"].(string); key == "" {
			return &ValidationError{Source: KindAPIFetch, Field: "auth.key", Msg: "api_key auth requires key"}
		}
	case "bearer":
		if token, _ := auth["token"].(string); token == "" {
			return &ValidationError{Source: KindAPIFetch, Field: "auth.token", Msg: "bearer auth requires token"}
		}
	case "basic":
		if user, _ := auth["username"].(string); user == "" {
			return &ValidationError{Source: KindAPIFetch, Field: "auth.username", Msg: "basic auth requires username"}
		}
	default:
		return &ValidationError{Source: KindAPIFetch, Field: "auth.type", Msg: fmt.Sprintf("unsupported auth type %q", authType)}
	}
	return nil
}

// Fetch implements Source
func (a *APIFetchAdapter) Fetch(ctx context.Context, input map[string]interface{}) ([]*models.RawDocument, error) {
	if err := a.ValidateInput(input); err != nil {
		return nil, err
	}

	cfg := apiRequest{
		url:            input["url"].(string),
		method:         http.MethodGet,
		format:         "json",
		maxItems:       intFromInput(input, "max_items", defaultAPIMaxItems),
		maxPages:       intFromInput(input, "max_pages", defaultAPIMaxPages),
		rateLimitDelay: floatFromInput(input, "rate_limit_delay", 0),
	}
	if m, _ := input["method"].(string); m != "" {
		cfg.method = strings.ToUpper(m)
	}
	if f, _ := input["format"].(string); f != "" {
		cfg.format = f
	}
	cfg.dataPath, _ = input["data_path"].(string)
	cfg.itemTag, _ = input["item_tag"].(string)
	cfg.contentField, _ = input["content_field"].(string)
	cfg.titleField, _ = input["title_field"].(string)
	cfg.pagination, _ = input["pagination"].(string)
	cfg.nextPath, _ = input["next_path"].(string)
	cfg.auth, _ = input["auth"].(map[string]interface{})
	if body, _ := input["body"].(string); body != "" {
		cfg.body = body
	}
	if headers, ok := input["headers"].(map[string]interface{}); ok {
		cfg.headers = headers
	}
	tenantID, _ := input["tenant_id"].(string)

	var docs []*models.RawDocument
	pageURL := cfg.url
	offset := 0

	for page := 1; page <= cfg.maxPages && len(docs) < cfg.maxItems; page++ {
		requestURL := pageURL
		if cfg.pagination == "offset" && page > 1 {
			requestURL = withOffset(pageURL, offset)
		}

		body, header, err := a.do(ctx, cfg, requestURL)
		if err != nil {
			return nil, err
		}

		var items []map[string]interface{}
		var next string
		switch cfg.format {
		case "xml":
			items, err = parseXMLItems(body, cfg.itemTag)
		default:
			items, next, err = parseJSONItems(body, cfg.dataPath, cfg.nextPath)
		}
		if err != nil {
			return nil, &FetchError{Source: KindAPIFetch, Msg: "cannot parse API response", Err: err}
		}
		if len(items) == 0 {
			break
		}

		for _, item := range items {
			if len(docs) >= cfg.maxItems {
				break
			}
			docs = append(docs, itemToDocument(item, cfg, requestURL, page, tenantID))
		}
		offset += len(items)

		switch cfg.pagination {
		case "link_header":
			pageURL = nextFromLinkHeader(header.Get("Link"))
		case "json_path":
			pageURL = next
		case "offset":
			// pageURL unchanged, offset advanced above.
		default:
			pageURL = ""
		}
		if pageURL == "" && cfg.pagination != "offset" {
			break
		}

		if cfg.rateLimitDelay > 0 && page < cfg.maxPages {
			select {
			case <-time.After(time.Duration(cfg.rateLimitDelay * float64(time.Second))):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	if len(docs) == 0 {
		return nil, &FetchError{Source: KindAPIFetch, Msg: fmt.Sprintf("no items returned by %s", cfg.url)}
	}
	a.logger.Info("Fetched API items", map[string]interface{}{
		"url":   cfg.url,
		"items": len(docs),
	})
	return docs, nil
}

type apiRequest struct {
	url            string
	method         string
	format         string
	dataPath       string
	itemTag        string
	contentField   string
	titleField     string
	pagination     string
	nextPath       string
	body           string
	headers        map[string]interface{}
	auth           map[string]interface{}
	maxItems       int
	maxPages       int
	rateLimitDelay float64
}

func (a *APIFetchAdapter) do(ctx context.Context, cfg apiRequest, requestURL string) ([]byte, http.Header, error) {
	var bodyReader io.Reader
	if cfg.body != "" {
		bodyReader = bytes.NewReader([]byte(cfg.body))
	}
	req, err := http.NewRequestWithContext(ctx, cfg.method, requestURL, bodyReader)
	if err != nil {
		return nil, nil, &FetchError{Source: KindAPIFetch, Msg: "cannot build request", Err: err}
	}
	if cfg.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range cfg.headers {
		req.Header.Set(k, fmt.Sprintf("%v", v))
	}
	applyAuth(req, cfg.auth)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, nil, &FetchError{Source: KindAPIFetch, Msg: fmt.Sprintf("request to %s failed", requestURL), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &FetchError{Source: KindAPIFetch, Msg: fmt.Sprintf("unexpected status %d from %s", resp.StatusCode, requestURL)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &FetchError{Source: KindAPIFetch, Msg: "cannot read response body", Err: err}
	}
	return body, resp.Header, nil
}

func applyAuth(req *http.Request, auth map[string]interface{}) {
	authType, _ := auth["type"].(string)
	switch authType {
	case "api_key":
		key, _ := auth["key"].(string)
		name, _ := auth["name"].(string)
		if name == "" {
			name = "X-API-Key"
		}
		if in, _ := auth["in"].(string); in == "query" {
			q := req.URL.Query()
			q.Set(name, key)
			req.URL.RawQuery = q.Encode()
		} else {
			req.Header.Set(name, key)
		}
	case "bearer":
		token, _ := auth["token"].(string)
		req.Header.Set("Authorization", "Bearer "+token)
	case "basic":
		user, _ := auth["username"].(string)
		pass, _ := auth["password"].(string)
		req.SetBasicAuth(user, pass)
	case "custom":
		if headers, ok := auth["headers"].(map[string]interface{}); ok {
			for k, v := range headers {
				req.Header.Set(k, fmt.Sprintf("%v", v))
			}
		}
	}
}

// parseJSONItems resolves dataPath into the decoded body and returns the
// items plus the next-page URL at nextPath, when present.
func parseJSONItems(body []byte, dataPath, nextPath string) ([]map[string]interface{}, string, error) {
	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, "", err
	}

	data := resolvePath(decoded, dataPath)
	var items []map[string]interface{}
	switch v := data.(type) {
	case []interface{}:
		for _, el := range v {
			if m, ok := el.(map[string]interface{}); ok {
				items = append(items, m)
			}
		}
	case map[string]interface{}:
		items = append(items, v)
	case nil:
	default:
		return nil, "", fmt.Errorf("data path %q resolves to %T, expected array or object", dataPath, data)
	}

	next := ""
	if nextPath != "" {
		if s, ok := resolvePath(decoded, nextPath).(string); ok {
			next = s
		}
	}
	return items, next, nil
}

// resolvePath walks a dot-separated path through nested JSON objects
func resolvePath(v interface{}, path string) interface{} {
	if path == "" {
		return v
	}
	for _, part := range strings.Split(path, ".") {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil
		}
		v = m[part]
	}
	return v
}

// parseXMLItems extracts elements named itemTag, mapping each item's child
// elements to their text content.
func parseXMLItems(body []byte, itemTag string) ([]map[string]interface{}, error) {
	if itemTag == "" {
		itemTag = "item"
	}
	decoder := xml.NewDecoder(bytes.NewReader(body))
	var items []map[string]interface{}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != itemTag {
			continue
		}
		item, err := decodeXMLItem(decoder, start)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func decodeXMLItem(decoder *xml.Decoder, start xml.StartElement) (map[string]interface{}, error) {
	item := map[string]interface{}{}
	var field string
	var text strings.Builder

	for {
		tok, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			field = t.Name.Local
			text.Reset()
		case xml.CharData:
			if field != "" {
				text.Write(t)
			}
		case xml.EndElement:
			if t.Name == start.Name {
				return item, nil
			}
			if field != "" {
				item[field] = strings.TrimSpace(text.String())
				field = ""
			}
		}
	}
}

// itemToDocument builds a RawDocument from one API item
func itemToDocument(item map[string]interface{}, cfg apiRequest, requestURL string, page int, tenantID string) *models.RawDocument {
	content := ""
	if cfg.contentField != "" {
		if s, ok := resolvePath(item, cfg.contentField).(string); ok {
			content = s
		}
	}
	if content == "" {
		for _, field := range contentFallbackFields {
			if s, ok := item[field].(string); ok && s != "" {
				content = s
				break
			}
		}
	}
	if content == "" {
		if raw, err := json.Marshal(item); err == nil {
			content = string(raw)
		}
	}

	metadata := map[string]interface{}{
		"source_url":   requestURL,
		"fetched_at":   time.Now().UTC().Format(time.RFC3339),
		"api_response": true,
		"page":         page,
	}
	if cfg.titleField != "" {
		if title, ok := resolvePath(item, cfg.titleField).(string); ok && title != "" {
			metadata["title"] = title
		}
	}

	return &models.RawDocument{
		ID:        models.NewAPIDocumentID(),
		Source:    KindAPIFetch,
		URL:       requestURL,
		Content:   content,
		Metadata:  metadata,
		FetchedAt: time.Now().UTC(),
		TenantID:  tenantID,
	}
}

var linkNextPattern = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="next"`)

// nextFromLinkHeader extracts the rel="next" target of an RFC 5988 Link header
func nextFromLinkHeader(header string) string {
	if header == "" {
		return ""
	}
	for _, part := range strings.Split(header, ",") {
		if m := linkNextPattern.FindStringSubmatch(part); m != nil {
			return m[1]
		}
	}
	return ""
}

func withOffset(rawURL string, offset int) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("offset", fmt.Sprintf("%d", offset))
	u.RawQuery = q.Encode()
	return u.String()
}

// HealthCheck implements Source. There is no fixed upstream to probe.
func (a *APIFetchAdapter) HealthCheck(ctx context.Context) error { return nil }

// Close implements Source
func (a *APIFetchAdapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

func floatFromInput(input map[string]interface{}, key string, def float64) float64 {
	switch v := input[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}
