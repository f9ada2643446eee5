package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/complyflow/ledgersync/models"
)

const (
	orgHeader = "Ledger-Org-Id"

	// The provider rejects pageSize above 100; requests are clamped rather
	// than bounced back to the caller.
	maxPageSize = 100
)

// AuthorizedClient is a single-connection view of the provider API: every
// request carries that connection's bearer token and remote organization
// header. Instances are short-lived, built per Execute attempt so the token
// is always the freshly validated one.
type AuthorizedClient struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	remoteOrgID string
}

// Get performs an authorized GET against the given API path and returns the
// response body. Non-2xx responses become *APIError.
func (c *AuthorizedClient) Get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := strings.TrimSuffix(c.baseURL, "/") + "/" + strings.TrimPrefix(path, "/")
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set(orgHeader, c.remoteOrgID)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       string(body),
		}
	}

	return body, nil
}

// Query carries the supported list-endpoint parameters. Zero values are
// omitted from the request, except Page and PageSize which get defaults.
type Query struct {
	Where         string
	Order         string
	Page          int
	PageSize      int
	ModifiedSince *time.Time
}

// Values renders the query as URL parameters, applying defaults and the
// page-size clamp.
func (q Query) Values() url.Values {
	page := q.Page
	if page < 1 {
		page = 1
	}

	pageSize := q.PageSize
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("pageSize", strconv.Itoa(pageSize))

	if q.Where != "" {
		params.Set("where", q.Where)
	}

	if q.Order != "" {
		params.Set("order", q.Order)
	}

	if q.ModifiedSince != nil {
		params.Set("modifiedAfter", q.ModifiedSince.UTC().Format(time.RFC3339))
	}

	return params
}

// Pagination is the provider's standard paging envelope on list responses.
type Pagination struct {
	Page      int `json:"page"`
	PageSize  int `json:"pageSize"`
	PageCount int `json:"pageCount"`
	ItemCount int `json:"itemCount"`
}

// ResourcePage is one page of a resource listing: the paging envelope plus
// the raw body for downstream consumers to decode as they see fit.
type ResourcePage struct {
	Resource   models.ResourceType
	Pagination Pagination
	Body       json.RawMessage
}

// HasMore reports whether pages remain after this one.
func (p *ResourcePage) HasMore() bool {
	return p.Pagination.Page < p.Pagination.PageCount
}

// FetchResource retrieves one page of the given resource collection.
func (c *AuthorizedClient) FetchResource(ctx context.Context, resource models.ResourceType, q Query) (*ResourcePage, error) {
	if !resource.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidResourceType, resource)
	}

	body, err := c.Get(ctx, string(resource), q.Values())
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Pagination Pagination `json:"pagination"`
	}

	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", resource, err)
	}

	return &ResourcePage{
		Resource:   resource,
		Pagination: envelope.Pagination,
		Body:       body,
	}, nil
}

func (c *AuthorizedClient) Invoices(ctx context.Context, q Query) (*ResourcePage, error) {
	return c.FetchResource(ctx, models.ResourceInvoices, q)
}

func (c *AuthorizedClient) Contacts(ctx context.Context, q Query) (*ResourcePage, error) {
	return c.FetchResource(ctx, models.ResourceContacts, q)
}

func (c *AuthorizedClient) BankTransactions(ctx context.Context, q Query) (*ResourcePage, error) {
	return c.FetchResource(ctx, models.ResourceBankTransactions, q)
}

func (c *AuthorizedClient) Accounts(ctx context.Context, q Query) (*ResourcePage, error) {
	return c.FetchResource(ctx, models.ResourceAccounts, q)
}

func (c *AuthorizedClient) Items(ctx context.Context, q Query) (*ResourcePage, error) {
	return c.FetchResource(ctx, models.ResourceItems, q)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds < 0 {
		return 0
	}

	return time.Duration(seconds) * time.Second
}
