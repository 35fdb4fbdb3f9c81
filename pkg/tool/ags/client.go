// pkg/tool/ags/client.go
package ags

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mind-engage/lti-tool/pkg/tool/launch"
	"github.com/mind-engage/lti-tool/pkg/tool/token"
)

/*
AGS client.

Talks to the line-item service a platform advertised on the launch's
endpoint claim, with bearer tokens from a bound token source. Non-2xx
responses are surfaced as-is; nothing is retried here because the
protocol leaves partial-failure semantics to the platform.
*/

// LTI media types the line-item service speaks.
const (
	mediaLineItem          = "application/vnd.ims.lis.v2.lineitem+json"
	mediaLineItemContainer = "application/vnd.ims.lis.v2.lineitemcontainer+json"
	mediaResultContainer   = "application/vnd.ims.lis.v2.resultcontainer+json"
	mediaScore             = "application/vnd.ims.lis.v1.score+json"
)

// ErrRequest signals an upstream HTTP failure on an AGS call.
var ErrRequest = errors.New("ags: request failed")

// ErrScopeNotGranted signals an operation needing a scope the platform
// did not advertise on the launch.
var ErrScopeNotGranted = errors.New("ags: scope not granted by platform")

// Client performs line-item and score calls for one launch context.
type Client struct {
	Tokens   token.Source
	Endpoint launch.AGSEndpoint
	HTTP     *http.Client
}

// NewClient binds a token source to the endpoint claim of a validated
// launch.
func NewClient(tokens token.Source, endpoint launch.AGSEndpoint) *Client {
	return &Client{
		Tokens:   tokens,
		Endpoint: endpoint,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// ListOptions narrows a line-item listing.
type ListOptions struct {
	ResourceLinkID string
	ResourceID     string
	Tag            string
	Limit          int
}

// List fetches the context's line items.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]LineItem, error) {
	u, err := url.Parse(c.Endpoint.LineItems)
	if err != nil {
		return nil, fmt.Errorf("%w: lineitems url: %v", ErrRequest, err)
	}
	q := u.Query()
	if opts.ResourceLinkID != "" {
		q.Set("resource_link_id", opts.ResourceLinkID)
	}
	if opts.ResourceID != "" {
		q.Set("resource_id", opts.ResourceID)
	}
	if opts.Tag != "" {
		q.Set("tag", opts.Tag)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	u.RawQuery = q.Encode()

	var items []LineItem
	if err := c.do(ctx, http.MethodGet, u.String(), readScope(c.Endpoint.Scope), "", mediaLineItemContainer, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Get reloads one line item from its platform-assigned URL.
func (c *Client) Get(ctx context.Context, lineItemURL string) (LineItem, error) {
	var li LineItem
	err := c.do(ctx, http.MethodGet, lineItemURL, readScope(c.Endpoint.Scope), "", mediaLineItem, nil, &li)
	return li, err
}

// Create adds a grading column and returns the platform's copy, which
// carries the assigned id.
func (c *Client) Create(ctx context.Context, li LineItem) (LineItem, error) {
	var created LineItem
	err := c.do(ctx, http.MethodPost, c.Endpoint.LineItems, ScopeLineItem, mediaLineItem, mediaLineItem, li, &created)
	return created, err
}

// Update replaces a line item in place.
func (c *Client) Update(ctx context.Context, li LineItem) (LineItem, error) {
	if li.ID == "" {
		return LineItem{}, fmt.Errorf("%w: line item has no id", ErrRequest)
	}
	var updated LineItem
	err := c.do(ctx, http.MethodPut, li.ID, ScopeLineItem, mediaLineItem, mediaLineItem, li, &updated)
	return updated, err
}

// Delete removes a grading column.
func (c *Client) Delete(ctx context.Context, lineItemURL string) error {
	return c.do(ctx, http.MethodDelete, lineItemURL, ScopeLineItem, "", "", nil, nil)
}

// Results fetches the recorded outcomes of a line item.
func (c *Client) Results(ctx context.Context, lineItemURL string) ([]Result, error) {
	u, err := appendPath(lineItemURL, "/results")
	if err != nil {
		return nil, err
	}
	var results []Result
	if err := c.do(ctx, http.MethodGet, u, ScopeResultReadOnly, "", mediaResultContainer, nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// SetScore posts one submission event to a line item.
func (c *Client) SetScore(ctx context.Context, lineItemURL string, score Score) error {
	u, err := appendPath(lineItemURL, "/scores")
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, u, ScopeScore, mediaScore, "", score, nil)
}

// ------------------------------ plumbing -------------------------------------

func (c *Client) do(ctx context.Context, method, rawURL, needScope, contentType, accept string, in, out any) error {
	if !scopeGranted(c.Endpoint.Scope, needScope) {
		return fmt.Errorf("%w: %s", ErrScopeNotGranted, needScope)
	}
	// Tokens are requested for the full advertised set so every call
	// on this launch shares one cache slot.
	bearer, err := c.Tokens.Token(ctx, c.Endpoint.Scope)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: encode body: %v", ErrRequest, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequest, err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequest, err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: %s %s returned %s: %s", ErrRequest, method, rawURL, resp.Status, strings.TrimSpace(string(payload)))
	}
	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrRequest, err)
		}
	}
	return nil
}

// appendPath adds a suffix to the URL path, leaving any query string
// where it was. Platforms hang pagination and filtering off line-item
// URLs; a naive string concat would bury the suffix behind them.
func appendPath(rawURL, suffix string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: line item url: %v", ErrRequest, err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + suffix
	return u.String(), nil
}

// readScope prefers the read-only line-item scope when the platform
// advertised it.
func readScope(advertised []string) string {
	for _, s := range advertised {
		if s == ScopeLineItemReadOnly {
			return ScopeLineItemReadOnly
		}
	}
	return ScopeLineItem
}

func scopeGranted(advertised []string, need string) bool {
	for _, s := range advertised {
		if s == need {
			return true
		}
	}
	// Full line-item access subsumes the read-only scope.
	if need == ScopeLineItemReadOnly {
		return scopeGranted(advertised, ScopeLineItem)
	}
	return false
}
