// Package client is a small FHIR R4 REST client for searchset queries
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/SanteonNL/fenix-sampleclient/cmd/sampleclient/config"
	"github.com/SanteonNL/fenix-sampleclient/util"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/samply/golang-fhir-models/fhir-models/fhir"
)

const fhirJSON = "application/fhir+json"

// ErrUnexpectedResource is returned when the server answers a search with
// something other than a Bundle.
var ErrUnexpectedResource = errors.New("unexpected resource type in response")

type FHIRClient struct {
	BaseURI    string
	HTTPClient *http.Client
	log        zerolog.Logger
	logBodies  bool
}

func NewFHIRClient(cfg config.Config, log zerolog.Logger) *FHIRClient {
	jar, _ := cookiejar.New(nil)

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.Logger = NewLeveledLogger(log)
	retryClient.RequestLogHook = requestLogHook(log)
	retryClient.ResponseLogHook = responseLogHook(log)
	retryClient.HTTPClient = &http.Client{
		Jar:     jar,
		Timeout: cfg.Timeout,
	}

	return &FHIRClient{
		BaseURI:    cfg.BaseURL,
		HTTPClient: retryClient.StandardClient(),
		log:        log,
		logBodies:  cfg.LogBodies,
	}
}

// SearchPatients searches Patient resources by family name
func (c *FHIRClient) SearchPatients(ctx context.Context, family string) (*fhir.Bundle, error) {
	return c.Search(ctx, "Patient", url.Values{"family": {family}})
}

// Search returns the first page of a search on resourceType
func (c *FHIRClient) Search(ctx context.Context, resourceType string, query url.Values) (*fhir.Bundle, error) {
	uri, err := c.searchURL(resourceType, query)
	if err != nil {
		return nil, err
	}
	return c.getBundle(ctx, uri)
}

func (c *FHIRClient) searchURL(resourceType string, query url.Values) (string, error) {
	uri, err := url.JoinPath(c.BaseURI, resourceType)
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}
	return uri, nil
}

// Next fetches the page the bundle's next link points to. It returns nil
// without error when the bundle is the last page.
func (c *FHIRClient) Next(ctx context.Context, bundle *fhir.Bundle) (*fhir.Bundle, error) {
	next, ok := linkURL(bundle, "next")
	if !ok {
		return nil, nil
	}

	uri, err := c.resolve(next)
	if err != nil {
		return nil, err
	}
	return c.getBundle(ctx, uri)
}

// SearchAll runs a search and follows next links until maxPages pages have
// been read, or all of them when maxPages is 0. The entries of every page are
// collected into the first bundle, which keeps the links of the last page read.
func (c *FHIRClient) SearchAll(ctx context.Context, resourceType string, query url.Values, maxPages int) (*fhir.Bundle, error) {
	uri, err := c.searchURL(resourceType, query)
	if err != nil {
		return nil, err
	}
	first, err := c.getBundle(ctx, uri)
	if err != nil {
		return nil, err
	}

	// pages are keyed by resolved URL so a next link back to the first page
	// or to its self link is recognised too
	seen := map[string]bool{uri: true}
	if self, ok := linkURL(first, "self"); ok {
		if u, err := c.resolve(self); err == nil {
			seen[u] = true
		}
	}

	page := first
	for pages := 1; maxPages == 0 || pages < maxPages; pages++ {
		if next, ok := linkURL(page, "next"); ok {
			u, err := c.resolve(next)
			if err != nil {
				return nil, fmt.Errorf("failed to read page %d: %w", pages+1, err)
			}
			if seen[u] {
				c.log.Warn().Str("url", u).Msg("Next link points to a page already read, stopping")
				break
			}
			seen[u] = true
		}
		page, err = c.Next(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d: %w", pages+1, err)
		}
		if page == nil {
			break
		}
		first.Entry = append(first.Entry, page.Entry...)
		first.Link = page.Link
		c.log.Debug().
			Int("page", pages+1).
			Int("entries", len(page.Entry)).
			Msg("Read search page")
	}

	if first.Total == nil {
		first.Total = util.IntPtr(len(first.Entry))
	}
	return first, nil
}

func (c *FHIRClient) resolve(ref string) (string, error) {
	base, err := url.Parse(c.BaseURI)
	if err != nil {
		return "", err
	}
	// relative links are relative to the service base, not its parent
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	u, err := base.Parse(ref)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (c *FHIRClient) getBundle(ctx context.Context, uri string) (*fhir.Bundle, error) {
	req, err := c.prepareRequest(ctx, http.MethodGet, uri)
	if err != nil {
		return nil, err
	}

	body, err := c.sendRequest(req)
	if err != nil {
		return nil, err
	}

	var header struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(body, &header); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if header.ResourceType != "Bundle" {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedResource, header.ResourceType)
	}

	bundle, err := fhir.UnmarshalBundle(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bundle: %w", err)
	}
	return &bundle, nil
}

func (c *FHIRClient) prepareRequest(ctx context.Context, method, uri string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", fhirJSON)
	return req, nil
}

// sendRequest sends an HTTP request and returns the body of a successful response
func (c *FHIRClient) sendRequest(req *http.Request) ([]byte, error) {
	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.log.Debug().
		Str("url", req.URL.String()).
		Int("status", resp.StatusCode).
		Int("bytes", len(bodyBytes)).
		Dur("elapsed", time.Since(start)).
		Msg("Received response")
	if c.logBodies {
		c.log.Debug().Msgf("Raw Response Body:\n%s", string(bodyBytes))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server returned error status %d: %s\nBody: %s",
			resp.StatusCode, resp.Status, string(bodyBytes))
	}
	if len(bodyBytes) == 0 {
		return nil, fmt.Errorf("received empty response from server for URL: %s", req.URL.String())
	}
	return bodyBytes, nil
}

func linkURL(bundle *fhir.Bundle, relation string) (string, bool) {
	if bundle == nil {
		return "", false
	}
	for _, link := range bundle.Link {
		if link.Relation == relation && link.Url != "" {
			return link.Url, true
		}
	}
	return "", false
}
