package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SanteonNL/fenix-sampleclient/cmd/sampleclient/config"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer serves three pages of Patient search results under /fhir
type fakeServer struct {
	*httptest.Server
	requests atomic.Int32
	lastURL  atomic.Value
	accept   atomic.Value
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}

	r := mux.NewRouter()
	r.HandleFunc("/fhir/{resourceType}", fs.handleSearch).Methods(http.MethodGet)
	fs.Server = httptest.NewServer(r)
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	fs.requests.Add(1)
	fs.lastURL.Store(r.URL.String())
	fs.accept.Store(r.Header.Get("Accept"))

	if mux.Vars(r)["resourceType"] != "Patient" {
		http.Error(w, `{"resourceType":"OperationOutcome"}`, http.StatusNotFound)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page == 0 {
		page = 1
	}

	var next string
	switch page {
	case 1:
		// absolute link, as most servers return
		next = fmt.Sprintf(`,{"relation":"next","url":"%s/fhir/Patient?family=SMITH&page=2"}`, fs.URL)
	case 2:
		// relative to the service base
		next = `,{"relation":"next","url":"Patient?family=SMITH&page=3"}`
	}

	w.Header().Set("Content-Type", fhirJSON)
	fmt.Fprintf(w, `{
		"resourceType": "Bundle",
		"type": "searchset",
		"total": 3,
		"link": [{"relation":"self","url":"%s%s"}%s],
		"entry": [{"resource": {"resourceType":"Patient","id":"p%d","name":[{"given":["Given%d"],"family":"Smith"}]}}]
	}`, fs.URL, r.URL.String(), next, page, page)
}

func testConfig(baseURL string) config.Config {
	cfg := config.Default()
	cfg.BaseURL = baseURL
	cfg.RetryMax = 0
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = 5 * time.Millisecond
	cfg.Timeout = 5 * time.Second
	return cfg
}

func TestSearchPatients(t *testing.T) {
	srv := newFakeServer(t)
	c := NewFHIRClient(testConfig(srv.URL+"/fhir"), zerolog.Nop())

	bundle, err := c.SearchPatients(context.Background(), "SMITH")
	require.NoError(t, err)

	assert.Equal(t, "/fhir/Patient?family=SMITH", srv.lastURL.Load())
	assert.Equal(t, fhirJSON, srv.accept.Load())
	require.Len(t, bundle.Entry, 1)
	require.NotNil(t, bundle.Total)
	assert.Equal(t, 3, *bundle.Total)
	assert.Contains(t, string(bundle.Entry[0].Resource), `"id":"p1"`)
}

func TestSearchAll(t *testing.T) {
	tests := []struct {
		name         string
		maxPages     int
		wantEntries  int
		wantRequests int32
	}{
		{"first page only", 1, 1, 1},
		{"two pages", 2, 2, 2},
		{"all pages", 0, 3, 3},
		{"limit above page count", 10, 3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFakeServer(t)
			c := NewFHIRClient(testConfig(srv.URL+"/fhir"), zerolog.Nop())

			bundle, err := c.SearchAll(context.Background(), "Patient", map[string][]string{"family": {"SMITH"}}, tt.maxPages)
			require.NoError(t, err)
			assert.Len(t, bundle.Entry, tt.wantEntries)
			assert.Equal(t, tt.wantRequests, srv.requests.Load())

			for i, entry := range bundle.Entry {
				assert.Contains(t, string(entry.Resource), fmt.Sprintf(`"id":"p%d"`, i+1))
			}
		})
	}
}

func TestSearchAll_StopsOnRepeatedNextLink(t *testing.T) {
	var requests atomic.Int32
	r := mux.NewRouter()
	r.HandleFunc("/fhir/Patient", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, `{"resourceType":"Bundle","type":"searchset",
			"link":[{"relation":"next","url":"Patient?page=again"}],
			"entry":[{"resource":{"resourceType":"Patient","id":"loop"}}]}`)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := NewFHIRClient(testConfig(srv.URL+"/fhir"), zerolog.Nop())
	bundle, err := c.SearchAll(context.Background(), "Patient", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())
	assert.Len(t, bundle.Entry, 2)
}

func TestSearchAll_NextLinkBackToFirstPage(t *testing.T) {
	tests := []struct {
		name string
		self string
		next string
	}{
		{"next is the request url", "", "Patient?family=SMITH"},
		{"next is the absolute request url", "", "{base}/Patient?family=SMITH"},
		{"next is the self link", `{"relation":"self","url":"{base}/Patient?family=SMITH&_count=10"},`, "Patient?family=SMITH&_count=10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests atomic.Int32
			var base string
			r := mux.NewRouter()
			r.HandleFunc("/fhir/Patient", func(w http.ResponseWriter, r *http.Request) {
				requests.Add(1)
				links := strings.ReplaceAll(tt.self+`{"relation":"next","url":"`+tt.next+`"}`, "{base}", base)
				fmt.Fprintf(w, `{"resourceType":"Bundle","type":"searchset",
					"link":[%s],
					"entry":[{"resource":{"resourceType":"Patient","id":"p1"}}]}`, links)
			})
			srv := httptest.NewServer(r)
			defer srv.Close()
			base = srv.URL + "/fhir"

			c := NewFHIRClient(testConfig(base), zerolog.Nop())
			bundle, err := c.SearchAll(context.Background(), "Patient", map[string][]string{"family": {"SMITH"}}, 0)
			require.NoError(t, err)
			assert.Equal(t, int32(1), requests.Load())
			assert.Len(t, bundle.Entry, 1)
		})
	}
}

func TestNext_LastPage(t *testing.T) {
	c := NewFHIRClient(testConfig("http://localhost/fhir"), zerolog.Nop())
	page, err := c.Next(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, page)
}

func TestSearch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"not found", http.StatusNotFound, `{"resourceType":"OperationOutcome"}`, "404"},
		{"not a bundle", http.StatusOK, `{"resourceType":"OperationOutcome","issue":[]}`, "unexpected resource type"},
		{"malformed json", http.StatusOK, `{"resourceType":"Bundle",`, "failed to parse response JSON"},
		{"empty body", http.StatusOK, ``, "empty response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			c := NewFHIRClient(testConfig(srv.URL), zerolog.Nop())
			_, err := c.SearchPatients(context.Background(), "SMITH")
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSearch_UnexpectedResourceIsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"resourceType":"Patient","id":"1"}`)
	}))
	defer srv.Close()

	c := NewFHIRClient(testConfig(srv.URL), zerolog.Nop())
	_, err := c.SearchPatients(context.Background(), "SMITH")
	assert.ErrorIs(t, err, ErrUnexpectedResource)
}

func TestSearch_RetriesServerErrors(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"resourceType":"Bundle","type":"searchset","entry":[]}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RetryMax = 3
	c := NewFHIRClient(cfg, zerolog.Nop())

	bundle, err := c.SearchPatients(context.Background(), "SMITH")
	require.NoError(t, err)
	assert.Empty(t, bundle.Entry)
	assert.Equal(t, int32(3), requests.Load())
}

func TestSearch_GivesUpAfterRetryMax(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RetryMax = 1
	c := NewFHIRClient(cfg, zerolog.Nop())

	_, err := c.SearchPatients(context.Background(), "SMITH")
	assert.Error(t, err)
	assert.Equal(t, int32(2), requests.Load())
}

func TestSearch_CancelledContext(t *testing.T) {
	srv := newFakeServer(t)
	c := NewFHIRClient(testConfig(srv.URL+"/fhir"), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.SearchPatients(ctx, "SMITH")
	assert.ErrorContains(t, err, "context canceled")
}

func TestRequestLogging(t *testing.T) {
	srv := newFakeServer(t)

	var buf bytes.Buffer
	cfg := testConfig(srv.URL + "/fhir")
	cfg.LogBodies = true
	c := NewFHIRClient(cfg, zerolog.New(&buf).Level(zerolog.DebugLevel))

	_, err := c.SearchPatients(context.Background(), "SMITH")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"message":"Client request"`)
	assert.Contains(t, out, `"method":"GET"`)
	assert.Contains(t, out, `"message":"Client response"`)
	assert.Contains(t, out, `"status":"200 OK"`)
	assert.Contains(t, out, "Raw Response Body")
}

func TestLeveledLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLeveledLogger(zerolog.New(&buf))

	l.Warn("retrying request", "attempt", 2, "url", "http://example.org")
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"attempt":2`)
	assert.Contains(t, buf.String(), `"component":"retryablehttp"`)
	assert.Contains(t, buf.String(), `"message":"retrying request"`)
}
