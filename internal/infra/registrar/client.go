// internal/infra/registrar/client.go
package registrar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/petroly-initiative/petroly-django-sub000/internal/domain/course"
)

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 16 << 20

// FetchError reports a failed call to the registrar API: transport failure,
// non-2xx status or a body that is not a JSON list of offerings.
type FetchError struct {
	Term       string
	Department string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s/%s: status %d: %v", e.Term, e.Department, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s/%s: %v", e.Term, e.Department, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client talks to the course-offering registrar API.
type Client struct {
	endpoint          string
	rootURL           string
	maintenanceMarker string
	http              *http.Client
}

func NewClient(endpoint, rootURL, maintenanceMarker string, timeout time.Duration) *Client {
	return &Client{
		endpoint:          endpoint,
		rootURL:           rootURL,
		maintenanceMarker: strings.ToLower(maintenanceMarker),
		http:              &http.Client{Timeout: timeout},
	}
}

// Fetch downloads the offerings of one department for one term. The decoded records
// and the raw JSON body are both returned; the raw body is what gets cached.
func (c *Client) Fetch(ctx context.Context, term, department string) ([]course.Offering, json.RawMessage, error) {
	fail := func(status int, err error) ([]course.Offering, json.RawMessage, error) {
		return nil, nil, &FetchError{Term: term, Department: department, StatusCode: status, Err: err}
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return fail(0, fmt.Errorf("invalid endpoint: %w", err))
	}
	q := u.Query()
	q.Set("term_code", term)
	q.Set("department_code", department)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fail(0, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fail(resp.StatusCode, fmt.Errorf("reading body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status))
	}

	var offerings []course.Offering
	if err := json.Unmarshal(body, &offerings); err != nil {
		return fail(resp.StatusCode, fmt.Errorf("malformed JSON: %w", err))
	}
	return offerings, json.RawMessage(body), nil
}

// Probe checks the API root. It reports down when the root does not answer with
// 2xx or serves the maintenance page. A transport error is returned as such.
func (c *Client) Probe(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.rootURL, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return false, fmt.Errorf("reading probe body: %w", err)
	}
	if c.maintenanceMarker != "" && strings.Contains(strings.ToLower(string(body)), c.maintenanceMarker) {
		return false, nil
	}
	return true, nil
}
