// Package gateway talks to the media gateway over its HTTP offer/answer
// contract.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
)

const ContentTypeSDP = "application/sdp"

var ErrNoResource = errors.New("gateway answer has no Location header")

// NetworkError reports a failed gateway request: either a transport error
// (Err set) or a non-2xx response.
type NetworkError struct {
	Op         string
	URL        string
	StatusCode int
	Status     string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("gateway %s %s: %s", e.Op, e.URL, e.Status)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Params identify the caller towards the gateway.
type Params struct {
	AppID      string
	UserID     string
	Credential string
}

// Answer is a successful negotiation: the answer SDP and the teardown
// resource reference, already resolved to an absolute URL.
type Answer struct {
	SDP      string
	Resource string
}

type Client struct {
	base *url.URL
	http *http.Client
}

func New(baseURL string, hc *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gateway url %q must be absolute", baseURL)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: u, http: hc}, nil
}

func (c *Client) PushURL(stream string, p Params) string { return c.endpoint("push", stream, p) }
func (c *Client) PlayURL(stream string, p Params) string { return c.endpoint("play", stream, p) }

func (c *Client) endpoint(kind, stream string, p Params) string {
	u := *c.base
	u.Path = joinPath(u.Path, kind, stream)
	u.RawPath = joinPath(c.base.EscapedPath(), url.PathEscape(kind), url.PathEscape(stream))
	q := url.Values{}
	q.Set("appId", p.AppID)
	q.Set("userId", p.UserID)
	q.Set("credential", p.Credential)
	u.RawQuery = q.Encode()
	return u.String()
}

func joinPath(base string, parts ...string) string {
	out := base
	for _, p := range parts {
		if len(out) == 0 || out[len(out)-1] != '/' {
			out += "/"
		}
		out += p
	}
	return out
}

// Negotiate posts offer to endpoint and returns the gateway's answer.
func (c *Client) Negotiate(ctx context.Context, endpoint, offer string) (*Answer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(offer))
	if err != nil {
		return nil, &NetworkError{Op: "POST", URL: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", ContentTypeSDP)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "POST", URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &NetworkError{Op: "POST", URL: endpoint, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: "POST", URL: endpoint, StatusCode: resp.StatusCode, Err: err}
	}

	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, &NetworkError{Op: "POST", URL: endpoint, StatusCode: resp.StatusCode, Err: ErrNoResource}
	}
	ref, err := resp.Request.URL.Parse(loc)
	if err != nil {
		return nil, &NetworkError{Op: "POST", URL: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("bad Location %q: %w", loc, err)}
	}

	log.Debug().Str("module", "gateway").Str("endpoint", endpoint).Str("resource", ref.String()).Msg("negotiated")
	return &Answer{SDP: string(body), Resource: ref.String()}, nil
}

// Delete tears down the gateway session behind resource.
func (c *Client) Delete(ctx context.Context, resource string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, resource, nil)
	if err != nil {
		return &NetworkError{Op: "DELETE", URL: resource, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: "DELETE", URL: resource, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &NetworkError{Op: "DELETE", URL: resource, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	log.Debug().Str("module", "gateway").Str("resource", resource).Msg("deleted")
	return nil
}
