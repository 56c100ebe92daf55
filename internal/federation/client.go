package federation

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/semanticweft/node/internal/identity"
)

// outboundTimeout bounds every outbound federation call: sync pull, peer
// verification, and remote fanout all use it (spec §5 cancellation rule).
const outboundTimeout = 15 * time.Second

// SignedClient issues outbound HTTP requests signed with this node's own
// Ed25519 key, for NodeAuth on the remote side.
type SignedClient struct {
	DID        string
	PrivateKey ed25519.PrivateKey
	HTTP       *http.Client
}

// NewSignedClient returns a SignedClient with the standard outbound timeout.
func NewSignedClient(did string, priv ed25519.PrivateKey) *SignedClient {
	return &SignedClient{
		DID:        did,
		PrivateKey: priv,
		HTTP:       &http.Client{Timeout: outboundTimeout},
	}
}

func (c *SignedClient) sign(req *http.Request) {
	pathAndQuery := req.URL.Path
	if req.URL.RawQuery != "" {
		pathAndQuery += "?" + req.URL.RawQuery
	}
	date, sigHeader := identity.Sign(c.PrivateKey, c.DID, req.Method, pathAndQuery, req.URL.Host, time.Now())
	req.Header.Set("Date", date)
	req.Header.Set("Signature", sigHeader)
	req.Header.Set("Host", req.URL.Host)
}

// Get issues a signed GET.
func (c *SignedClient) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("federation: build request: %w", err)
	}
	c.sign(req)
	return c.HTTP.Do(req)
}

// PostJSON issues a signed POST with a JSON body.
func (c *SignedClient) PostJSON(ctx context.Context, rawURL string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("federation: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.sign(req)
	return c.HTTP.Do(req)
}

// readAndClose reads and closes a response body, bounding it to 4MiB, the
// node-to-node payload ceiling.
func readAndClose(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

// joinURL appends pathAndQuery to base, tolerating a trailing slash on base.
func joinURL(base, pathAndQuery string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("federation: invalid base url %q: %w", base, err)
	}
	rel, err := url.Parse(pathAndQuery)
	if err != nil {
		return "", fmt.Errorf("federation: invalid path %q: %w", pathAndQuery, err)
	}
	return u.ResolveReference(rel).String(), nil
}
