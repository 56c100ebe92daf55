package identity

import (
	"crypto/ed25519"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// DateWindow is the maximum permitted skew between the Date header and the
// server's clock, in either direction (spec §4.2, §5 replay protection).
const DateWindow = 300 * time.Second

// signedHeaders is the fixed header set named in every signature, in order.
const signedHeaders = "(request-target) host date"

// requestTarget builds the "(request-target)" pseudo-header value.
func requestTarget(method, pathAndQuery string) string {
	return strings.ToLower(method) + " " + pathAndQuery
}

// SigningString builds the signing string for an outbound or inbound
// request: the named headers, one per line, in the exact order declared by
// signedHeaders.
func SigningString(method, pathAndQuery, host, dateHeader string) string {
	lines := []string{
		requestTarget(method, pathAndQuery),
		"host: " + host,
		"date: " + dateHeader,
	}
	return strings.Join(lines, "\n")
}

// Sign produces the Date and Signature header values for an outbound
// request authenticated as keyID using priv.
func Sign(priv ed25519.PrivateKey, keyID, method, pathAndQuery, host string, now time.Time) (dateHeader, signatureHeader string) {
	dateHeader = now.UTC().Format(http.TimeFormat)
	signingStr := SigningString(method, pathAndQuery, host, dateHeader)
	sig := ed25519.Sign(priv, []byte(signingStr))
	signatureHeader = fmt.Sprintf(
		`keyId="%s",algorithm="ed25519",headers="%s",signature="%s"`,
		keyID, signedHeaders, EncodeSignature(sig),
	)
	return dateHeader, signatureHeader
}

var sigParamPattern = regexp.MustCompile(`(\w+)="([^"]*)"`)

// parsedSignature is the decoded content of a Signature header.
type parsedSignature struct {
	KeyID     string
	Algorithm string
	Headers   string
	Signature string
}

func parseSignatureHeader(header string) (*parsedSignature, error) {
	if header == "" {
		return nil, fmt.Errorf("identity: missing Signature header")
	}
	params := map[string]string{}
	for _, m := range sigParamPattern.FindAllStringSubmatch(header, -1) {
		params[m[1]] = m[2]
	}
	ps := &parsedSignature{
		KeyID:     params["keyId"],
		Algorithm: params["algorithm"],
		Headers:   params["headers"],
		Signature: params["signature"],
	}
	if ps.KeyID == "" || ps.Signature == "" {
		return nil, fmt.Errorf("identity: Signature header missing keyId or signature")
	}
	if ps.Algorithm != "" && ps.Algorithm != "ed25519" {
		return nil, fmt.Errorf("identity: unsupported signature algorithm %q", ps.Algorithm)
	}
	if ps.Headers != "" && ps.Headers != signedHeaders {
		return nil, fmt.Errorf("identity: unsupported signed header set %q", ps.Headers)
	}
	return ps, nil
}

// VerifyResult is the outcome of verifying a request signature.
type VerifyResult struct {
	KeyID string
}

// VerifyRequest checks the Date and Signature headers of r against pub,
// enforcing the replay window. It does not resolve keyId to a key; callers
// supply the public key they expect this request to be signed by.
func VerifyRequest(r *http.Request, pub ed25519.PublicKey, now time.Time) (*VerifyResult, error) {
	dateHeader := r.Header.Get("Date")
	if dateHeader == "" {
		return nil, fmt.Errorf("identity: missing Date header")
	}
	reqDate, err := http.ParseTime(dateHeader)
	if err != nil {
		return nil, fmt.Errorf("identity: malformed Date header: %w", err)
	}
	if d := now.Sub(reqDate); d > DateWindow || d < -DateWindow {
		return nil, fmt.Errorf("identity: Date %s is outside the %s window", dateHeader, DateWindow)
	}

	ps, err := parseSignatureHeader(r.Header.Get("Signature"))
	if err != nil {
		return nil, err
	}

	sig, err := DecodeSignature(ps.Signature)
	if err != nil {
		return nil, err
	}

	pathAndQuery := r.URL.Path
	if r.URL.RawQuery != "" {
		pathAndQuery += "?" + r.URL.RawQuery
	}
	host := r.Host
	signingStr := SigningString(r.Method, pathAndQuery, host, dateHeader)
	if !ed25519.Verify(pub, []byte(signingStr), sig) {
		return nil, fmt.Errorf("identity: signature verification failed")
	}
	return &VerifyResult{KeyID: ps.KeyID}, nil
}

// KeyIDFromRequest extracts the keyId parameter from a request's Signature
// header without verifying anything, used by RequireAuth to know which
// agent's public key to look up before verification.
func KeyIDFromRequest(r *http.Request) (string, error) {
	ps, err := parseSignatureHeader(r.Header.Get("Signature"))
	if err != nil {
		return "", err
	}
	return ps.KeyID, nil
}
