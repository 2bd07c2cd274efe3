// Package signer implements AWS Signature Version 4 request signing for
// the object storage and extraction clients. It covers both header-based
// authorization and presigned query-string URLs.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	algorithm = "AWS4-HMAC-SHA256"

	amzDateFormat = "20060102T150405Z"
	dateFormat    = "20060102"

	// EmptyPayloadHash is the SHA-256 of a zero-byte body.
	EmptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	// UnsignedPayload marks a body that the signature does not cover.
	// S3 accepts it for presigned URLs.
	UnsignedPayload = "UNSIGNED-PAYLOAD"
)

// Credentials is the static key material signing keys derive from.
type Credentials struct {
	AccessKey    string
	SecretKey    string
	SessionToken string
}

// Signer signs outgoing HTTP requests for one region. Safe for concurrent
// use; it keeps no per-request state.
type Signer struct {
	creds  Credentials
	region string
	now    func() time.Time
}

// New returns a Signer for the given credentials and region.
func New(creds Credentials, region string) *Signer {
	return &Signer{creds: creds, region: region, now: time.Now}
}

// HashPayload returns the lowercase hex SHA-256 of body, the form Sign
// expects for its payloadHash argument.
func HashPayload(body []byte) string {
	return hashHex(body)
}

// Sign computes the SigV4 signature over req and sets the Authorization
// header, together with X-Amz-Date and, when they apply, the security
// token and content hash headers. payloadHash is the lowercase hex
// SHA-256 of the request body (EmptyPayloadHash for no body). Every
// header already present on the request is included in the signature, so
// callers must set all headers before signing.
func (s *Signer) Sign(req *http.Request, payloadHash, service string) {
	t := s.now().UTC()
	amzDate := t.Format(amzDateFormat)

	req.Header.Set("X-Amz-Date", amzDate)
	if s.creds.SessionToken != "" {
		req.Header.Set("X-Amz-Security-Token", s.creds.SessionToken)
	}
	if service == "s3" {
		req.Header.Set("X-Amz-Content-Sha256", payloadHash)
	}

	canonReq, signedHeaders := canonicalRequest(req, payloadHash, service)
	scope := credentialScope(t, s.region, service)
	stringToSign := strings.Join([]string{
		algorithm,
		amzDate,
		scope,
		hashHex([]byte(canonReq)),
	}, "\n")

	key := signingKey(s.creds.SecretKey, t, s.region, service)
	signature := hex.EncodeToString(hmacSHA256(key, stringToSign))

	req.Header.Set("Authorization", fmt.Sprintf(
		"%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algorithm, s.creds.AccessKey, scope, signedHeaders, signature,
	))
}

// Presign returns req's URL with query-string authentication appended,
// valid for the expires window. Only the host header is signed and the
// payload is left unsigned, so the URL works for a plain GET from any
// HTTP client.
func (s *Signer) Presign(req *http.Request, service string, expires time.Duration) string {
	t := s.now().UTC()
	amzDate := t.Format(amzDateFormat)
	scope := credentialScope(t, s.region, service)

	q := req.URL.Query()
	q.Set("X-Amz-Algorithm", algorithm)
	q.Set("X-Amz-Credential", s.creds.AccessKey+"/"+scope)
	q.Set("X-Amz-Date", amzDate)
	q.Set("X-Amz-Expires", strconv.Itoa(int(expires/time.Second)))
	q.Set("X-Amz-SignedHeaders", "host")
	if s.creds.SessionToken != "" {
		q.Set("X-Amz-Security-Token", s.creds.SessionToken)
	}

	u := *req.URL
	u.RawQuery = q.Encode()
	canonQuery := canonicalQueryString(&u)

	host := req.Host
	if host == "" {
		host = u.Host
	}
	canonReq := strings.Join([]string{
		req.Method,
		canonicalURI(&u, service),
		canonQuery,
		"host:" + host + "\n",
		"host",
		UnsignedPayload,
	}, "\n")

	stringToSign := strings.Join([]string{
		algorithm,
		amzDate,
		scope,
		hashHex([]byte(canonReq)),
	}, "\n")

	key := signingKey(s.creds.SecretKey, t, s.region, service)
	signature := hex.EncodeToString(hmacSHA256(key, stringToSign))

	u.RawQuery = canonQuery + "&X-Amz-Signature=" + signature
	return u.String()
}

// canonicalRequest builds the canonical form of req and the semicolon
// joined signed-headers list that goes with it.
func canonicalRequest(req *http.Request, payloadHash, service string) (string, string) {
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}

	headers := map[string]string{"host": host}
	for name, values := range req.Header {
		trimmed := make([]string, len(values))
		for i, v := range values {
			trimmed[i] = collapseSpaces(strings.TrimSpace(v))
		}
		headers[strings.ToLower(name)] = strings.Join(trimmed, ",")
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var canonHeaders strings.Builder
	for _, name := range names {
		canonHeaders.WriteString(name)
		canonHeaders.WriteByte(':')
		canonHeaders.WriteString(headers[name])
		canonHeaders.WriteByte('\n')
	}
	signedHeaders := strings.Join(names, ";")

	canon := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL, service),
		canonicalQueryString(req.URL),
		canonHeaders.String(),
		signedHeaders,
		payloadHash,
	}, "\n")
	return canon, signedHeaders
}

// canonicalURI normalizes the request path. Every service except S3 wants
// the already-escaped path percent-encoded a second time; S3 signs the
// single-encoded form.
func canonicalURI(u *url.URL, service string) string {
	p := u.EscapedPath()
	if p == "" {
		return "/"
	}
	if service == "s3" {
		return p
	}
	return uriEncode(p, false)
}

// canonicalQueryString sorts the query by encoded key then encoded value
// and re-encodes both with the unreserved-character rules signatures use.
func canonicalQueryString(u *url.URL) string {
	type pair struct{ k, v string }

	values := u.Query()
	pairs := make([]pair, 0, len(values))
	for key, vs := range values {
		ek := uriEncode(key, true)
		for _, v := range vs {
			pairs = append(pairs, pair{ek, uriEncode(v, true)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.k + "=" + p.v
	}
	return strings.Join(parts, "&")
}

// uriEncode percent-encodes everything except the RFC 3986 unreserved
// characters, using uppercase hex. Slashes survive in paths.
func uriEncode(s string, encodeSlash bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		case c == '/' && !encodeSlash:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func collapseSpaces(s string) string {
	var b strings.Builder
	pending := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ' ' || c == '\t' {
			pending = true
			continue
		}
		if pending && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pending = false
		b.WriteByte(c)
	}
	return b.String()
}

func credentialScope(t time.Time, region, service string) string {
	return strings.Join([]string{t.Format(dateFormat), region, service, "aws4_request"}, "/")
}

// signingKey derives the per-day key through the HMAC chain
// date, region, service, terminator.
func signingKey(secret string, t time.Time, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), t.Format(dateFormat))
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, "aws4_request")
}

func hmacSHA256(key []byte, msg string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(msg))
	return h.Sum(nil)
}

func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
