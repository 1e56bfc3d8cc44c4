package acmecore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"runtime"
	"strings"

	gnet "github.com/hlandau/goutils/net"
	"github.com/hlandau/xlog"
	"github.com/peterhellberg/link"
	"golang.org/x/net/context/ctxhttp"
)

// problemBodyLimit bounds how much of every response body the transport
// will read and buffer, whatever its content type, guarding against a
// malicious or misbehaving server streaming an unbounded response.
const problemBodyLimit = 512 * 1024

// DecodedResponse is what every successful Transport call and, in turn,
// every successful Client.Request call returns to the caller.
type DecodedResponse struct {
	// Code is the three-digit HTTP status code, as a string per the spec's
	// data model (kept as a string rather than an int since the core never
	// does arithmetic on it, only comparisons and logging).
	Code string

	// Headers is case-folded (lower-case keys) to match HTTP's
	// case-insensitivity.
	Headers map[string]string

	// Body is the raw response bytes.
	Body []byte

	// JSON is the parsed body when Content-Type was application/json, and
	// nil otherwise.
	JSON interface{}
}

// bodyMode selects the shape of an HTTP Transport call.
type bodyMode int

const (
	modeHead bodyMode = iota
	modeGet
	modePost
)

// nonceSink receives every Replay-Nonce a response carries.
type nonceSink interface {
	observe(nonce string)
}

// directoryURLSink receives a directory URL discovered via a response's
// Link: <...>; rel="index" header, for engines constructed without one.
type directoryURLSink interface {
	observeDirectoryURL(url string)
}

// Transport is the HTTP capability the Request Engine depends on. The
// default implementation wraps net/http; tests inject a stub that talks to
// an httptest.Server or fabricates responses entirely in memory.
type Transport interface {
	Get(ctx context.Context, url string) (*DecodedResponse, error)
	Head(ctx context.Context, url string) (*DecodedResponse, error)
	PostJOSE(ctx context.Context, url string, body []byte) (*DecodedResponse, error)
}

type httpTransport struct {
	client     *http.Client
	userAgent  string
	nonces     nonceSink
	dirURL     directoryURLSink
	log        xlog.Logger
	realmLabel string
}

// newHTTPTransport builds the default Transport. realmLabel is a
// human-readable realm name (see acmeendpoints.ByDirectoryURL), logged in
// place of the bare directory host so diagnostics read "LetsEncryptLive"
// rather than an opaque URL.
func newHTTPTransport(client *http.Client, userAgent string, nonces nonceSink, dirURL directoryURLSink, log xlog.Logger, realmLabel string) *httpTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpTransport{client: client, userAgent: userAgent, nonces: nonces, dirURL: dirURL, log: log, realmLabel: realmLabel}
}

func (t *httpTransport) Get(ctx context.Context, url string) (*DecodedResponse, error) {
	return t.do(ctx, "GET", url, modeGet, nil)
}

func (t *httpTransport) Head(ctx context.Context, url string) (*DecodedResponse, error) {
	return t.do(ctx, "HEAD", url, modeHead, nil)
}

func (t *httpTransport) PostJOSE(ctx context.Context, url string, body []byte) (*DecodedResponse, error) {
	return t.do(ctx, "POST", url, modePost, body)
}

func (t *httpTransport) do(ctx context.Context, method, url string, mode bodyMode, body []byte) (*DecodedResponse, error) {
	var reqBody *bytes.Reader
	if mode == modePost {
		reqBody = bytes.NewReader(body)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", t.formUserAgent())
	if mode == modePost {
		req.Header.Set("Content-Type", "application/jose+json")
	}

	t.log.Debugf("[%s] %s %s", t.realmLabel, method, url)

	res, err := ctxhttp.Do(ctx, t.client, req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	defer res.Body.Close()

	t.log.Debugf("[%s] -> %s", t.realmLabel, res.Status)

	headers := map[string]string{}
	for k := range res.Header {
		headers[strings.ToLower(k)] = res.Header.Get(k)
	}

	if nonce := res.Header.Get("Replay-Nonce"); nonce != "" && t.nonces != nil {
		t.nonces.observe(nonce)
	}

	if t.dirURL != nil {
		if l := link.ParseResponse(res)["index"]; l != nil {
			t.dirURL.observeDirectoryURL(l.URI)
		}
	}

	bodyBytes, err := io.ReadAll(gnet.LimitReader(res.Body, problemBodyLimit))
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}

	dr := &DecodedResponse{
		Code:    fmt.Sprintf("%d", res.StatusCode),
		Headers: headers,
		Body:    bodyBytes,
	}

	contentType := res.Header.Get("Content-Type")
	mimeType, _, _ := mime.ParseMediaType(contentType)

	if mimeType == "application/problem+json" {
		var p Problem
		if err := decodeJSON(bodyBytes, &p, "problem document"); err != nil {
			return dr, err
		}
		return dr, newProtocolError(&p)
	}

	if mimeType == "application/json" && len(bodyBytes) > 0 {
		if err := decodeJSON(bodyBytes, &dr.JSON, "response body"); err != nil {
			return dr, err
		}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return dr, &HTTPStatusError{Code: res.StatusCode, URL: url}
	}

	return dr, nil
}

func (t *httpTransport) formUserAgent() string {
	ua := t.userAgent
	if ua != "" {
		ua += " "
	}
	return fmt.Sprintf("%sacmecore/1 Go-http-client/1.1 %s/%s", ua, runtime.GOOS, runtime.GOARCH)
}

