package acmecore

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	gnet "github.com/hlandau/goutils/net"
	"github.com/hlandau/xlog"
	"gopkg.in/hlandau/acmecore.v1/acmeendpoints"
	"gopkg.in/hlandau/acmecore.v1/acmeutils"
)

// newBadNonceBackoff paces the single badNonce retry spec.md §4.8 mandates,
// using the same backoff mechanism the teacher applies to its own (unbounded)
// retry loop, bounded here to the one retry this engine performs.
func newBadNonceBackoff() gnet.Backoff {
	return gnet.Backoff{
		MaxTries:           2,
		InitialDelay:       100 * time.Millisecond,
		MaxDelay:           1 * time.Second,
		MaxDelayAfterTries: 1,
		Jitter:             0.10,
	}
}

var log, Log = xlog.NewQuiet("acmecore")

// Mode selects a built-in ACME realm for Construct.
type Mode int

const (
	// Live selects Let's Encrypt's production realm.
	Live Mode = iota
	// Staging selects Let's Encrypt's staging realm.
	Staging
)

// ClientConfig configures a Client. Exactly one of Mode or DirectoryURL
// should be meaningful: Mode selects a built-in realm; a non-empty
// DirectoryURL overrides it (used for pebble instances and private CAs).
type ClientConfig struct {
	Mode         Mode
	DirectoryURL string

	// HTTPClient is the underlying HTTP client. If nil, http.DefaultClient is used.
	HTTPClient *http.Client

	// UserAgent is prepended to the client's own User-Agent string.
	UserAgent string

	// Logger overrides the package-level logger for this client.
	Logger xlog.Logger
}

// Client is the Request Engine: the public entry point an out-of-scope
// certificate-orchestration layer drives to talk to an ACME v2 server. One
// Client owns one account key, one cached directory, one nonce slot, and
// one account binding; see the package-level concurrency notes for the
// single-threaded-per-Client model this implies.
type Client struct {
	cfg ClientConfig
	log xlog.Logger

	transport Transport
	dir       *directoryCache
	nonces    *nonceSlot

	mu  sync.Mutex
	key *AccountKey
	kid string
}

// Construct builds a Client for the given configuration, selecting the
// directory URL from cfg.DirectoryURL if set, or cfg.Mode otherwise.
func Construct(cfg ClientConfig) *Client {
	directoryURL := cfg.DirectoryURL
	if directoryURL == "" {
		ep := acmeendpoints.LetsEncryptLive
		if cfg.Mode == Staging {
			ep = acmeendpoints.LetsEncryptStaging
		}
		directoryURL = ep.DirectoryURL
	}

	l := cfg.Logger
	if l == nil {
		l = log
	}

	// realmLabel resolves to a human-readable realm name ("LetsEncryptLive",
	// or a synthesized Code for a private CA) so diagnostics never have to
	// print a bare directory URL.
	realm, _ := acmeendpoints.CreateByDirectoryURL(directoryURL)
	realmLabel := directoryURL
	if realm != nil {
		realmLabel = realm.Code
	}

	c := &Client{
		cfg: cfg,
		log: l,
		dir: &directoryCache{url: directoryURL},
	}
	c.nonces = &nonceSlot{fetch: c.obtainNewNonce}
	c.transport = newHTTPTransport(cfg.HTTPClient, cfg.UserAgent, c.nonces, c.dir, l, realmLabel)

	return c
}

// LoadAccountKey parses and installs pemBytes as the account's private
// key, replacing any previously loaded key and resetting the account
// binding (a new key has no known account URL until the next newAccount
// response confirms one).
func (c *Client) LoadAccountKey(pemBytes []byte) error {
	key, err := LoadAccountKey(pemBytes)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.key = key
	c.kid = ""
	c.mu.Unlock()

	return nil
}

// currentKey returns the loaded account key, or ErrNoKeyLoaded.
func (c *Client) currentKey() (*AccountKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key == nil {
		return nil, ErrNoKeyLoaded
	}
	return c.key, nil
}

func (c *Client) boundKID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kid
}

func (c *Client) setBoundKID(kid string) {
	c.mu.Lock()
	c.kid = kid
	c.mu.Unlock()
}

// GetAccountID returns the account's URL (the JWS "kid"), bootstrapping it
// via a newAccount request with payload {"onlyReturnExisting": true} if it
// is not yet known.
func (c *Client) GetAccountID(ctx context.Context) (string, error) {
	if kid := c.boundKID(); kid != "" {
		return kid, nil
	}

	_, err := c.request(ctx, "newAccount", map[string]interface{}{"onlyReturnExisting": true}, false)
	if err != nil {
		return "", err
	}

	kid := c.boundKID()
	if kid == "" {
		return "", fmt.Errorf("acme: server did not return an account Location")
	}
	return kid, nil
}

// KeyAuthorization returns the key authorization for a challenge token,
// per RFC 8555 section 8.1: token "." thumbprint.
func (c *Client) KeyAuthorization(token string) (string, error) {
	key, err := c.currentKey()
	if err != nil {
		return "", err
	}
	return acmeutils.KeyAuthorization(key.Thumbprint(), token), nil
}

// Request is the engine's single public request entry-point: name is
// either a directory resource name ("newOrder", "newAccount", ...) or an
// absolute HTTPS URL. payload, if non-nil, is signed and POSTed; a nil
// payload or the empty-string sentinel issues POST-as-GET.
func (c *Client) Request(ctx context.Context, name string, payload interface{}) (*DecodedResponse, error) {
	return c.request(ctx, name, payload, false)
}

func (c *Client) request(ctx context.Context, name string, payload interface{}, retry bool) (*DecodedResponse, error) {
	key, err := c.currentKey()
	if err != nil {
		return nil, err
	}

	if err := c.dir.ensure(ctx, c.transport); err != nil {
		return nil, err
	}

	effectiveName := name
	if isAbsoluteURL(name) {
		effectiveName = reservedTmpName
	}

	url, err := c.dir.resolve(name)
	if err != nil {
		return nil, err
	}

	useJWK := effectiveName == "newAccount"
	kid := c.boundKID()
	if !useJWK && kid == "" {
		kid, err = c.GetAccountID(ctx)
		if err != nil {
			return nil, err
		}
	}

	nonce, err := c.nonces.take(ctx)
	if err != nil {
		return nil, err
	}

	jws, err := encapsulate(key, url, requestPayload(payload), nonce, kid, useJWK, false)
	if err != nil {
		return nil, err
	}

	body, err := marshalJWS(jws)
	if err != nil {
		return nil, err
	}

	res, err := c.transport.PostJOSE(ctx, url, body)
	if err != nil {
		if isBadNonce(err) && !retry {
			backoff := newBadNonceBackoff()
			backoff.Sleep()
			c.log.Debugf("retrying %s after badNonce", name)
			return c.request(ctx, name, payload, true)
		}
		return res, err
	}

	if effectiveName == "newAccount" && c.boundKID() == "" {
		if loc := res.Headers["location"]; loc != "" {
			c.setBoundKID(loc)
		}
	}

	return res, nil
}

// requestPayload normalizes a nil payload to the POST-as-GET sentinel.
func requestPayload(payload interface{}) interface{} {
	if payload == nil {
		return emptyPayload
	}
	return payload
}

func (c *Client) obtainNewNonce(ctx context.Context) error {
	if err := c.dir.ensure(ctx, c.transport); err != nil {
		return err
	}
	url, err := c.dir.resolve("newNonce")
	if err != nil {
		return err
	}
	_, err = c.transport.Head(ctx, url)
	return err
}

// Close releases the client's reference to its account key material. The
// underlying *http.Client, if caller-supplied, is left alone.
func (c *Client) Close() {
	c.mu.Lock()
	c.key = nil
	c.kid = ""
	c.mu.Unlock()
}

// Meta returns the realm's directory metadata, loading the directory first
// if necessary.
func (c *Client) Meta(ctx context.Context) (RealmMeta, error) {
	if err := c.dir.ensure(ctx, c.transport); err != nil {
		return RealmMeta{}, err
	}
	return c.dir.meta(), nil
}

// ExternalAccountBinding builds the externalAccountBinding member to embed
// in a newAccount payload when the realm's directory metadata reports
// externalAccountRequired (RFC 8555 section 7.3.4).
func (c *Client) ExternalAccountBinding(ctx context.Context, eabKeyID string, eabKey []byte) (*FlattenedJWS, error) {
	key, err := c.currentKey()
	if err != nil {
		return nil, err
	}
	if err := c.dir.ensure(ctx, c.transport); err != nil {
		return nil, err
	}
	newAccountURL, err := c.dir.resolve("newAccount")
	if err != nil {
		return nil, err
	}
	return buildExternalAccountBinding(key, newAccountURL, eabKeyID, eabKey)
}
