package acmecore

import (
	"context"
	"fmt"
	"sync"
)

// reservedTmpName is the key under which an absolute URL passed to
// Client.Request in place of a resource name is stashed for the duration
// of that single call.
const reservedTmpName = "_tmp"

// RealmMeta mirrors the ACME directory's "meta" object (RFC 8555 section
// 7.1.1). Supplementary to spec.md's directory cache: real CAs use this to
// advertise terms of service and external-account-binding requirements.
type RealmMeta struct {
	TermsOfServiceURL       string   `json:"termsOfService,omitempty"`
	WebsiteURL              string   `json:"website,omitempty"`
	CAAIdentities           []string `json:"caaIdentities,omitempty"`
	ExternalAccountRequired bool     `json:"externalAccountRequired,omitempty"`
}

type directoryDocument struct {
	NewNonce   string    `json:"newNonce"`
	NewAccount string    `json:"newAccount"`
	NewOrder   string    `json:"newOrder"`
	NewAuthz   string    `json:"newAuthz,omitempty"`
	RevokeCert string    `json:"revokeCert"`
	KeyChange  string    `json:"keyChange"`
	Meta       RealmMeta `json:"meta,omitempty"`
}

// directoryCache is the Directory Cache: it fetches and memoizes the
// resource-name-to-URL mapping on first use.
type directoryCache struct {
	mu       sync.Mutex
	url      string
	loaded   bool
	doc      directoryDocument
	tmpValue string
}

func (d *directoryCache) observeDirectoryURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.url == "" {
		d.url = url
	}
}

func (d *directoryCache) directoryURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// ensure loads the directory document if it has not been loaded yet.
func (d *directoryCache) ensure(ctx context.Context, t Transport) error {
	d.mu.Lock()
	if d.loaded {
		d.mu.Unlock()
		return nil
	}
	url := d.url
	d.mu.Unlock()

	if url == "" {
		return &DirectoryError{Reason: "no directory URL known"}
	}

	res, err := t.Get(ctx, url)
	if err != nil {
		return err
	}

	if _, ok := res.JSON.(map[string]interface{}); !ok {
		return &DirectoryError{Reason: "response body is not a JSON object"}
	}

	var doc directoryDocument
	if err := decodeJSON(res.Body, &doc, "directory"); err != nil {
		return err
	}

	if doc.NewNonce == "" || doc.NewAccount == "" || doc.NewOrder == "" {
		return &DirectoryError{Reason: "missing required resource URL"}
	}

	d.mu.Lock()
	d.doc = doc
	d.loaded = true
	d.mu.Unlock()

	return nil
}

// resolve maps a resource name to its URL. If name looks like an absolute
// URL (begins with "http", case-insensitive), it is stashed under the
// reserved "_tmp" name and used verbatim for this one call.
func (d *directoryCache) resolve(name string) (string, error) {
	if isAbsoluteURL(name) {
		d.mu.Lock()
		d.tmpValue = name
		d.mu.Unlock()
		return name, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if name == reservedTmpName {
		return d.tmpValue, nil
	}

	switch name {
	case "newNonce":
		return d.doc.NewNonce, nil
	case "newAccount":
		return d.doc.NewAccount, nil
	case "newOrder":
		return d.doc.NewOrder, nil
	case "newAuthz":
		return d.doc.NewAuthz, nil
	case "revokeCert":
		return d.doc.RevokeCert, nil
	case "keyChange":
		return d.doc.KeyChange, nil
	default:
		return "", fmt.Errorf("acme: unknown resource name %q", name)
	}
}

func (d *directoryCache) meta() RealmMeta {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Meta
}
