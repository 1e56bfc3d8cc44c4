package acmeendpoints

import (
	"crypto/sha256"
	"errors"
	"fmt"
)

// ErrNotFound is returned by ByDirectoryURL when no registered endpoint matches.
var ErrNotFound = errors.New("acmeendpoints: no corresponding endpoint found")

// ByDirectoryURL finds a registered endpoint by its exact directory URL.
func ByDirectoryURL(directoryURL string) (*Endpoint, error) {
	for _, e := range endpoints {
		if directoryURL == e.DirectoryURL {
			return e, nil
		}
	}
	return nil, ErrNotFound
}

// CreateByDirectoryURL returns the registered endpoint for directoryURL if
// one exists, or else synthesizes an ad-hoc one (used for private CAs and
// pebble instances that aren't in the built-in registry) with a
// deterministic Code derived from the URL's hash.
func CreateByDirectoryURL(directoryURL string) (*Endpoint, error) {
	if e, err := ByDirectoryURL(directoryURL); err == nil {
		return e, nil
	}

	h := sha256.Sum256([]byte(directoryURL))
	return &Endpoint{
		Title:        directoryURL,
		DirectoryURL: directoryURL,
		Code:         fmt.Sprintf("Custom%08x", h[0:4]),
	}, nil
}
