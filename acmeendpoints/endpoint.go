// Package acmeendpoints provides information on known ACME realms, so a
// caller can select "live" or "staging" by name instead of hard-coding
// directory URLs, and so diagnostics can print a human-readable realm name
// for a directory URL a response was served from.
package acmeendpoints

import "fmt"

// Endpoint describes one known ACME realm: a name and its directory URL.
// OCSP and certificate-URL matching, which the teacher's version of this
// registry carried, belong to certificate orchestration and are dropped
// here; see DESIGN.md.
type Endpoint struct {
	// Code is a short unique identifier, e.g. "LetsEncryptLive".
	Code string

	// Title is a human-readable name for the realm.
	Title string

	// DirectoryURL is the realm's ACME directory URL.
	DirectoryURL string

	// Live reports whether certificates issued by this realm are browser-trusted.
	Live bool
}

func (e *Endpoint) String() string {
	return fmt.Sprintf("Endpoint(%s)", e.DirectoryURL)
}

var endpoints []*Endpoint

// Visit calls f for every registered endpoint, stopping at the first error.
func Visit(f func(e *Endpoint) error) error {
	for _, e := range endpoints {
		if err := f(e); err != nil {
			return err
		}
	}
	return nil
}

// RegisterEndpoint adds a custom endpoint to the registry, e.g. for a
// private CA or a local pebble instance used in tests.
func RegisterEndpoint(e *Endpoint) {
	endpoints = append(endpoints, e)
}

func init() {
	for _, e := range builtinEndpoints {
		RegisterEndpoint(e)
	}
}
