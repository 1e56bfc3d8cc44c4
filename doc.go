// Package acmecore implements the authenticated request engine at the core
// of an ACME v2 (RFC 8555) client: it owns the account key, discovers the
// server's resource directory, manages anti-replay nonces, builds and signs
// flattened JSON Web Signatures over every request, performs the HTTP
// exchange, and translates protocol-level problem responses into structured
// errors.
//
// It deliberately does not know about certificate orders, challenges, or
// CSR construction; callers drive those by issuing named or absolute-URL
// requests through Client.Request and decoding the result themselves.
//
// Concurrency: a Client holds a single nonce slot. Its mutexes keep the
// slot and the account binding internally consistent but do not serialize
// requests, so two concurrent signed requests on one Client can be sent
// with the same nonce. Callers that share a Client across goroutines must
// serialize its requests themselves; distinct Clients are independent.
package acmecore // import "gopkg.in/hlandau/acmecore.v1"
