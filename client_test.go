package acmecore

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	jose "gopkg.in/square/go-jose.v2"
)

func rsaKeyPEM(t *testing.T) []byte {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der := x509.MarshalPKCS1PrivateKey(k)
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})
}

func ecKeyPEM(t *testing.T, curve elliptic.Curve) []byte {
	t.Helper()
	k, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalECPrivateKey(k)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
}

// stubServer implements a minimal ACME v2 server sufficient to exercise
// directory loading, nonce issuance, newAccount, and the badNonce retry
// path, in the style of the teacher's own httptest-based tests.
type stubServer struct {
	mu           sync.Mutex
	nonceCounter int
	badNonceOnce bool
	accountCount int
}

func (s *stubServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.nonceCounter++
		nonce := fmt.Sprintf("nonce-%d", s.nonceCounter)
		s.mu.Unlock()

		switch {
		case r.URL.Path == "/directory":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{
				"newNonce":   "http://" + r.Host + "/new-nonce",
				"newAccount": "http://" + r.Host + "/new-account",
				"newOrder":   "http://" + r.Host + "/new-order",
				"revokeCert": "http://" + r.Host + "/revoke-cert",
				"keyChange":  "http://" + r.Host + "/key-change",
			})

		case r.URL.Path == "/new-nonce":
			w.Header().Set("Replay-Nonce", nonce)
			w.WriteHeader(http.StatusOK)

		case r.URL.Path == "/new-account":
			_, _ = io.ReadAll(r.Body)

			s.mu.Lock()
			badNonceOnce := s.badNonceOnce
			s.badNonceOnce = false
			s.mu.Unlock()

			if badNonceOnce {
				w.Header().Set("Replay-Nonce", nonce)
				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(Problem{
					Type:   badNonceType,
					Detail: "bad nonce",
				})
				return
			}

			s.mu.Lock()
			s.accountCount++
			n := s.accountCount
			s.mu.Unlock()

			w.Header().Set("Replay-Nonce", nonce)
			w.Header().Set("Location", fmt.Sprintf("https://%s/acct/%d", r.Host, n))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "valid"})

		case r.URL.Path == "/unauthorized":
			w.Header().Set("Replay-Nonce", nonce)
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(Problem{
				Type:   "urn:ietf:params:acme:error:unauthorized",
				Detail: "top-level detail",
				Subproblems: []SubProblem{
					{Type: "urn:ietf:params:acme:error:unauthorized", Detail: "no authz", Identifier: Identifier{Type: "dns", Value: "example.com"}},
				},
			})

		default:
			http.NotFound(w, r)
		}
	}
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c := Construct(ClientConfig{
		DirectoryURL: srv.URL + "/directory",
		HTTPClient:   srv.Client(),
	})
	if err := c.LoadAccountKey(rsaKeyPEM(t)); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestDirectoryLoadAndNewAccount(t *testing.T) {
	s := &stubServer{}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	c := newTestClient(t, srv)

	kid, err := c.GetAccountID(context.Background())
	if err != nil {
		t.Fatalf("GetAccountID: %v", err)
	}
	if !strings.Contains(kid, "/acct/1") {
		t.Fatalf("unexpected account URL: %s", kid)
	}
}

func TestBadNonceRetry(t *testing.T) {
	s := &stubServer{badNonceOnce: true}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	c := newTestClient(t, srv)

	res, err := c.Request(context.Background(), "newAccount", map[string]interface{}{"termsOfServiceAgreed": true})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if res.Code != "201" {
		t.Fatalf("unexpected status code: %s", res.Code)
	}
}

func TestNonRecoverableProblem(t *testing.T) {
	s := &stubServer{}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	c := newTestClient(t, srv)
	if _, err := c.GetAccountID(context.Background()); err != nil {
		t.Fatalf("GetAccountID: %v", err)
	}

	_, err := c.Request(context.Background(), srv.URL+"/unauthorized", "")
	if err == nil {
		t.Fatal("expected error")
	}
	pe, ok := err.(*ProtocolError)
	if !ok {
		t.Fatalf("expected *ProtocolError, got %T: %v", err, err)
	}
	if pe.Type != "urn:ietf:params:acme:error:unauthorized" {
		t.Fatalf("unexpected type: %s", pe.Type)
	}
	if len(pe.Subproblems) != 1 || pe.Subproblems[0] != `"example.com": no authz` {
		t.Fatalf("unexpected subproblems: %v", pe.Subproblems)
	}
}

func TestECP521SignatureWidth(t *testing.T) {
	key, err := LoadAccountKey(ecKeyPEM(t, elliptic.P521()))
	if err != nil {
		t.Fatal(err)
	}

	sig, err := key.Sign([]byte{0x42})
	if err != nil {
		t.Fatal(err)
	}
	if len(sig) != 132 {
		t.Fatalf("expected 132-byte signature, got %d", len(sig))
	}
}

func TestThumbprintStability(t *testing.T) {
	pemBytes := rsaKeyPEM(t)

	k1, err := LoadAccountKey(pemBytes)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := LoadAccountKey(pemBytes)
	if err != nil {
		t.Fatal(err)
	}

	if k1.Thumbprint() != k2.Thumbprint() {
		t.Fatalf("thumbprints differ: %s vs %s", k1.Thumbprint(), k2.Thumbprint())
	}
}

func TestAbsoluteURLPassthrough(t *testing.T) {
	s := &stubServer{}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	c := newTestClient(t, srv)
	if _, err := c.GetAccountID(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, err := c.Request(context.Background(), srv.URL+"/new-account", map[string]interface{}{"termsOfServiceAgreed": true})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
}

// TestJWSVerifiesWithIndependentLibrary cross-checks the engine's hand-built
// flattened JWS against an independent JOSE implementation, so a bug in our
// own canonicalization or signing cannot hide behind a self-consistent
// round-trip.
func TestJWSVerifiesWithIndependentLibrary(t *testing.T) {
	s := &stubServer{}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	c := newTestClient(t, srv)

	var captured []byte
	orig := c.transport
	c.transport = &capturingTransport{Transport: orig, capture: &captured}

	if _, err := c.GetAccountID(context.Background()); err != nil {
		t.Fatal(err)
	}

	parsed, err := jose.ParseSigned(string(captured))
	if err != nil {
		t.Fatalf("independent JOSE library could not parse our JWS: %v", err)
	}

	key, _ := c.currentKey()
	pub := key.signer.Public()
	if _, err := parsed.Verify(pub); err != nil {
		t.Fatalf("independent JOSE library rejected our signature: %v", err)
	}
}

type capturingTransport struct {
	Transport
	capture *[]byte
}

func (c *capturingTransport) PostJOSE(ctx context.Context, url string, body []byte) (*DecodedResponse, error) {
	*c.capture = body
	return c.Transport.PostJOSE(ctx, url, body)
}
