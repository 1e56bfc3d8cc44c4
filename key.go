package acmecore

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"hash"
	"math/big"
)

// KeyKind distinguishes the two account key families ACME v2 recognizes.
type KeyKind int

const (
	RSA KeyKind = iota
	EC
)

func (k KeyKind) String() string {
	if k == RSA {
		return "RSA"
	}
	return "EC"
}

// rsaJWK and ecJWK declare their fields in the lexicographic order RFC 7638
// requires for thumbprint computation; encoding/json preserves struct field
// declaration order, so marshalling either directly yields the canonical
// form with no extra work.
type rsaJWK struct {
	E   string `json:"e"`
	Kty string `json:"kty"`
	N   string `json:"n"`
}

type ecJWK struct {
	Crv string `json:"crv"`
	Kty string `json:"kty"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// AccountKey is the Key Adapter: it owns the account's private key material
// and exposes the derived facets (JWK, alg, thumbprint) the rest of the
// engine needs without any caller having to reason about curve widths or
// ASN.1 itself.
type AccountKey struct {
	signer  crypto.Signer
	kind    KeyKind
	bits    int
	shaBits int

	jwk        interface{}
	alg        string
	thumbprint string
}

// LoadAccountKey parses PEM-encoded account key material. Both PKCS#1/SEC1
// and PKCS#8 containers are accepted, covering every form "openssl genrsa"
// / "openssl ecparam" / "openssl genpkey" produce.
func LoadAccountKey(pemBytes []byte) (*AccountKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, &KeyLoadError{Err: fmt.Errorf("no PEM block found")}
	}

	key, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return nil, &KeyLoadError{Err: err}
	}

	return newAccountKey(key)
}

func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return k, nil
	}
	if k, err := x509.ParseECPrivateKey(der); err == nil {
		return k, nil
	}
	if k, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		if signer, ok := k.(crypto.Signer); ok {
			return signer, nil
		}
		return nil, fmt.Errorf("PKCS#8 key does not implement crypto.Signer")
	}
	return nil, fmt.Errorf("could not parse key as PKCS#1, SEC1, or PKCS#8")
}

func newAccountKey(signer crypto.Signer) (*AccountKey, error) {
	k := &AccountKey{signer: signer}

	switch pub := signer.Public().(type) {
	case *rsa.PublicKey:
		k.kind = RSA
		k.bits = pub.N.BitLen()
		k.shaBits = 256
		k.alg = "RS256"
		k.jwk = rsaJWK{
			E:   b64url(bigIntBytes(pub.E)),
			Kty: "RSA",
			N:   b64url(pub.N.Bytes()),
		}

	case *ecdsa.PublicKey:
		k.kind = EC
		k.bits = pub.Curve.Params().BitSize

		switch k.bits {
		case 256:
			k.shaBits = 256
		case 384:
			k.shaBits = 384
		case 521:
			k.shaBits = 512
		default:
			return nil, &UnsupportedKeyKind{Kind: fmt.Sprintf("EC curve with %d-bit order", k.bits)}
		}

		k.alg = fmt.Sprintf("ES%d", k.shaBits)
		padLen := ceilBytes(k.bits)
		k.jwk = ecJWK{
			Crv: fmt.Sprintf("P-%d", k.bits),
			Kty: "EC",
			X:   b64url(leftPadBigInt(pub.X, padLen)),
			Y:   b64url(leftPadBigInt(pub.Y, padLen)),
		}

	default:
		return nil, &UnsupportedKeyKind{Kind: fmt.Sprintf("%T", pub)}
	}

	tp, err := computeThumbprint(k.jwk)
	if err != nil {
		return nil, err
	}
	k.thumbprint = tp

	return k, nil
}

// JWK returns the public key as a mapping suitable for embedding in a JWS
// protected header's "jwk" member.
func (k *AccountKey) JWK() interface{} { return k.jwk }

// Alg returns the JWS algorithm identifier for this key: RS256 for RSA,
// ES256/ES384/ES512 for EC.
func (k *AccountKey) Alg() string { return k.alg }

// Thumbprint returns the RFC 7638 JWK thumbprint: base64url(SHA-256(canonical JSON of JWK)).
func (k *AccountKey) Thumbprint() string { return k.thumbprint }

// Kind reports whether this is an RSA or EC key.
func (k *AccountKey) Kind() KeyKind { return k.kind }

// Sign returns the raw JWS signature over input: PKCS#1 v1.5 over SHA-256
// for RSA, or fixed-width concatenated R||S for EC (after transcoding the
// signer's ASN.1 DER output via the ASN.1 transcoder).
func (k *AccountKey) Sign(input []byte) ([]byte, error) {
	h, hashed := k.hashInput(input)

	sig, err := k.signer.Sign(rand.Reader, hashed, h)
	if err != nil {
		return nil, &SignError{Err: err}
	}

	if k.kind == RSA {
		return sig, nil
	}

	raw, err := asn1ToRaw(sig, ceilBytes(k.bits))
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (k *AccountKey) hashInput(input []byte) (crypto.Hash, []byte) {
	var h crypto.Hash
	var hf func() hash.Hash

	switch k.shaBits {
	case 384:
		h, hf = crypto.SHA384, sha512.New384
	case 512:
		h, hf = crypto.SHA512, sha512.New
	default:
		h, hf = crypto.SHA256, sha256.New
	}

	hasher := hf()
	hasher.Write(input)
	return h, hasher.Sum(nil)
}

func ceilBytes(bits int) int {
	return (bits + 7) / 8
}

func bigIntBytes(i int) []byte {
	// RSA public exponents are small; encode as the minimal big-endian form.
	if i == 0 {
		return []byte{0}
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte(i & 0xff)}, b...)
		i >>= 8
	}
	return b
}

func leftPadBigInt(v *big.Int, n int) []byte {
	b := v.Bytes()
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}

func computeThumbprint(jwk interface{}) (string, error) {
	var canonical []byte
	switch j := jwk.(type) {
	case rsaJWK:
		canonical = []byte(fmt.Sprintf(`{"e":%q,"kty":"RSA","n":%q}`, j.E, j.N))
	case ecJWK:
		canonical = []byte(fmt.Sprintf(`{"crv":%q,"kty":"EC","x":%q,"y":%q}`, j.Crv, j.X, j.Y))
	default:
		return "", &UnsupportedKeyKind{Kind: fmt.Sprintf("%T", jwk)}
	}

	sum := sha256.Sum256(canonical)
	return b64url(sum[:]), nil
}
