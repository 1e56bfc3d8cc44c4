package acmecore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
)

// protectedHeader is modeled as a sum type — two structs implementing a
// marker interface — rather than a single mutable struct with optional
// fields, per the two-shape (jwk vs kid) design the protocol calls for.
type protectedHeader interface {
	isProtectedHeader()
}

type jwkProtectedHeader struct {
	Alg   string      `json:"alg"`
	Nonce string      `json:"nonce,omitempty"`
	URL   string      `json:"url"`
	JWK   interface{} `json:"jwk"`
}

func (jwkProtectedHeader) isProtectedHeader() {}

type kidProtectedHeader struct {
	Alg   string `json:"alg"`
	Nonce string `json:"nonce,omitempty"`
	URL   string `json:"url"`
	Kid   string `json:"kid"`
}

func (kidProtectedHeader) isProtectedHeader() {}

// FlattenedJWS is the flattened JWS JSON Serialization (RFC 7515 section
// 7.2.2), the only form ACME v2 uses.
type FlattenedJWS struct {
	Protected string `json:"protected"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// emptyPayload is the sentinel meaning "POST-as-GET": sign an empty
// payload rather than omitting it.
const emptyPayload = ""

// encapsulate builds and signs a flattened JWS. payload may be a string
// (used verbatim as the pre-base64url bytes — the empty string is the
// POST-as-GET sentinel) or any JSON-marshalable value.
//
// useJWK selects the protected header shape: true embeds the account's
// public JWK (first-contact requests — newAccount, or a nested/inner JWS),
// false embeds kid (every other signed request, once the account URL is
// known). nonce is ignored when inner is true: nested JWS used for
// external account binding carry no nonce of their own (RFC 8555 section
// 7.3.4).
func encapsulate(key *AccountKey, url string, payload interface{}, nonce, kid string, useJWK, inner bool) (*FlattenedJWS, error) {
	var hdr protectedHeader
	if useJWK {
		hdr = jwkProtectedHeader{Alg: key.Alg(), Nonce: nonceOrEmpty(nonce, inner), URL: url, JWK: key.JWK()}
	} else {
		hdr = kidProtectedHeader{Alg: key.Alg(), Nonce: nonceOrEmpty(nonce, inner), URL: url, Kid: kid}
	}

	return sign(key, hdr, payload)
}

func nonceOrEmpty(nonce string, inner bool) string {
	if inner {
		return ""
	}
	return nonce
}

func sign(key *AccountKey, hdr protectedHeader, payload interface{}) (*FlattenedJWS, error) {
	protectedJSON, err := json.Marshal(hdr)
	if err != nil {
		return nil, err
	}
	protected64 := b64url(protectedJSON)

	payloadBytes, err := payloadBytes(payload)
	if err != nil {
		return nil, err
	}
	payload64 := b64url(payloadBytes)

	sigInput := protected64 + "." + payload64

	signature, err := key.Sign([]byte(sigInput))
	if err != nil {
		return nil, err
	}

	return &FlattenedJWS{
		Protected: protected64,
		Payload:   payload64,
		Signature: b64url(signature),
	}, nil
}

func payloadBytes(payload interface{}) ([]byte, error) {
	if s, ok := payload.(string); ok {
		return []byte(s), nil
	}
	return json.Marshal(payload)
}

// eabProtectedHeader is the protected header of the inner JWS used for
// external account binding: it carries the CA-issued key ID and uses the
// CA-issued symmetric MAC key's algorithm rather than the account's own.
type eabProtectedHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	URL string `json:"url"`
}

// buildExternalAccountBinding constructs the externalAccountBinding member
// of a newAccount payload (RFC 8555 section 7.3.4): a flattened JWS whose
// payload is the account's own public JWK, HMAC-SHA256-signed with the
// CA-supplied symmetric key identified by eabKeyID.
func buildExternalAccountBinding(key *AccountKey, newAccountURL, eabKeyID string, eabKey []byte) (*FlattenedJWS, error) {
	hdr := eabProtectedHeader{Alg: "HS256", Kid: eabKeyID, URL: newAccountURL}

	protectedJSON, err := json.Marshal(hdr)
	if err != nil {
		return nil, err
	}
	protected64 := b64url(protectedJSON)

	payloadJSON, err := json.Marshal(key.JWK())
	if err != nil {
		return nil, err
	}
	payload64 := b64url(payloadJSON)

	mac := hmac.New(sha256.New, eabKey)
	mac.Write([]byte(protected64 + "." + payload64))

	return &FlattenedJWS{
		Protected: protected64,
		Payload:   payload64,
		Signature: b64url(mac.Sum(nil)),
	}, nil
}
