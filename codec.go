package acmecore

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// b64url encodes b as unpadded base64url, per RFC 7515 appendix C.
func b64url(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func b64urlDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// decodeJSON unmarshals data into v, wrapping any failure as a
// JSONParseError tagged with context for diagnostics.
func decodeJSON(data []byte, v interface{}, context string) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &JSONParseError{Context: context, Err: err}
	}
	return nil
}

// isAbsoluteURL reports whether name looks like a URL rather than a
// directory resource name, per spec: case-insensitive "http" prefix.
func isAbsoluteURL(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), "http")
}

// marshalJWS serializes a flattened JWS to its wire JSON form.
func marshalJWS(jws *FlattenedJWS) ([]byte, error) {
	return json.Marshal(jws)
}
