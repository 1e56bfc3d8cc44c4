package acmeendpoints

var (
	// LetsEncryptLive is the production Let's Encrypt ACME v2 realm.
	LetsEncryptLive = Endpoint{
		Code:         "LetsEncryptLive",
		Title:        "Let's Encrypt (Live)",
		DirectoryURL: "https://acme-v02.api.letsencrypt.org/directory",
		Live:         true,
	}

	// LetsEncryptStaging is Let's Encrypt's staging realm, which issues
	// certificates that are not browser-trusted but are not subject to the
	// production rate limits.
	LetsEncryptStaging = Endpoint{
		Code:         "LetsEncryptStaging",
		Title:        "Let's Encrypt (Staging)",
		DirectoryURL: "https://acme-staging-v02.api.letsencrypt.org/directory",
		Live:         false,
	}
)

// DefaultEndpoint is the suggested default for callers that don't specify one.
var DefaultEndpoint = &LetsEncryptLive

var builtinEndpoints = []*Endpoint{
	&LetsEncryptLive,
	&LetsEncryptStaging,
}
