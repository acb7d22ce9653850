package oauth

import "strings"

const (
	DefaultBaseURL = "https://api.ecobee.com"
	DefaultScope   = "smartWrite"
)

// Declaration defines the vendor's authorization endpoints.
type Declaration struct {
	Provider     string
	AuthorizeURL string
	TokenURL     string
	Scope        string
}

// EcobeeDeclaration derives the PIN and token endpoints from the API base URL.
func EcobeeDeclaration(baseURL, scope string) Declaration {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if strings.TrimSpace(scope) == "" {
		scope = DefaultScope
	}
	return Declaration{
		Provider:     "ecobee",
		AuthorizeURL: base + "/authorize",
		TokenURL:     base + "/token",
		Scope:        scope,
	}
}
