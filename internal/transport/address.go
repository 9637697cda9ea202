package transport

import (
	"net/url"
)

// Path is the fixed socket path used when no override is configured.
const Path = "/ws"

// Environment supplies the values the socket address is derived from.
// It is consulted on every Connect, never cached.
type Environment interface {
	// OverrideURL returns a complete socket address, or "" to derive one.
	OverrideURL() string
	// PageURL returns the origin the client acts on behalf of.
	PageURL() *url.URL
}

// StaticEnvironment is an Environment with fixed values.
type StaticEnvironment struct {
	Override string
	Page     *url.URL
}

// OverrideURL implements Environment.
func (e StaticEnvironment) OverrideURL() string { return e.Override }

// PageURL implements Environment.
func (e StaticEnvironment) PageURL() *url.URL { return e.Page }

// NewEnvironment parses pageURL and pairs it with an optional override.
func NewEnvironment(override, pageURL string) (StaticEnvironment, error) {
	env := StaticEnvironment{Override: override}
	if pageURL == "" {
		return env, nil
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return env, err
	}
	env.Page = u
	return env, nil
}

// BuildURL returns the address to dial. An override is used verbatim;
// otherwise the scheme follows the page (https ⇒ wss) and the path is /ws.
// The credential is appended as ?token= only when non-empty.
func BuildURL(env Environment, credential string) string {
	base := env.OverrideURL()
	if base == "" {
		scheme, host := "ws", "localhost"
		if page := env.PageURL(); page != nil {
			if page.Scheme == "https" || page.Scheme == "wss" {
				scheme = "wss"
			}
			if page.Host != "" {
				host = page.Host
			}
		}
		base = scheme + "://" + host + Path
	}

	if credential == "" {
		return base
	}
	return base + "?token=" + url.QueryEscape(credential)
}
