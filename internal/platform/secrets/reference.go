package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	referenceScheme = "secret"
	legacyPrefix    = "sm://"
	latestVersion   = "latest"
)

// reference is a parsed secret://NAME[?version=V&project=P] string. canonical drops the query so
// every version of a secret shares one identity.
type reference struct {
	canonical string
	name      string
	version   string
	project   string
}

func parseReference(raw string) (reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != referenceScheme {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}

	query := u.Query()
	u.RawQuery, u.Fragment = "", ""
	return reference{
		canonical: u.String(),
		name:      name,
		version:   strings.TrimSpace(query.Get("version")),
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

// versioned keys the cache and the fallback table.
func (r reference) versioned(version string) string {
	return r.canonical + "#" + version
}

func (r reference) resource(project, version string) string {
	return "projects/" + project + "/secrets/" + r.name + "/versions/" + version
}

// normalizeLegacy rewrites sm://NAME into secret://NAME.
func normalizeLegacy(value string) string {
	value = strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(value, legacyPrefix); ok {
		return referenceScheme + "://" + rest
	}
	return value
}
