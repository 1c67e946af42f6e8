package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// reference is a parsed secret://NAME?version=V&project=P.
type reference struct {
	Canonical string // secret://NAME, without the query
	Secret    string
	Version   string
	Project   string
}

func (r reference) cacheKey() string { return r.Canonical + "#" + r.Version }

// resourceName is the Secret Manager version path, with project filling in for an unqualified ref.
func (r reference) resourceName(project string) string {
	if r.Project != "" {
		project = r.Project
	}
	return "projects/" + project + "/secrets/" + r.Secret + "/versions/" + r.Version
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
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}

	q := u.Query()
	ref := reference{
		Canonical: "secret://" + name,
		Secret:    name,
		Version:   strings.TrimSpace(q.Get("version")),
		Project:   strings.TrimSpace(q.Get("project")),
	}
	if ref.Version == "" {
		ref.Version = "latest"
	}
	return ref, nil
}
