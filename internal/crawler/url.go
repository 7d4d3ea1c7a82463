package crawler

import (
	"net/url"
	"strings"
)

// NormalizeOptions selects which URL parts are significant for equality.
type NormalizeOptions struct {
	KeepQuery    bool
	KeepFragment bool
}

// lowerAuthority lower-cases the "scheme://host" prefix of a URL that
// url.Parse rejected, leaving the rest untouched.
func lowerAuthority(raw string) string {
	i := strings.Index(raw, "://")
	if i < 0 {
		return raw
	}
	end := i + 3
	if j := strings.IndexAny(raw[end:], "/?#"); j >= 0 {
		end += j
	} else {
		end = len(raw)
	}
	return strings.ToLower(raw[:end]) + raw[end:]
}

// Normalize returns the canonical form of raw: lower-cased scheme and host,
// no trailing slash on the path, and the query and fragment dropped unless
// opts keeps them. Kept queries are re-encoded with sorted keys. Input that
// does not parse is trimmed, its scheme and host lower-cased, and otherwise
// returned as-is.
func Normalize(raw string, opts NormalizeOptions) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimRight(lowerAuthority(raw), "/")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	if opts.KeepQuery && u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	} else {
		u.RawQuery = ""
	}
	u.ForceQuery = false

	if !opts.KeepFragment {
		u.Fragment = ""
		u.RawFragment = ""
	}

	return u.String()
}

// Resolve makes ref absolute against base. It returns "" when either fails to parse.
func Resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	return b.ResolveReference(r).String()
}
