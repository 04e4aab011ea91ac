package directory

import (
	"net/url"
	"strings"
)

// handleFilter turns directory hrefs into handles, dropping anything that is
// not a profile link.
type handleFilter struct {
	host     string
	owner    string
	reserved map[string]struct{}
}

func newHandleFilter(baseURL, owner string, reserved []string) *handleFilter {
	f := &handleFilter{
		owner:    strings.ToLower(owner),
		reserved: make(map[string]struct{}, len(reserved)),
	}
	if u, err := url.Parse(baseURL); err == nil {
		f.host = strings.ToLower(u.Hostname())
	}
	for _, r := range reserved {
		r = strings.ToLower(strings.Trim(strings.TrimSpace(r), "/"))
		if r != "" {
			f.reserved[r] = struct{}{}
		}
	}
	return f
}

// handle returns the first path segment of href, or false when the link does
// not point at another profile.
func (f *handleFilter) handle(href string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	if u.Host != "" && f.host != "" && !sameSite(strings.ToLower(u.Hostname()), f.host) {
		return "", false
	}

	segment, _, _ := strings.Cut(strings.TrimLeft(u.Path, "/"), "/")
	if segment == "" {
		return "", false
	}
	lower := strings.ToLower(segment)
	if lower == f.owner {
		return "", false
	}
	if _, ok := f.reserved[lower]; ok {
		return "", false
	}
	return segment, true
}

// sameSite treats "www.example.com" and "example.com" as the same site.
func sameSite(a, b string) bool {
	return strings.TrimPrefix(a, "www.") == strings.TrimPrefix(b, "www.")
}
