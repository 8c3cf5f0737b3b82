package web

import "strings"

// History is a push-state history strategy rooted at a base path. Every
// client-side location under the base is a real URL the server must answer.
type History struct {
	base string
}

// NewWebHistory returns browser history rooted at base ("" means "/").
func NewWebHistory(base string) History {
	base = "/" + strings.Trim(strings.TrimSpace(base), "/")
	return History{base: base}
}

// Base returns the normalised base path.
func (h History) Base() string {
	if h.base == "" {
		return "/"
	}
	return h.base
}

// Href maps an in-app path to the URL the browser sees.
func (h History) Href(path string) string {
	path = cleanPath(path)
	if h.Base() == "/" {
		return path
	}
	if path == "/" {
		return h.base + "/"
	}
	return h.base + path
}

// Location maps a browser URL path back to an in-app path. ok is false when
// the URL lies outside the base.
func (h History) Location(urlPath string) (path string, ok bool) {
	urlPath = cleanPath(urlPath)
	base := h.Base()
	if base == "/" {
		return urlPath, true
	}
	if urlPath == base {
		return "/", true
	}
	rest, found := strings.CutPrefix(urlPath, base+"/")
	if !found {
		return "", false
	}
	return cleanPath("/" + rest), true
}

func cleanPath(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
