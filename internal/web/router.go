package web

import (
	"fmt"
	"net/http"
	"strings"
)

// Router resolves browser locations against a route table. It is installed
// into an App as a plugin.
type Router struct {
	routes  []Route
	history History
}

// NewRouter validates routes and binds them to history. The slice is kept by
// reference; callers must not modify it afterwards.
func NewRouter(routes []Route, history History) (*Router, error) {
	seen := make(map[string]struct{}, len(routes))
	for _, route := range routes {
		if err := route.Validate(); err != nil {
			return nil, err
		}
		key := cleanPath(route.Path)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: duplicate path %s", ErrInvalidRoute, route.Path)
		}
		seen[key] = struct{}{}
	}
	return &Router{routes: routes, history: history}, nil
}

// History returns the history strategy the router was built with.
func (r *Router) History() History {
	return r.history
}

// Match returns the first entry whose path equals the in-app path, without
// following redirects.
func (r *Router) Match(path string) (Route, bool) {
	path = cleanPath(path)
	for _, route := range r.routes {
		if cleanPath(route.Path) == path {
			return route, true
		}
	}
	return Route{}, false
}

// Resolve maps a browser URL path to the view entry that ends up rendered,
// following redirects. Redirect loops and dangling redirects resolve to
// nothing.
func (r *Router) Resolve(urlPath string) (Route, bool) {
	path, ok := r.history.Location(urlPath)
	if !ok {
		return Route{}, false
	}
	for hops := 0; hops <= len(r.routes); hops++ {
		route, found := r.Match(path)
		if !found {
			return Route{}, false
		}
		if !route.IsRedirect() {
			return route, true
		}
		path = route.Redirect
	}
	return Route{}, false
}

// Install registers one handler per route entry: redirects answer with 302,
// views get the SPA shell so the client router can take over. Under a
// non-root base the root entry also answers the bare base ("/ui" as well as
// "/ui/"), matching Resolve.
func (r *Router) Install(app *App) error {
	for _, route := range r.routes {
		href := r.history.Href(route.Path)
		patterns := []string{"GET " + href}
		if strings.HasSuffix(href, "/") {
			patterns[0] += "{$}"
			if base := r.history.Base(); base != "/" && cleanPath(route.Path) == "/" {
				patterns = append(patterns, "GET "+base)
			}
		}

		var handler http.Handler = http.HandlerFunc(app.serveShell)
		if route.IsRedirect() {
			target := r.history.Href(route.Redirect)
			handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				location := target
				if req.URL.RawQuery != "" {
					location += "?" + req.URL.RawQuery
				}
				http.Redirect(w, req, location, http.StatusFound)
			})
		}
		for _, pattern := range patterns {
			app.Handle(pattern, handler)
		}
	}
	return nil
}
