package web

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidRoute is returned when a route entry breaks the table's rules.
var ErrInvalidRoute = errors.New("invalid route")

// Route binds a URL path either to a view rendered by the SPA or to another
// path the browser is redirected to. Exactly one of View and Redirect is set.
type Route struct {
	Path     string
	Name     string
	View     string
	Redirect string
}

// IsRedirect reports whether the entry only forwards to another path.
func (r Route) IsRedirect() bool {
	return r.Redirect != ""
}

// Validate checks the structural rules of a single entry.
func (r Route) Validate() error {
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("%w: path %q must be absolute", ErrInvalidRoute, r.Path)
	}
	switch {
	case r.View == "" && r.Redirect == "":
		return fmt.Errorf("%w: %s needs a view or a redirect", ErrInvalidRoute, r.Path)
	case r.View != "" && r.Redirect != "":
		return fmt.Errorf("%w: %s has both a view and a redirect", ErrInvalidRoute, r.Path)
	case r.IsRedirect() && !strings.HasPrefix(r.Redirect, "/"):
		return fmt.Errorf("%w: %s redirects to relative path %q", ErrInvalidRoute, r.Path, r.Redirect)
	}
	return nil
}

// routes is the SPA's route table. Order matters: the first match wins.
var routes = []Route{
	{Path: "/", Redirect: "/config"},
	{Path: "/config", Name: "Config", View: "Config"},
	{Path: "/subscribe", Name: "Subscribe", View: "Subscribe"},
}

// Routes returns the route table.
func Routes() []Route {
	return slices.Clone(routes)
}
