package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
)

const (
	// MountAnchor is the element the SPA renders into.
	MountAnchor = "#app"
	// ComponentLibraryStylesheet is the UI component library's bundled CSS.
	ComponentLibraryStylesheet = "/assets/element-plus.css"
)

// Frontend build output (web/dist of the Vue project).
//
//go:embed all:dist
var dist embed.FS

// Dist returns the embedded build output rooted at its top directory.
func Dist() fs.FS {
	sub, err := fs.Sub(dist, "dist")
	if err != nil {
		panic(err)
	}
	return sub
}

// Bootstrap builds the router from the route table with browser history,
// creates the app, installs the router and the component library, and mounts
// the app on MountAnchor.
func Bootstrap(assets fs.FS) (*App, http.Handler, error) {
	router, err := NewRouter(Routes(), NewWebHistory("/"))
	if err != nil {
		return nil, nil, fmt.Errorf("create router: %w", err)
	}

	app, err := NewApp(assets)
	if err != nil {
		return nil, nil, err
	}
	if err := app.Use(router); err != nil {
		return nil, nil, err
	}
	if err := app.Use(ComponentLibrary(ComponentLibraryStylesheet)); err != nil {
		return nil, nil, err
	}

	handler, err := app.Mount(MountAnchor)
	if err != nil {
		return nil, nil, err
	}
	return app, handler, nil
}
