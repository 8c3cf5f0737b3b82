package web

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const shellFile = "index.html"

var (
	// ErrAlreadyMounted is returned by Use and Mount once the app is mounted.
	ErrAlreadyMounted = errors.New("app already mounted")
	// ErrAnchorNotFound is returned when the shell lacks the mount anchor.
	ErrAnchorNotFound = errors.New("mount anchor not found")
	// ErrMissingAsset is returned when a plugin references a file the build does not contain.
	ErrMissingAsset = errors.New("asset missing from build output")
)

// Plugin extends an App before it is mounted.
type Plugin interface {
	Install(app *App) error
}

// PluginFunc adapts a function to Plugin.
type PluginFunc func(app *App) error

// Install calls f(app).
func (f PluginFunc) Install(app *App) error {
	return f(app)
}

// App is the SPA root: the shell document from the frontend build plus the
// handlers plugins register on it. Setup (Use, Mount) is not safe for
// concurrent use; the handler returned by Mount is.
type App struct {
	dist      fs.FS
	doc       *goquery.Document
	mux       *http.ServeMux
	installed int

	mounted   bool
	anchor    string
	shell     []byte
	mountedAt time.Time
}

// NewApp parses the shell document (index.html) from the build output.
func NewApp(dist fs.FS) (*App, error) {
	f, err := dist.Open(shellFile)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", shellFile, err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", shellFile, err)
	}

	return &App{
		dist: dist,
		doc:  doc,
		mux:  http.NewServeMux(),
	}, nil
}

// Use installs p. Plugins run in the order they are registered.
func (a *App) Use(p Plugin) error {
	if a.mounted {
		return ErrAlreadyMounted
	}
	if err := p.Install(a); err != nil {
		return fmt.Errorf("install plugin: %w", err)
	}
	a.installed++
	return nil
}

// Handle registers an HTTP handler on the app. Intended for plugins.
func (a *App) Handle(pattern string, handler http.Handler) {
	a.mux.Handle(pattern, handler)
}

// Document exposes the shell document so plugins can amend it before mount.
func (a *App) Document() *goquery.Document {
	return a.doc
}

// Assets returns the build output the app serves.
func (a *App) Assets() fs.FS {
	return a.dist
}

// Plugins reports how many plugins were installed.
func (a *App) Plugins() int {
	return a.installed
}

// Mounted reports the anchor the app was mounted on.
func (a *App) Mounted() (anchor string, ok bool) {
	return a.anchor, a.mounted
}

// Mount renders the shell once, verifying it contains the anchor element
// (an id selector such as "#app"), and returns the handler serving the app.
// An app can be mounted only once.
func (a *App) Mount(anchor string) (http.Handler, error) {
	if a.mounted {
		return nil, ErrAlreadyMounted
	}

	id := strings.TrimPrefix(strings.TrimSpace(anchor), "#")
	if id == "" || a.doc.Find("[id='"+id+"']").Length() == 0 {
		return nil, fmt.Errorf("%w: %q", ErrAnchorNotFound, anchor)
	}

	rendered, err := a.doc.Html()
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", shellFile, err)
	}

	a.shell = []byte(rendered)
	a.mountedAt = time.Now().UTC()
	a.anchor = "#" + id
	a.mounted = true

	a.mux.Handle("GET /assets/", http.FileServerFS(a.dist))
	// Push-state deep links: any other location is the client router's call.
	a.mux.Handle("GET /", http.HandlerFunc(a.serveShell))

	return a.mux, nil
}

func (a *App) serveShell(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, shellFile, a.mountedAt, bytes.NewReader(a.shell))
}

// ComponentLibrary installs a UI component library by linking its
// stylesheets into the shell. Local hrefs must exist in the build output.
func ComponentLibrary(stylesheets ...string) Plugin {
	return PluginFunc(func(a *App) error {
		head := a.Document().Find("head")
		if head.Length() == 0 {
			return errors.New("shell has no <head>")
		}

		for _, href := range stylesheets {
			if strings.HasPrefix(href, "/") && !strings.HasPrefix(href, "//") {
				if _, err := fs.Stat(a.Assets(), strings.TrimPrefix(href, "/")); err != nil {
					return fmt.Errorf("%w: %s", ErrMissingAsset, href)
				}
			}

			linked := false
			head.Find(`link[rel="stylesheet"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
				if existing, _ := s.Attr("href"); existing == href {
					linked = true
				}
				return !linked
			})
			if !linked {
				head.AppendHtml(`<link rel="stylesheet" href="` + html.EscapeString(href) + `"/>`)
			}
		}
		return nil
	})
}
