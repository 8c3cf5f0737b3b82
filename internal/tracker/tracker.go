package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/eugenenazirov/tvsubscribe/internal/model"
)

// DefaultBaseURL is the tracker the service searches.
const DefaultBaseURL = "https://springsunday.net/"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

var (
	// ErrInvalidQuery is returned when a search lacks a Douban ID or a cookie.
	ErrInvalidQuery = errors.New("invalid tracker query")
	// ErrUnexpectedStatus is returned for non-200 tracker responses.
	ErrUnexpectedStatus = errors.New("unexpected tracker status")
)

// Client searches the tracker's torrent listing.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another tracker host, primarily for tests.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		c.baseURL = base
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New returns a tracker client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchURL builds the listing URL for a subscription: releases by the
// tracker's own team, filtered by Douban ID and resolution standard.
func (c *Client) SearchURL(sub model.Subscription) string {
	standard := "standard2=1"
	if sub.Resolution == model.Res2160P {
		standard = "standard1=1"
	}
	return fmt.Sprintf("%storrents.php?%s&team9=1&incldead=0&spstate=0&pick=0&inclbookmarked=0&search=%s&search_area=5&search_mode=0",
		c.baseURL, standard, url.QueryEscape(sub.DoubanID))
}

// DownloadURL builds the authenticated .torrent download link.
func (c *Client) DownloadURL(torrentID, passkey string) string {
	return fmt.Sprintf("%sdownload.php?id=%s&passkey=%s&https=1",
		c.baseURL, url.QueryEscape(torrentID), url.QueryEscape(passkey))
}

// Search returns the torrents currently listed for sub.
func (c *Client) Search(ctx context.Context, cookie string, sub *model.Subscription) ([]model.Torrent, error) {
	if sub == nil {
		return nil, fmt.Errorf("%w: subscription is required", ErrInvalidQuery)
	}
	if strings.TrimSpace(sub.DoubanID) == "" {
		return nil, fmt.Errorf("%w: douban id is required", ErrInvalidQuery)
	}
	if strings.TrimSpace(cookie) == "" {
		return nil, fmt.Errorf("%w: cookie is required", ErrInvalidQuery)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.SearchURL(*sub), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Cookie", cookie)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search tracker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return []model.Torrent{}, nil
	}

	return c.ParseTorrents(bytes.NewReader(body))
}

// ParseTorrents extracts the listing rows from a torrents.php page. Rows are
// deduplicated by torrent ID and keep page order.
func (c *Client) ParseTorrents(r io.Reader) ([]model.Torrent, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}

	seen := make(map[string]struct{})
	torrents := []model.Torrent{}

	doc.Find("#outer > div > table tr").Each(func(_ int, row *goquery.Selection) {
		id := ""
		row.Find(`a[href*="details.php?id="]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			id = torrentIDFromHref(href)
			return id == ""
		})
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}

		torrents = append(torrents, model.Torrent{
			ID:           id,
			Info:         longestTitle(row),
			DownloadLink: c.downloadLink(row),
			Volume:       volume(row),
		})
	})

	return torrents, nil
}

// torrentIDFromHref pulls the id parameter out of a details.php link.
func torrentIDFromHref(href string) string {
	_, rest, found := strings.Cut(href, "details.php?id=")
	if !found {
		return ""
	}
	id, _, _ := strings.Cut(rest, "&")
	return strings.TrimSpace(id)
}

// longestTitle returns the most descriptive subtitle of a row; the tracker
// puts the full release description in a title attribute.
func longestTitle(row *goquery.Selection) string {
	info := ""
	row.Find(".torrent-smalldescr span[title]").Each(func(_ int, span *goquery.Selection) {
		if title, _ := span.Attr("title"); len(title) > len(info) {
			info = title
		}
	})
	return info
}

func (c *Client) downloadLink(row *goquery.Selection) string {
	link := ""
	row.Find(`a[href*="download.php"]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if href, _ := a.Attr("href"); href != "" {
			if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
				link = href
			} else {
				link = c.baseURL + strings.TrimPrefix(href, "/")
			}
		}
		return link == ""
	})
	return link
}

func volume(row *goquery.Selection) string {
	size := ""
	row.Find("td").Each(func(_ int, td *goquery.Selection) {
		text := strings.TrimSpace(td.Text())
		if strings.Contains(text, "GB") || strings.Contains(text, "MB") || strings.Contains(text, "KB") || strings.Contains(text, "TB") {
			size = strings.Join(strings.Fields(text), " ")
		}
	})
	return size
}
