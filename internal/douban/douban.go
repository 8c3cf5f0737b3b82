package douban

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/eugenenazirov/tvsubscribe/internal/model"
)

const (
	// DefaultBaseURL is Douban's movie site.
	DefaultBaseURL = "https://movie.douban.com/"

	browserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	cacheSize    = 256
	maxImageSize = 10 << 20
)

var (
	// ErrEmptyQuery is returned for blank search terms and IDs.
	ErrEmptyQuery = errors.New("empty douban query")
	// ErrUnexpectedStatus is returned for non-200 Douban responses.
	ErrUnexpectedStatus = errors.New("unexpected douban status")
	// ErrTitleNotFound is returned when a subject page carries no usable title.
	ErrTitleNotFound = errors.New("douban title not found")
	// ErrImageNotAllowed is returned for image URLs outside Douban's CDN.
	ErrImageNotAllowed = errors.New("only douban images can be proxied")
)

// Client looks up series metadata on Douban.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	imageClient *http.Client
	allowImage  func(*url.URL) bool

	titles   *lru.Cache[string, string]
	searches *lru.Cache[string, []model.DoubanResult]
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another host, primarily for tests.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		c.baseURL = base
	}
}

// WithHTTPClient overrides the HTTP client used for API and page requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithImageHostCheck overrides which image URLs FetchImage accepts.
func WithImageHostCheck(allow func(*url.URL) bool) Option {
	return func(c *Client) {
		c.allowImage = allow
	}
}

// New returns a Douban client with LRU caches for titles and searches.
func New(opts ...Option) (*Client, error) {
	titles, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create title cache: %w", err)
	}
	searches, err := lru.New[string, []model.DoubanResult](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create search cache: %w", err)
	}

	c := &Client{
		baseURL:     DefaultBaseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		imageClient: &http.Client{Timeout: 10 * time.Second},
		allowImage:  IsDoubanImage,
		titles:      titles,
		searches:    searches,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// IsDoubanImage reports whether u is served by Douban's image CDN
// (https://img<N>.doubanio.com).
func IsDoubanImage(u *url.URL) bool {
	host := u.Hostname()
	return u.Scheme == "https" && strings.HasPrefix(host, "img") && strings.HasSuffix(host, ".doubanio.com")
}

type suggestion struct {
	Episode  string `json:"episode"`
	Img      string `json:"img"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Type     string `json:"type"`
	Year     string `json:"year"`
	SubTitle string `json:"sub_title"`
	ID       string `json:"id"`
}

// Search queries Douban's suggest endpoint. Only film/TV subjects are kept
// (Douban labels both "movie"); newer subjects, which have larger numeric
// IDs, come first.
func (c *Client) Search(ctx context.Context, name string) ([]model.DoubanResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrEmptyQuery)
	}
	if cached, ok := c.searches.Get(name); ok {
		return cloneResults(cached), nil
	}

	endpoint := c.baseURL + "j/subject_suggest?" + url.Values{"q": {name}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("User-Agent", browserAgent)
	req.Header.Set("Accept", "application/json, text/javascript, */*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Referer", c.baseURL)

	body, err := c.get(req)
	if err != nil {
		return nil, err
	}

	body = bytes.TrimSpace(body)
	if !bytes.HasPrefix(body, []byte("[")) {
		return nil, fmt.Errorf("decode search response: expected JSON array, got %q", preview(body))
	}
	var raw []suggestion
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]model.DoubanResult, 0, len(raw))
	for _, item := range raw {
		if item.Type != "movie" || item.ID == "" || item.Title == "" {
			continue
		}
		results = append(results, model.DoubanResult{
			ID:      item.ID,
			Title:   item.Title,
			Img:     item.Img,
			Year:    item.Year,
			Episode: item.Episode,
		})
	}
	sortNewestFirst(results)

	c.searches.Add(name, cloneResults(results))
	return results, nil
}

// Title returns the subject's display name.
func (c *Client) Title(ctx context.Context, doubanID string) (string, error) {
	doubanID = strings.TrimSpace(doubanID)
	if doubanID == "" {
		return "", fmt.Errorf("%w: douban id is required", ErrEmptyQuery)
	}
	if cached, ok := c.titles.Get(doubanID); ok {
		return cached, nil
	}

	endpoint := c.baseURL + "subject/" + url.PathEscape(doubanID) + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build subject request: %w", err)
	}
	req.Header.Set("User-Agent", browserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")

	body, err := c.get(req)
	if err != nil {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse subject page: %w", err)
	}
	title := extractTitle(doc)
	if title == "" {
		return "", fmt.Errorf("%w: id=%s", ErrTitleNotFound, doubanID)
	}

	c.titles.Add(doubanID, title)
	return title, nil
}

// Image is a fetched poster.
type Image struct {
	ContentType string
	Data        []byte
}

// FetchImage downloads a poster from Douban's CDN with the referer it
// requires; browsers cannot load these directly from another origin.
func (c *Client) FetchImage(ctx context.Context, rawURL string) (Image, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || !c.allowImage(u) {
		return Image{}, fmt.Errorf("%w: %s", ErrImageNotAllowed, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Image{}, fmt.Errorf("build image request: %w", err)
	}
	req.Header.Set("User-Agent", browserAgent)
	req.Header.Set("Referer", DefaultBaseURL)
	req.Header.Set("Accept", "image/webp,image/apng,image/*,*/*;q=0.8")

	resp, err := c.imageClient.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Image{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize))
	if err != nil {
		return Image{}, fmt.Errorf("read image: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return Image{ContentType: contentType, Data: data}, nil
}

func (c *Client) get(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request douban: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	// Setting Accept-Encoding by hand disables the transport's transparent gzip.
	var reader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("open gzip body: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read douban response: %w", err)
	}
	return body, nil
}

func extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("h1 span").First().Text()); title != "" {
		return title
	}
	if title := strings.TrimSpace(doc.Find(`[property="v:itemreviewed"]`).First().Text()); title != "" {
		return title
	}
	page := strings.TrimSpace(doc.Find("title").First().Text())
	if strings.Contains(page, "豆瓣") {
		return strings.TrimSpace(strings.ReplaceAll(page, "(豆瓣)", ""))
	}
	return ""
}

// sortNewestFirst orders numeric IDs descending, ahead of non-numeric IDs,
// which are ordered descending as strings.
func sortNewestFirst(results []model.DoubanResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, errA := strconv.Atoi(results[i].ID)
		b, errB := strconv.Atoi(results[j].ID)
		switch {
		case errA == nil && errB == nil:
			return a > b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return results[i].ID > results[j].ID
		}
	})
}

func cloneResults(src []model.DoubanResult) []model.DoubanResult {
	out := make([]model.DoubanResult, len(src))
	copy(out, src)
	return out
}

func preview(body []byte) string {
	if len(body) > 200 {
		return string(body[:200])
	}
	return string(body)
}
