package tracker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenenazirov/tvsubscribe/internal/model"
)

func TestSearchURL(t *testing.T) {
	c := New()
	tests := []struct {
		name string
		sub  model.Subscription
		want string
	}{
		{
			name: "2160p",
			sub:  model.Subscription{DoubanID: "36391902", Resolution: model.Res2160P},
			want: "https://springsunday.net/torrents.php?standard1=1&team9=1&incldead=0&spstate=0&pick=0&inclbookmarked=0&search=36391902&search_area=5&search_mode=0",
		},
		{
			name: "1080p",
			sub:  model.Subscription{DoubanID: "36391902", Resolution: model.Res1080P},
			want: "https://springsunday.net/torrents.php?standard2=1&team9=1&incldead=0&spstate=0&pick=0&inclbookmarked=0&search=36391902&search_area=5&search_mode=0",
		},
		{
			name: "unknown resolution falls back to 1080p",
			sub:  model.Subscription{DoubanID: "36391902", Resolution: 999},
			want: "https://springsunday.net/torrents.php?standard2=1&team9=1&incldead=0&spstate=0&pick=0&inclbookmarked=0&search=36391902&search_area=5&search_mode=0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.SearchURL(tt.sub))
		})
	}
}

func TestDownloadURL(t *testing.T) {
	assert.Equal(t,
		"https://springsunday.net/download.php?id=577692&passkey=123456&https=1",
		New().DownloadURL("577692", "123456"))
}

func TestParseTorrents(t *testing.T) {
	tests := []struct {
		name string
		html string
		want []string
	}{
		{name: "empty", html: "", want: []string{}},
		{
			name: "single row",
			html: `<div id="outer"><div><table><tr><td><a href="details.php?id=123456&hit=1">t</a></td></tr></table></div></div>`,
			want: []string{"123456"},
		},
		{
			name: "first link of a row wins",
			html: `<div id="outer"><div><table><tr><td><a href="details.php?id=123456&hit=1">a</a></td><td><a href="details.php?id=789012&hit=1">b</a></td></tr></table></div></div>`,
			want: []string{"123456"},
		},
		{
			name: "duplicates across rows",
			html: `<div id="outer"><div><table>
				<tr><td><a href="details.php?id=123456&hit=1">a</a></td></tr>
				<tr><td><a href="details.php?id=123456&hit=2">a again</a></td></tr>
				<tr><td><a href="details.php?id=789012&hit=1">b</a></td></tr>
			</table></div></div>`,
			want: []string{"123456", "789012"},
		},
		{
			name: "empty id skipped",
			html: `<div id="outer"><div><table>
				<tr><td><a href="details.php?id=&hit=1">empty</a></td></tr>
				<tr><td><a href="details.php?id=123456&hit=1">ok</a></td></tr>
			</table></div></div>`,
			want: []string{"123456"},
		},
		{
			name: "links outside the listing ignored",
			html: `<a href="userdetails.php?id=87654">user</a>
				<a href="details.php?id=55555">sidebar</a>
				<div id="outer"><div><table>
					<tr><td><a href="details.php?id=111111&hit=1">t1</a></td></tr>
					<tr><td><a href="details.php?id=222222&page=1">t2</a></td></tr>
				</table></div></div>
				<a href="report.php?id=99999">report</a>`,
			want: []string{"111111", "222222"},
		},
		{
			name: "no torrent links",
			html: `<div id="outer"><div><table><tr><td><a href="other.php?id=123">x</a></td></tr></table></div></div>`,
			want: []string{},
		},
	}

	c := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.ParseTorrents(strings.NewReader(tt.html))
			require.NoError(t, err)

			ids := make([]string, 0, len(got))
			for _, torrent := range got {
				ids = append(ids, torrent.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestParseTorrentsDetails(t *testing.T) {
	page := `<div id="outer"><div><table><tr>
		<td><a href="details.php?id=577692&hit=1">Show S01</a>
			<div class="torrent-smalldescr"><span title="short">s</span><span title="Show S01E01-E04 2160p WEB-DL">long</span></div></td>
		<td><a href="download.php?id=577692">dl</a></td>
		<td>12.5<br/>GB</td>
	</tr></table></div></div>`

	got, err := New().ParseTorrents(strings.NewReader(page))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.Torrent{
		ID:           "577692",
		Info:         "Show S01E01-E04 2160p WEB-DL",
		DownloadLink: "https://springsunday.net/download.php?id=577692",
		Volume:       "12.5GB",
	}, got[0])
}

func TestSearchValidatesInput(t *testing.T) {
	c := New()
	ctx := context.Background()

	tests := []struct {
		name   string
		cookie string
		sub    *model.Subscription
	}{
		{name: "nil subscription", cookie: "c", sub: nil},
		{name: "blank douban id", cookie: "c", sub: &model.Subscription{DoubanID: " \t"}},
		{name: "blank cookie", cookie: "  ", sub: &model.Subscription{DoubanID: "123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Search(ctx, tt.cookie, tt.sub)
			assert.ErrorIs(t, err, ErrInvalidQuery)
		})
	}
}

func TestSearchAgainstServer(t *testing.T) {
	page := `<div id="outer"><div><table>
		<tr><td><a href="details.php?id=577692&hit=1">a</a></td></tr>
		<tr><td><a href="details.php?id=577598&hit=1">b</a></td></tr>
	</table></div></div>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/torrents.php", r.URL.Path)
		assert.Equal(t, "37484739", r.URL.Query().Get("search"))
		assert.Equal(t, "1", r.URL.Query().Get("standard2"))
		assert.Equal(t, "test_cookie", r.Header.Get("Cookie"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	got, err := c.Search(context.Background(), "test_cookie", &model.Subscription{DoubanID: "37484739", Resolution: model.Res1080P})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "577692", got[0].ID)
	assert.Equal(t, "577598", got[1].ID)
}

func TestSearchEmptyAndErrorResponses(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
		fmt.Fprint(w, "   \n\t ")
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	sub := &model.Subscription{DoubanID: "1"}

	got, err := c.Search(context.Background(), "c", sub)
	require.NoError(t, err)
	assert.Empty(t, got)

	status.Store(http.StatusForbidden)
	_, err = c.Search(context.Background(), "c", sub)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func BenchmarkParseTorrents(b *testing.B) {
	var sb strings.Builder
	sb.WriteString(`<div id="outer"><div><table>`)
	for i := 0; i < 1000; i++ {
		fmt.Fprintf(&sb, `<tr><td><a href="details.php?id=%d&hit=1">t%d</a></td></tr>`, i, i)
	}
	sb.WriteString(`</table></div></div>`)
	page := sb.String()
	c := New()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.ParseTorrents(strings.NewReader(page))
	}
}
