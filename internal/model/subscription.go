package model

import "fmt"

// Resolution selects which release standard is searched for on the tracker.
type Resolution int

const (
	Res2160P Resolution = iota
	Res1080P
)

func (r Resolution) String() string {
	switch r {
	case Res2160P:
		return "2160p"
	case Res1080P:
		return "1080p"
	default:
		return fmt.Sprintf("resolution(%d)", int(r))
	}
}

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	return r == Res2160P || r == Res1080P
}

// Subscription is a TV series the service keeps downloading new episodes for.
// DoubanID and Resolution together identify a subscription; ID is assigned
// on creation and used by the UI for bulk operations.
type Subscription struct {
	ID         string     `json:"id" yaml:"id"`
	DoubanID   string     `json:"douban_id" yaml:"douban_id" validate:"required,numeric"`
	Name       string     `json:"name" yaml:"name"`
	Resolution Resolution `json:"resolution" yaml:"resolution" validate:"oneof=0 1"`
}

// SameShow reports whether s and other refer to the same series and resolution.
func (s Subscription) SameShow(other Subscription) bool {
	return s.DoubanID == other.DoubanID && s.Resolution == other.Resolution
}

// Torrent is a single release listed by the tracker.
type Torrent struct {
	ID           string `json:"id"`
	Info         string `json:"info"`
	DownloadLink string `json:"download_link"`
	Volume       string `json:"volume"`
}

// DoubanResult is a search hit from Douban's suggest endpoint.
type DoubanResult struct {
	ID      string `json:"douban_id"`
	Title   string `json:"title"`
	Img     string `json:"img"`
	Year    string `json:"year"`
	Episode string `json:"episode"`
}
