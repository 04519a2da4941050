package hn

import "fmt"

// Kind is an item's type as reported by the API.
type Kind string

const (
	KindStory      Kind = "story"
	KindComment    Kind = "comment"
	KindJob        Kind = "job"
	KindPoll       Kind = "poll"
	KindPollOption Kind = "pollopt"
)

// Item represents a Hacker News item (story, comment, etc.)
type Item struct {
	ID          int    `json:"id"`
	Type        Kind   `json:"type,omitempty"`
	By          string `json:"by,omitempty"`
	Time        int64  `json:"time,omitempty"`
	Text        string `json:"text,omitempty"`
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	Score       int    `json:"score,omitempty"`
	Descendants int    `json:"descendants,omitempty"`
	Kids        []int  `json:"kids,omitempty"`
	Parts       []int  `json:"parts,omitempty"`
	Parent      int    `json:"parent,omitempty"`
	Poll        int    `json:"poll,omitempty"`
	Dead        bool   `json:"dead,omitempty"`
	Deleted     bool   `json:"deleted,omitempty"`

	// Children holds the resolved replies in Kids order, minus tombstoned or
	// unreachable ones. Only comment trees populate it.
	Children []*Item `json:"children,omitempty"`
}

// Visible reports whether the item carries usable content.
func (it *Item) Visible() bool {
	return it != nil && !it.Deleted && !it.Dead && it.By != ""
}

// List is one of the ranked id lists.
type List string

const (
	ListTop  List = "top"
	ListAsk  List = "ask"
	ListShow List = "show"
	ListJob  List = "job"
)

// Lists is every list kind, in display order.
var Lists = []List{ListTop, ListAsk, ListShow, ListJob}

// ParseList validates a list kind.
func ParseList(s string) (List, error) {
	for _, l := range Lists {
		if string(l) == s {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown list %q", s)
}

func (l List) path() string { return "/" + string(l) + "stories.json" }

// CacheKey is the cache key the list's ids are stored under.
func (l List) CacheKey() string { return string(l) + "_story_ids" }

// ItemKey is the cache key a single item is stored under.
func ItemKey(id int) string { return fmt.Sprintf("item_%d", id) }
