// Package rss implements the feed-poller connector. Feeds carry no server
// cursor, so the marker is a bounded window of item GUIDs already emitted;
// anything outside the window is treated as new.
package rss

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/conresinc/cloin.eda/internal/cursor"
	"github.com/conresinc/cloin.eda/internal/event"
	"github.com/conresinc/cloin.eda/internal/metrics"
	"github.com/conresinc/cloin.eda/internal/source"
)

const defaultWindow = 256

// Config is the validated configuration for one rss source.
type Config struct {
	URL            string
	FeedName       string
	Search         string
	ContentTags    string
	Interval       time.Duration
	MostRecentItem bool
	Window         int
}

// NewConfig builds and validates a Config from raw options.
func NewConfig(name string, opts source.Options) (Config, error) {
	var cfg Config
	var err error

	if cfg.URL, err = opts.RequiredString(name, "url"); err != nil {
		return Config{}, err
	}
	if cfg.FeedName, err = opts.String(name, "name", ""); err != nil {
		return Config{}, err
	}
	if cfg.Search, err = opts.String(name, "search", ""); err != nil {
		return Config{}, err
	}
	if cfg.ContentTags, err = opts.String(name, "content_tags", ""); err != nil {
		return Config{}, err
	}
	if cfg.Interval, err = opts.Interval(name, "interval", 7200*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MostRecentItem, err = opts.Bool(name, "most_recent_item", false); err != nil {
		return Config{}, err
	}
	if cfg.Window, err = opts.Int(name, "window", defaultWindow); err != nil {
		return Config{}, err
	}
	if cfg.Window <= 0 {
		return Config{}, source.NewConfigError(name, "window", "must be positive")
	}

	return cfg, nil
}

// Connector polls one feed URL.
type Connector struct {
	name   string
	cfg    Config
	parser *gofeed.Parser
}

// New creates an rss connector from raw options.
func New(name string, opts source.Options) (*Connector, error) {
	cfg, err := NewConfig(name, opts)
	if err != nil {
		return nil, err
	}
	return &Connector{name: name, cfg: cfg}, nil
}

func (c *Connector) Name() string { return c.name }
func (c *Connector) Kind() string { return "rss" }

// Interval returns the configured polling interval.
func (c *Connector) Interval() time.Duration { return c.cfg.Interval }

// Open prepares the feed parser. Feeds are plain HTTP resources, so
// reachability is not probed here; the first Fetch reports it.
func (c *Connector) Open(_ context.Context) error {
	c.parser = gofeed.NewParser()
	c.parser.Client = &http.Client{Timeout: 30 * time.Second}
	return nil
}

// Close releases nothing; the parser holds no persistent connection.
func (c *Connector) Close() error {
	c.parser = nil
	return nil
}

// Fetch pulls the feed and returns items whose GUID is outside the seen
// window. On the very first cycle no history is replayed: the window is
// seeded with everything currently on the feed, and only the newest item
// is emitted when most_recent_item is set.
func (c *Connector) Fetch(ctx context.Context, marker cursor.Marker) ([]source.RawRecord, cursor.Marker, error) {
	feed, err := c.parser.ParseURLWithContext(c.cfg.URL, ctx)
	if err != nil {
		return nil, nil, c.classify(err)
	}

	seen, firstPoll := seenSet(marker)

	var records []source.RawRecord
	if firstPoll {
		if c.cfg.MostRecentItem && len(feed.Items) > 0 {
			if item := feed.Items[0]; c.matches(item) {
				records = append(records, c.record(item))
			}
		}
	} else {
		// Feeds list newest entries first; emit oldest first so events
		// leave in publish order.
		for i := len(feed.Items) - 1; i >= 0; i-- {
			item := feed.Items[i]
			if seen[itemGUID(item)] {
				metrics.DuplicatesSuppressed.WithLabelValues(c.name, c.Kind()).Inc()
				continue
			}
			if !c.matches(item) {
				continue
			}
			records = append(records, c.record(item))
		}
	}

	next := c.nextWindow(feed.Items, seen)
	if !firstPoll && len(records) == 0 {
		return nil, nil, nil
	}
	return records, next, nil
}

// matches applies the substring filter against the item summary. An empty
// search string matches everything.
func (c *Connector) matches(item *gofeed.Item) bool {
	if c.cfg.Search == "" {
		return true
	}
	return strings.Contains(item.Description, c.cfg.Search)
}

func (c *Connector) record(item *gofeed.Item) source.RawRecord {
	payload := map[string]any{
		"id":      itemGUID(item),
		"title":   item.Title,
		"link":    item.Link,
		"summary": item.Description,
	}
	if item.Published != "" {
		payload["published"] = item.Published
	}
	if item.Updated != "" {
		payload["updated"] = item.Updated
	}
	if item.Author != nil {
		payload["author"] = item.Author.Name
	}
	if len(item.Categories) > 0 {
		cats := make([]any, len(item.Categories))
		for i, cat := range item.Categories {
			cats[i] = cat
		}
		payload["categories"] = cats
	}
	if item.Content != "" {
		payload["content"] = item.Content
	}
	if c.cfg.FeedName != "" {
		payload["feed_name"] = c.cfg.FeedName
	}
	if c.cfg.ContentTags != "" {
		if tags := nestedValue(payload, strings.Split(c.cfg.ContentTags, ".")); tags != nil {
			payload["content_tags"] = tags
		}
	}

	return source.RawRecord{
		Payload: payload,
		Meta:    map[string]any{"feed_url": c.cfg.URL},
	}
}

// nextWindow merges the feed's current GUIDs on top of the prior window,
// newest first, capped at the configured size.
func (c *Connector) nextWindow(items []*gofeed.Item, prior map[string]bool) cursor.Marker {
	next := make([]string, 0, c.cfg.Window)
	added := make(map[string]bool, c.cfg.Window)
	for _, item := range items {
		guid := itemGUID(item)
		if !added[guid] && len(next) < c.cfg.Window {
			next = append(next, guid)
			added[guid] = true
		}
	}
	for guid := range prior {
		if !added[guid] && len(next) < c.cfg.Window {
			next = append(next, guid)
			added[guid] = true
		}
	}
	return next
}

// Envelope passes the normalized item through.
func (c *Connector) Envelope(rec source.RawRecord) event.Envelope {
	return event.New(rec.Payload, rec.Meta)
}

func (c *Connector) classify(err error) error {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &source.AuthError{Source: c.name, Err: err}
		default:
			return &source.TransientError{Source: c.name, Err: err}
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &source.ConnectionError{Source: c.name, Err: err}
}

// itemGUID prefers the feed-supplied GUID, then the link, then a content
// hash so items without identifiers still dedup.
func itemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	if item.Link != "" {
		return item.Link
	}
	sum := sha256.Sum256([]byte(item.Title + "|" + item.Published))
	return hex.EncodeToString(sum[:8])
}

// seenSet decodes a stored marker. JSON round-trips string slices as
// []any, so both shapes are accepted. A nil or foreign marker means this
// is the first cycle.
func seenSet(marker cursor.Marker) (map[string]bool, bool) {
	set := make(map[string]bool)
	switch m := marker.(type) {
	case nil:
		return set, true
	case []string:
		for _, guid := range m {
			set[guid] = true
		}
	case []any:
		for _, v := range m {
			set[fmt.Sprint(v)] = true
		}
	default:
		return set, true
	}
	return set, false
}

// nestedValue walks a dot path through nested maps.
func nestedValue(m map[string]any, keys []string) any {
	var cur any = m
	for _, key := range keys {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = node[key]
	}
	return cur
}
