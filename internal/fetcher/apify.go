package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"kolpulse/internal/model"
)

const (
	defaultApifyBase  = "https://api.apify.com"
	defaultApifyActor = "apidojo~tweet-scraper"
)

// apify runs a scraper actor synchronously. It resolves posts by URL.
type apify struct {
	base   string
	actor  string
	client *http.Client
}

func newApify(cfg ProviderConfig, client *http.Client) *apify {
	actor := strings.TrimSpace(cfg.Actor)
	if actor == "" {
		actor = defaultApifyActor
	}
	return &apify{base: trimBase(cfg.BaseURL, defaultApifyBase), actor: actor, client: client}
}

func (p *apify) Name() string { return ProviderApify }

type apifyInput struct {
	StartURLs []string `json:"startUrls"`
	MaxItems  int      `json:"maxItems"`
}

type apifyItem struct {
	NoResults     bool  `json:"noResults"`
	ViewCount     int64 `json:"viewCount"`
	LikeCount     int64 `json:"likeCount"`
	RetweetCount  int64 `json:"retweetCount"`
	ReplyCount    int64 `json:"replyCount"`
	QuoteCount    int64 `json:"quoteCount"`
	BookmarkCount int64 `json:"bookmarkCount"`
}

func (p *apify) fetch(ctx context.Context, ref PostRef, key string) (model.Metrics, error) {
	target := ref.CanonicalURL()
	if target == "" {
		return model.Metrics{}, fmt.Errorf("%w: post url required", ErrProviderUnavailable)
	}
	payload, err := json.Marshal(apifyInput{StartURLs: []string{target}, MaxItems: 1})
	if err != nil {
		return model.Metrics{}, err
	}
	endpoint := p.base + "/v2/acts/" + url.PathEscape(p.actor) + "/run-sync-get-dataset-items"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return model.Metrics{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	var items []apifyItem
	if err := doJSON(p.client, req, &items); err != nil {
		return model.Metrics{}, err
	}
	for _, it := range items {
		if it.NoResults {
			continue
		}
		return rawCounts{
			Impressions: it.ViewCount,
			Likes:       it.LikeCount,
			Retweets:    it.RetweetCount,
			Replies:     it.ReplyCount,
			Quotes:      it.QuoteCount,
			Bookmarks:   it.BookmarkCount,
		}.metrics(), nil
	}
	return model.Metrics{}, fmt.Errorf("%w: empty dataset", ErrInconclusiveMetrics)
}
