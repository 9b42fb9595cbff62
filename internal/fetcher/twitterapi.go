package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"kolpulse/internal/model"
)

const defaultTwitterAPIBase = "https://api.twitterapi.io"

// twitterAPI looks posts up by ID.
type twitterAPI struct {
	base   string
	client *http.Client
}

func newTwitterAPI(cfg ProviderConfig, client *http.Client) *twitterAPI {
	return &twitterAPI{base: trimBase(cfg.BaseURL, defaultTwitterAPIBase), client: client}
}

func (p *twitterAPI) Name() string { return ProviderTwitterAPI }

type twitterAPIResponse struct {
	Status string `json:"status"`
	Msg    string `json:"msg"`
	Tweets []struct {
		ID            string `json:"id"`
		ViewCount     int64  `json:"viewCount"`
		LikeCount     int64  `json:"likeCount"`
		RetweetCount  int64  `json:"retweetCount"`
		ReplyCount    int64  `json:"replyCount"`
		QuoteCount    int64  `json:"quoteCount"`
		BookmarkCount int64  `json:"bookmarkCount"`
	} `json:"tweets"`
}

func (p *twitterAPI) fetch(ctx context.Context, ref PostRef, key string) (model.Metrics, error) {
	id := ref.ID()
	if id == "" {
		return model.Metrics{}, fmt.Errorf("%w: post id required", ErrProviderUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+"/twitter/tweets?tweet_ids="+url.QueryEscape(id), nil)
	if err != nil {
		return model.Metrics{}, err
	}
	req.Header.Set("X-API-Key", key)

	var body twitterAPIResponse
	if err := doJSON(p.client, req, &body); err != nil {
		return model.Metrics{}, err
	}
	if strings.EqualFold(body.Status, "error") {
		return model.Metrics{}, fmt.Errorf("%w: %s", ErrProviderUnavailable, body.Msg)
	}
	for _, t := range body.Tweets {
		if t.ID != "" && t.ID != id {
			continue
		}
		return rawCounts{
			Impressions: t.ViewCount,
			Likes:       t.LikeCount,
			Retweets:    t.RetweetCount,
			Replies:     t.ReplyCount,
			Quotes:      t.QuoteCount,
			Bookmarks:   t.BookmarkCount,
		}.metrics(), nil
	}
	return model.Metrics{}, fmt.Errorf("%w: post not in response", ErrInconclusiveMetrics)
}
