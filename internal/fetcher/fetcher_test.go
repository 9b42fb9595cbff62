package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"kolpulse/internal/model"
)

type upstream struct {
	tweets      func(w http.ResponseWriter, r *http.Request)
	syndication func(w http.ResponseWriter, r *http.Request)
	apify       func(w http.ResponseWriter, r *http.Request)

	tweetHits atomic.Int32
	syndHits  atomic.Int32
}

func (u *upstream) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/twitter/tweets", func(w http.ResponseWriter, r *http.Request) {
		u.tweetHits.Add(1)
		if u.tweets == nil {
			http.Error(w, "no handler", http.StatusNotFound)
			return
		}
		u.tweets(w, r)
	})
	mux.HandleFunc("/tweet-result", func(w http.ResponseWriter, r *http.Request) {
		u.syndHits.Add(1)
		if u.syndication == nil {
			http.Error(w, "no handler", http.StatusNotFound)
			return
		}
		u.syndication(w, r)
	})
	mux.HandleFunc("/v2/acts/", func(w http.ResponseWriter, r *http.Request) {
		if u.apify == nil {
			http.Error(w, "no handler", http.StatusNotFound)
			return
		}
		u.apify(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func tweetsBody(views, likes, rts, replies, quotes, bookmarks int64) map[string]any {
	return map[string]any{
		"status": "success",
		"tweets": []map[string]any{{
			"id":            "1790000000000000000",
			"viewCount":     views,
			"likeCount":     likes,
			"retweetCount":  rts,
			"replyCount":    replies,
			"quoteCount":    quotes,
			"bookmarkCount": bookmarks,
		}},
	}
}

func testConfig(base string) Config {
	return Config{
		Providers:      []ProviderConfig{{Name: ProviderTwitterAPI, BaseURL: base}},
		Syndication:    SyndicationConfig{BaseURL: base},
		RequestTimeout: time.Second,
	}
}

var testRef = PostRef{URL: "https://x.com/alice/status/1790000000000000000"}

func TestFetchPrimaryEngagementRate(t *testing.T) {
	t.Parallel()

	u := &upstream{tweets: func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "k1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		writeJSON(w, tweetsBody(1000, 50, 10, 5, 0, 2))
	}}
	srv := u.server(t)
	f := New(testConfig(srv.URL), srv.Client(), testLogger())

	m, err := f.Fetch(context.Background(), testRef, Credentials{ProviderTwitterAPI: "k1"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	want := model.Metrics{Impressions: 1000, Likes: 50, Retweets: 10, Replies: 5, Quotes: 0, Bookmarks: 2, EngagementRate: 6.5}
	if m != want {
		t.Fatalf("Fetch() = %+v, want %+v", m, want)
	}
	if got := u.syndHits.Load(); got != 0 {
		t.Fatalf("syndication hits = %d, want 0", got)
	}
}

func TestFetchZeroPrimaryFallsBackToSyndication(t *testing.T) {
	t.Parallel()

	u := &upstream{
		tweets: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, tweetsBody(0, 0, 0, 0, 7, 3))
		},
		syndication: func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("id") != "1790000000000000000" {
				http.Error(w, "bad id", http.StatusBadRequest)
				return
			}
			writeJSON(w, map[string]any{"__typename": "Tweet", "favorite_count": 12})
		},
	}
	srv := u.server(t)
	f := New(testConfig(srv.URL), srv.Client(), testLogger())

	m, err := f.Fetch(context.Background(), testRef, Credentials{ProviderTwitterAPI: "k1"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	// Primary's quotes/bookmarks must not leak into the accepted result.
	want := model.Metrics{Likes: 12}
	if m != want {
		t.Fatalf("Fetch() = %+v, want %+v", m, want)
	}
	if u.tweetHits.Load() != 1 || u.syndHits.Load() != 1 {
		t.Fatalf("hits tweets=%d synd=%d, want 1/1", u.tweetHits.Load(), u.syndHits.Load())
	}
}

func TestFetchSkipsProviderWithoutCredential(t *testing.T) {
	t.Parallel()

	u := &upstream{
		tweets: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, tweetsBody(1000, 1, 1, 1, 1, 1))
		},
		syndication: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"favorite_count": 4, "conversation_count": 2})
		},
	}
	srv := u.server(t)
	f := New(testConfig(srv.URL), srv.Client(), testLogger())

	m, err := f.Fetch(context.Background(), testRef, nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if m.Likes != 4 || m.Replies != 2 {
		t.Fatalf("Fetch() = %+v, want likes=4 replies=2", m)
	}
	if got := u.tweetHits.Load(); got != 0 {
		t.Fatalf("primary hits = %d, want 0 without credential", got)
	}
}

func TestFetchSecondSyndicationVariant(t *testing.T) {
	t.Parallel()

	u := &upstream{syndication: func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"retweet_count": 3})
	}}
	srv := u.server(t)
	f := New(Config{Syndication: SyndicationConfig{BaseURL: srv.URL}}, srv.Client(), testLogger())

	m, err := f.Fetch(context.Background(), PostRef{ExternalID: "1790000000000000000"}, nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if m.Retweets != 3 {
		t.Fatalf("Retweets = %d, want 3", m.Retweets)
	}
	if got := u.syndHits.Load(); got != 2 {
		t.Fatalf("syndication hits = %d, want 2", got)
	}
}

func TestFetchExhaustedReturnsFetchError(t *testing.T) {
	t.Parallel()

	u := &upstream{
		tweets: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, tweetsBody(0, 0, 0, 0, 0, 0))
		},
		syndication: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"favorite_count": 0})
		},
	}
	srv := u.server(t)
	f := New(testConfig(srv.URL), srv.Client(), testLogger())

	m, err := f.Fetch(context.Background(), testRef, Credentials{ProviderTwitterAPI: "k1"})
	if err == nil {
		t.Fatalf("Fetch() = %+v, want error", m)
	}
	if m != (model.Metrics{}) {
		t.Fatalf("Fetch() metrics = %+v, want zero value alongside error", m)
	}
	if !errors.Is(err, ErrAllProvidersExhausted) {
		t.Fatalf("error %v does not wrap ErrAllProvidersExhausted", err)
	}
	if !errors.Is(err, ErrInconclusiveMetrics) {
		t.Fatalf("error %v does not expose ErrInconclusiveMetrics", err)
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error %T is not *FetchError", err)
	}
	if len(fe.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(fe.Attempts))
	}
	if fe.Attempts[0].Provider != ProviderTwitterAPI {
		t.Fatalf("first attempt = %q, want %q", fe.Attempts[0].Provider, ProviderTwitterAPI)
	}
}

func TestFetchTimeoutAdvancesChain(t *testing.T) {
	t.Parallel()

	u := &upstream{
		tweets: func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		},
		syndication: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"favorite_count": 1})
		},
	}
	srv := u.server(t)
	cfg := testConfig(srv.URL)
	cfg.RequestTimeout = 50 * time.Millisecond
	f := New(cfg, srv.Client(), testLogger())

	m, err := f.Fetch(context.Background(), testRef, Credentials{ProviderTwitterAPI: "k1"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if m.Likes != 1 {
		t.Fatalf("Likes = %d, want 1", m.Likes)
	}
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	u := &upstream{tweets: func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}}
	srv := u.server(t)
	cfg := Config{
		Providers:   []ProviderConfig{{Name: ProviderTwitterAPI, BaseURL: srv.URL}},
		Syndication: SyndicationConfig{Disabled: true},
		Circuit:     CircuitConfig{TripFailures: 2, BaseDelay: time.Minute},
	}
	f := New(cfg, srv.Client(), testLogger())
	creds := Credentials{ProviderTwitterAPI: "k1"}

	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), testRef, creds)
		if !errors.Is(err, ErrProviderUnavailable) {
			t.Fatalf("Fetch #%d error = %v, want ErrProviderUnavailable", i, err)
		}
	}
	if got := u.tweetHits.Load(); got != 2 {
		t.Fatalf("upstream hits = %d, want 2 (third call short-circuited)", got)
	}
	if f.OpenCircuits() != 1 {
		t.Fatalf("OpenCircuits() = %d, want 1", f.OpenCircuits())
	}
}

func TestCircuitIsPerCredential(t *testing.T) {
	t.Parallel()

	u := &upstream{tweets: func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "good" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		writeJSON(w, tweetsBody(1000, 50, 5, 5, 2, 3))
	}}
	srv := u.server(t)
	cfg := Config{
		Providers:   []ProviderConfig{{Name: ProviderTwitterAPI, BaseURL: srv.URL}},
		Syndication: SyndicationConfig{Disabled: true},
		Circuit:     CircuitConfig{TripFailures: 2, BaseDelay: time.Minute},
	}
	f := New(cfg, srv.Client(), testLogger())

	revoked := Credentials{ProviderTwitterAPI: "revoked-org-a"}
	for i := 0; i < 5; i++ {
		if _, err := f.Fetch(context.Background(), testRef, revoked); !errors.Is(err, ErrAllProvidersExhausted) {
			t.Fatalf("Fetch(revoked) #%d error = %v, want ErrAllProvidersExhausted", i, err)
		}
	}
	if got := u.tweetHits.Load(); got != 2 {
		t.Fatalf("upstream hits after revoked key = %d, want 2", got)
	}

	m, err := f.Fetch(context.Background(), testRef, Credentials{ProviderTwitterAPI: "good"})
	if err != nil {
		t.Fatalf("Fetch(good) error = %v", err)
	}
	if m.Likes != 50 {
		t.Fatalf("Likes = %d, want 50", m.Likes)
	}
	if got := u.tweetHits.Load(); got != 3 {
		t.Fatalf("upstream hits = %d, want 3", got)
	}
	if f.OpenCircuits() != 1 {
		t.Fatalf("OpenCircuits() = %d, want 1", f.OpenCircuits())
	}
}

func TestFetchApifyUsesURL(t *testing.T) {
	t.Parallel()

	var gotURL string
	u := &upstream{apify: func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/run-sync-get-dataset-items") || r.Header.Get("Authorization") != "Bearer ak" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		var in apifyInput
		_ = json.NewDecoder(r.Body).Decode(&in)
		if len(in.StartURLs) == 1 {
			gotURL = in.StartURLs[0]
		}
		writeJSON(w, []map[string]any{{"viewCount": 200, "likeCount": 10}})
	}}
	srv := u.server(t)
	cfg := Config{
		Providers:   []ProviderConfig{{Name: ProviderApify, BaseURL: srv.URL}},
		Syndication: SyndicationConfig{Disabled: true},
	}
	f := New(cfg, srv.Client(), testLogger())

	m, err := f.Fetch(context.Background(), testRef, Credentials{ProviderApify: "ak"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if gotURL != testRef.URL {
		t.Fatalf("startUrls = %q, want %q", gotURL, testRef.URL)
	}
	if m.EngagementRate != 5 {
		t.Fatalf("EngagementRate = %v, want 5", m.EngagementRate)
	}
}

func TestRunStopsAtFirstAcceptable(t *testing.T) {
	t.Parallel()

	var calls []string
	mk := func(name string, m model.Metrics, err error) Strategy {
		return NewStrategy(name, func(context.Context, PostRef) (model.Metrics, error) {
			calls = append(calls, name)
			return m, err
		})
	}
	chain := []Strategy{
		mk("a", model.Metrics{}, ErrProviderUnavailable),
		mk("b", model.Metrics{Bookmarks: 9}, nil),
		mk("c", model.Metrics{Replies: 1}, nil),
		mk("d", model.Metrics{Likes: 5}, nil),
	}
	m, used, err := Run(context.Background(), testRef, chain)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if used != "c" || m.Replies != 1 {
		t.Fatalf("Run() = %+v via %q, want replies=1 via c", m, used)
	}
	if strings.Join(calls, ",") != "a,b,c" {
		t.Fatalf("calls = %v, want a,b,c", calls)
	}
}

func TestRunCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Run(ctx, testRef, []Strategy{NewStrategy("a", func(context.Context, PostRef) (model.Metrics, error) {
		return model.Metrics{Likes: 1}, nil
	})})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}

func TestFetchEmptyRef(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil, testLogger())
	_, err := f.Fetch(context.Background(), PostRef{}, nil)
	if !errors.Is(err, ErrAllProvidersExhausted) {
		t.Fatalf("Fetch() error = %v, want ErrAllProvidersExhausted", err)
	}
}
