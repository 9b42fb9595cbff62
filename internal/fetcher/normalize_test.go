package fetcher

import (
	"strings"
	"testing"

	"kolpulse/internal/model"
	"kolpulse/pkg/logx"
)

func testLogger() logx.Logger { return logx.Nop() }

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   model.Metrics
		want model.Metrics
	}{
		{
			name: "literal",
			in:   model.Metrics{Impressions: 1000, Likes: 50, Retweets: 10, Replies: 5, Bookmarks: 2},
			want: model.Metrics{Impressions: 1000, Likes: 50, Retweets: 10, Replies: 5, Bookmarks: 2, EngagementRate: 6.5},
		},
		{
			name: "zero impressions",
			in:   model.Metrics{Likes: 12, EngagementRate: 99},
			want: model.Metrics{Likes: 12},
		},
		{
			name: "negatives clamp",
			in:   model.Metrics{Impressions: -5, Likes: -1, Quotes: 3},
			want: model.Metrics{Quotes: 3},
		},
		{
			name: "rounds to two decimals",
			in:   model.Metrics{Impressions: 3, Likes: 1},
			want: model.Metrics{Impressions: 3, Likes: 1, EngagementRate: 33.33},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Normalize(tc.in); got != tc.want {
				t.Fatalf("Normalize() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestAcceptable(t *testing.T) {
	t.Parallel()

	if Acceptable(model.Metrics{Quotes: 4, Bookmarks: 8}) {
		t.Fatal("quotes/bookmarks alone must not be accepted")
	}
	for _, m := range []model.Metrics{{Impressions: 1}, {Likes: 1}, {Retweets: 1}, {Replies: 1}} {
		if !Acceptable(m) {
			t.Fatalf("Acceptable(%+v) = false", m)
		}
	}
}

func TestPostRefID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ref  PostRef
		want string
	}{
		{PostRef{ExternalID: " 42 "}, "42"},
		{PostRef{URL: "https://x.com/bob/status/123?s=20"}, "123"},
		{PostRef{URL: "https://twitter.com/bob/statuses/456"}, "456"},
		{PostRef{URL: "https://x.com/bob"}, ""},
	}
	for _, tc := range tests {
		if got := tc.ref.ID(); got != tc.want {
			t.Fatalf("%+v.ID() = %q, want %q", tc.ref, got, tc.want)
		}
	}
	if got := (PostRef{ExternalID: "9"}).CanonicalURL(); got != "https://x.com/i/status/9" {
		t.Fatalf("CanonicalURL() = %q", got)
	}
}

func TestCredentialsMerge(t *testing.T) {
	t.Parallel()

	got := Credentials{"apify": "org"}.Merge(Credentials{"apify": "default", "twitterapi": "tw", "empty": " "})
	if got.Key("apify") != "org" || got.Key("twitterapi") != "tw" {
		t.Fatalf("Merge() = %v", got)
	}
	if got.Key("empty") != "" {
		t.Fatalf("blank fallback key should be dropped, got %q", got.Key("empty"))
	}
	if !got.Any() || (Credentials{}).Any() {
		t.Fatal("Any() mismatch")
	}
}

func TestSyndicationToken(t *testing.T) {
	t.Parallel()

	tok := syndicationToken("1790000000000000000")
	if tok == "" {
		t.Fatal("token is empty")
	}
	if strings.ContainsAny(tok, "0.") {
		t.Fatalf("token %q contains zeros or a radix point", tok)
	}
	if syndicationToken("not-a-number") != "" {
		t.Fatal("invalid id should yield empty token")
	}
}
