// Package fetcher retrieves engagement metrics for a published post.
//
// A fetch walks an ordered chain of strategies: the configured providers in
// priority order (skipped when no credential is present), then the public
// syndication endpoint variants. The first strategy whose result carries a
// non-zero impressions, likes, retweets or replies value wins; an all-zero
// result is inconclusive and advances the chain. When every strategy fails the
// caller gets a *FetchError, never a zero Metrics value.
//
// The package is stateless with respect to its caller. It only rate limits and
// circuit-breaks the upstream calls it issues itself.
package fetcher
