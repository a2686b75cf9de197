// Package telegram reads public channels through their web preview pages
// (https://t.me/s/<channel>).
//
// Posts are returned newest first. Each request is paced by a ratelimit.Limiter
// and network or server failures are retried with backoff. A 429 response is
// never retried here: it surfaces as a rate_limit error carrying the
// Retry-After wait, so the caller's backoff controller can suspend the whole
// channel scrape.
package telegram
