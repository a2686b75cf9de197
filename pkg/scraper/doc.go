// Package scraper fetches the last day of posts from each configured channel
// and persists them into a partition.
//
// Channels are scraped one after another over a single paced source. For each
// channel:
//   - posts are read newest first, up to MaxMessages
//   - posts older than the trailing window are skipped, iteration continues
//   - each photo is saved as <message_id>.jpg; a failed download keeps the
//     message with a null image_path
//   - the batch <channel>.json is written only when at least one post survived
//
// The whole per-channel scrape runs under a retry.Controller, so a rate-limit
// signal suspends for the mandated wait and re-runs the channel once. Any
// other failure is recorded against that channel alone.
package scraper
