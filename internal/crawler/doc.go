// Package crawler implements the resumable harvesting pipeline: page window
// planning, polite pacing, and the engine that walks the listing newest page
// first, persisting deduplicated records and advancing the checkpoint only
// after a page has been fully processed.
package crawler
