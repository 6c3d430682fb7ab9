// Package progress persists the per-domain crawl checkpoint: the visited URL
// set, the depth reached, and (for resumable runs) the pending frontier.
//
// All domains share one JSON document so external coverage tools can read a
// single file. Every save is a read-modify-write under one lock and replaces
// only the entry of the domain being saved; entries for other domains keep
// their content, including fields this package does not know about.
package progress
