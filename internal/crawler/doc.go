// Package crawler defines the work items, fetch results and per-URL pipeline
// shared by every traversal strategy.
package crawler
