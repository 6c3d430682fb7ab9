// Package store defines the node repository contract shared by the crawl
// pipeline and the maintenance commands. Implementations live under
// internal/storage; this package must not import database drivers.
package store
