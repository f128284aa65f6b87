// Package crawler holds the shared domain model (product records, change sets,
// crawl requests) and the collaborator interfaces every other package programs
// against: page acquisition, key/value snapshots, the work queue, blob storage,
// HTTP delivery and record output.
package crawler
