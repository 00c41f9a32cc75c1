package e2e

// e2e contains integration tests and utility code required to set up
// dependencies. The tests drive the application the way a user would: from a
// YAML config, through the storage backends and the HTTP server, to the
// rendered feed.
