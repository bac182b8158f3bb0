// Package memory provides in-memory repository implementations backed by
// maps and a mutex. They satisfy the same contracts as the postgres package
// and are used by tests and by local single-process runs.
package memory
