// Package storage reads and writes a partition's files.
//
// Every write goes through a temporary file and a rename, so a reader never
// observes a half-written image or batch. JSON batches are arrays indented
// with four spaces and written without HTML escaping.
//
//	p := partition.Today("data", loc)
//	m := storage.NewManager(p)
//	path, err := m.WriteMessages("CheMed123", msgs)
package storage
