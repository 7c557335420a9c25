// Package leasevol manages a persistent, crash-resilient mapping from
// cluster-wide lease names to fixed-size storage offsets on a single raw
// volume shared by all hosts. Each offset hosts a lock resource owned by an
// external lock manager; this package decides where a named lease lives, not
// who holds it.
//
// A LeasesVolume serves lookup, add and remove against the on-storage index.
// FormatIndex initializes a fresh index and RebuildIndex reconciles the index
// against the lock manager's resource store after a crash or corruption.
// Mutating operations must only run on the cluster's single coordinator
// host; Lookup is safe anywhere.
package leasevol
