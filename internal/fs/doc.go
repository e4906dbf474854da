// Package fs abstracts the file operations used to write snapshot files, so
// tests can inject faults into an atomic save.
//
//   - [LocalFS]: production implementation on top of the os package
//   - [FaultyFS]: wraps another FileSystem and fails writes, syncs, closes
//     or renames for files matching a pattern
package fs
