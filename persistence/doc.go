// Package persistence implements the matcher snapshot format.
//
// A snapshot is a 32-byte little-endian header followed by the payload:
//
//	offset  size  field
//	0       4     magic "IMGM"
//	4       2     format version
//	6       2     flags (reserved, zero)
//	8       8     codec name, zero padded
//	16      1     compression
//	17      3     padding
//	20      4     payload size
//	24      4     raw (uncompressed) size
//	28      4     CRC32C over header bytes 0..27 and the payload
//
// The payload is the codec-encoded State, optionally compressed with zstd or
// lz4. Compression is skipped when it saves less than 10%.
//
// SaveFile and LoadFile persist a single snapshot to the local filesystem.
// Store keeps versioned snapshots in a blobstore.BlobStore and publishes the
// latest one through a CURRENT pointer.
package persistence
