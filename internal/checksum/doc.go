// Package checksum provides the CRC32-Castagnoli helpers used for snapshot
// integrity and algorithm identifiers.
//
// Go's hash/crc32 uses the SSE4.2 and ARM CRC instructions for the
// Castagnoli polynomial when available, so no table is rebuilt per call.
//
//	sum := checksum.CRC32C(payload)
//
//	h := checksum.NewCRC32C()
//	h.Write(chunk1)
//	h.Write(chunk2)
//	sum = h.Sum32()
package checksum
