// Package dirhash computes the exhash directory name hash used by
// spec.md §6 ("a fixed CRC-32-like polynomial over the name bytes; its
// output determines the upper bits of the hash-table index").
//
// The teacher's own retrieved ext4 packages (filesystem/ext4/crc and
// filesystem/ext4/md4) referenced by that package's journal and dirhash
// code were never present in the retrieval pack — only md4_test.go
// survived with no md4.go to test. Rather than fabricate either
// package, this hash is built on the standard library's built-in
// Castagnoli CRC-32 table (hash/crc32), which is the same polynomial
// family the spec describes and needs no invented dependency.
package dirhash

import "hash/crc32"

var table = crc32.MakeTable(crc32.Castagnoli)

// Name returns the directory-entry hash of name, as stored in a
// Dirent's Hash field and recomputed by Pass 2 to check it.
func Name(name []byte) uint32 {
	return crc32.Checksum(name, table)
}

// Slot returns the hash table index for a hash value at the given
// table depth (table has 2^depth entries); the upper depth bits of the
// hash select the slot, matching the exhash "upper bits" rule.
func Slot(hash uint32, depth uint32) uint32 {
	if depth == 0 {
		return 0
	}
	return hash >> (32 - depth)
}
