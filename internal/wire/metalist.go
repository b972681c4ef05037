package wire

// Indirect is a metadata header plus an array of 64-bit block pointers.
// An all-zero pointer is sparse (no block allocated for that slot).
type Indirect struct {
	Header   MetaHeader
	Pointers []uint64
}

// DecodeIndirect parses an indirect block.
func DecodeIndirect(b []byte) (*Indirect, error) {
	header, err := DecodeMetaHeader(b)
	if err != nil {
		return nil, err
	}
	return &Indirect{
		Header:   header,
		Pointers: ReadPointers(b, MetaHeaderSize),
	}, nil
}

// Encode serializes an indirect block into a blockSize-byte block.
func (in *Indirect) Encode(blockSize uint32) []byte {
	b := make([]byte, blockSize)
	copy(b[0:MetaHeaderSize], MetaHeader{Type: MetaTypeIN, Format: in.Header.Format}.Encode())
	PutPointers(b, MetaHeaderSize, in.Pointers)
	return b
}
