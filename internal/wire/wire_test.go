package wire

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func TestMetaHeaderRoundTrip(t *testing.T) {
	h := MetaHeader{Magic: Magic, Type: MetaTypeDI, Format: 1801}
	b := h.Encode()
	got, err := DecodeMetaHeader(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != h {
		t.Errorf("got %+v, want %+v", got, h)
	}
}

func TestDecodeMetaHeaderBadMagic(t *testing.T) {
	b := make([]byte, MetaHeaderSize)
	if _, err := DecodeMetaHeader(b); err == nil {
		t.Fatal("expected error for zeroed header")
	}
}

func TestSuperblockRoundTrip(t *testing.T) {
	want := &Superblock{
		Format:          1801,
		BlockSize:       4096,
		BlockSizeShift:  12,
		MultihostFormat: 1,
		LockProto:       "lock_dlm",
		LockTable:       "cluster:fs",
		UUID:            uuid.New(),
		MasterAddr:      23,
		MasterFormalIno: 2,
		RootAddr:        24,
		RootFormalIno:   3,
	}
	got, err := DecodeSuperblock(want.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.BlockSize != want.BlockSize || got.LockProto != want.LockProto ||
		got.LockTable != want.LockTable || got.UUID != want.UUID ||
		got.MasterAddr != want.MasterAddr || got.RootFormalIno != want.RootFormalIno {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
	if !got.ValidFormat() {
		t.Errorf("expected format %d to be valid", got.Format)
	}
}

func TestRewriteLockProtoForFsck(t *testing.T) {
	sb := &Superblock{LockProto: "lock_dlm"}
	sb.RewriteLockProtoForFsck()
	if sb.LockProto != "fsck_dlm" {
		t.Errorf("got %q, want fsck_dlm", sb.LockProto)
	}
	sb.RestoreLockProto()
	if sb.LockProto != "lock_dlm" {
		t.Errorf("got %q, want lock_dlm after restore", sb.LockProto)
	}
}

func TestDinodeRoundTrip(t *testing.T) {
	want := &Dinode{
		Type:      DinodeTypeDir,
		FormalIno: 42,
		Addr:      4096,
		Mode:      0o755,
		Nlink:     2,
		Size:      4096,
		Height:    1,
		Flags:     DinodeFlagExhash,
		Entries:   3,
	}
	b := want.Encode(4096)
	got, err := DecodeDinode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Addr != want.Addr || got.Type != want.Type || got.Nlink != want.Nlink ||
		got.Height != want.Height || !got.IsExhash() {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

func TestIndirectPointers(t *testing.T) {
	in := &Indirect{Pointers: []uint64{0, 100, 0, 200}}
	b := in.Encode(4096)
	got, err := DecodeIndirect(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Pointers) < 4 || got.Pointers[1] != 100 || got.Pointers[3] != 200 {
		t.Errorf("got pointers %v", got.Pointers[:4])
	}
}

func TestDirentRoundTrip(t *testing.T) {
	b := make([]byte, 64)
	d := Dirent{Offset: 0, TargetInum: 99, Hash: 0xdeadbeef, NameLen: 5, Type: DirentTypeFile, Name: "hello"}
	d.RecLen = DirentSize(len(d.Name))
	if err := d.Encode(b); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeDirent(b, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "hello" || got.TargetInum != 99 || got.Hash != 0xdeadbeef {
		t.Errorf("got %+v", got)
	}
}

func TestDirentSizePadding(t *testing.T) {
	if got := DirentSize(5); got != 32 {
		t.Errorf("DirentSize(5) = %d, want 32", got)
	}
	if got := DirentSize(8); got != 32 {
		t.Errorf("DirentSize(8) = %d, want 32", got)
	}
	if got := DirentSize(9); got != 40 {
		t.Errorf("DirentSize(9) = %d, want 40", got)
	}
}

func TestLogDescriptorMetadataRoundTrip(t *testing.T) {
	d := &LogDescriptor{
		Type: DescTypeMetadata,
		Pointers: []DescPointer{
			{TargetBlkno: 0x1000, SourceBlkno: 2},
			{TargetBlkno: 0x2000, SourceBlkno: 3},
		},
	}
	b := d.Encode(4096)
	got, err := DecodeLogDescriptor(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Pointers) != 2 || got.Pointers[0].TargetBlkno != 0x1000 || got.Pointers[1].SourceBlkno != 3 {
		t.Errorf("got %+v", got.Pointers)
	}
}

func TestLogDescriptorRevokeRoundTrip(t *testing.T) {
	d := &LogDescriptor{Type: DescTypeRevoke, Revokes: []uint64{10, 20, 30}}
	b := d.Encode(256)
	got, err := DecodeLogDescriptor(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(u64ToBytes(got.Revokes), u64ToBytes(d.Revokes)) {
		t.Errorf("got revokes %v, want %v", got.Revokes, d.Revokes)
	}
}

func u64ToBytes(v []uint64) []byte {
	b := make([]byte, 0, len(v)*8)
	for _, x := range v {
		b = append(b,
			byte(x>>56), byte(x>>48), byte(x>>40), byte(x>>32),
			byte(x>>24), byte(x>>16), byte(x>>8), byte(x))
	}
	return b
}

func TestLogHeaderClean(t *testing.T) {
	lh := &LogHeader{Flags: LogHeaderUnmount, Sequence: 7}
	b := lh.Encode(256)
	got, err := DecodeLogHeader(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.IsClean() || got.Sequence != 7 {
		t.Errorf("got %+v", got)
	}
}

func TestBitmapStateRoundTrip(t *testing.T) {
	bm := make([]byte, 4)
	states := []BitmapState{BitmapFree, BitmapUsed, BitmapUnlinked, BitmapDinode, BitmapFree, BitmapUsed, BitmapDinode, BitmapUnlinked}
	for i, s := range states {
		if err := SetBitmapState(bm, i, s); err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
	}
	for i, want := range states {
		got, err := GetBitmapState(bm, i)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if got != want {
			t.Errorf("index %d: got %s, want %s", i, got, want)
		}
	}
}

func TestEAEntryWithPointers(t *testing.T) {
	b := make([]byte, 64)
	b[8] = 4 // NameLen
	copy(b[16:20], "user")
	b[11] = 2 // NumPtrs
	binBigEndianPutUint64(b[20:28], 500)
	binBigEndianPutUint64(b[28:36], 600)
	e, err := DecodeEAEntry(b, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Name != "user" || len(e.Ptrs) != 2 || e.Ptrs[0] != 500 || e.Ptrs[1] != 600 {
		t.Errorf("got %+v", e)
	}
}

func binBigEndianPutUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v)
		v >>= 8
	}
}
