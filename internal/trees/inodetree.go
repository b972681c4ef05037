package trees

// InodeInfo tracks, per dinode address, the on-disk link count and the
// number of references Pass 1 (and lost+found, for links it adds)
// actually observed pointing at it — the two numbers Pass 4 reconciles.
type InodeInfo struct {
	OnDiskNlink uint32
	Observed    uint32
	// HasEattr records whether the inode carries extended attributes, so
	// Pass 4 can attach a zero-reference inode to lost+found instead of
	// freeing it outright when it might be salvageable.
	HasEattr bool
}

// InodeTree maps a dinode address to its InodeInfo.
type InodeTree = OrderedMap[*InodeInfo]

// NewInodeTree creates an empty InodeTree.
func NewInodeTree() *InodeTree { return New[*InodeInfo]() }

// Observe increments the observed-reference count for addr, creating the
// entry if necessary.
func Observe(t *InodeTree, addr uint64) {
	info, ok := t.Find(addr)
	if !ok {
		info = &InodeInfo{}
		t.Insert(addr, info)
	}
	info.Observed++
}
