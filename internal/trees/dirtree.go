package trees

// DirInfo records, per directory inode address, the parent named by the
// directory's own ".." dirent (DotDotParent) and the parent it is
// attached under (TreeParent). TreeParent is set by Pass 3, which copies
// DotDotParent once the dotdot chain reaches a checked ancestor, and by
// lost+found when it links the directory in.
type DirInfo struct {
	DotDotParent  uint64
	TreeParent    uint64
	HasTreeParent bool
	Checked       bool
}

// DirTree maps a directory's dinode address to its DirInfo.
type DirTree = OrderedMap[*DirInfo]

// NewDirTree creates an empty DirTree.
func NewDirTree() *DirTree { return New[*DirInfo]() }

// Ensure returns the DirInfo for addr, creating it if absent.
func Ensure(t *DirTree, addr uint64) *DirInfo {
	info, ok := t.Find(addr)
	if !ok {
		info = &DirInfo{}
		t.Insert(addr, info)
	}
	return info
}
