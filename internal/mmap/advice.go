package mmap

// AccessPattern hints to the kernel how mapped memory will be accessed.
type AccessPattern int

const (
	// AccessDefault gives no specific advice.
	AccessDefault AccessPattern = iota

	// AccessSequential expects a front-to-back pass, such as streaming a
	// savestate blob through a decoder.
	AccessSequential

	// AccessRandom expects scattered reads, such as ranged blob access.
	AccessRandom

	// AccessWillNeed expects the range to be touched soon and asks the
	// kernel to prefetch it.
	AccessWillNeed

	// AccessDontNeed declares the range's content dead so the kernel may
	// reclaim the backing pages. Freed device-memory extents use this.
	AccessDontNeed
)
