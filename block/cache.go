package block

// Cache is a single-slot write-back block cache. It holds at most one block
// plus its index and a dirty flag. This is a correctness requirement for the
// FAT engine above (contiguous FAT reads and directory scans rely on it
// hitting), not merely a performance optimisation — a larger cache is an
// explicit non-goal.
type Cache struct {
	dev   Device
	valid bool
	dirty bool
	idx   Idx
	data  Block
}

// NewCache wraps dev with a single-block write-back cache.
func NewCache(dev Device) *Cache {
	return &Cache{dev: dev}
}

// Read returns the contents of block idx, either from the cache or by
// writing back the current dirty slot (if any) and reading from the
// device.
func (c *Cache) Read(idx Idx, reason string) (*Block, error) {
	if c.valid && c.idx == idx {
		return &c.data, nil
	}
	if err := c.WriteBack(); err != nil {
		return nil, err
	}
	buf := [1]Block{}
	if err := c.dev.Read(buf[:], idx, reason); err != nil {
		return nil, err
	}
	c.data = buf[0]
	c.idx = idx
	c.valid = true
	c.dirty = false
	return &c.data, nil
}

// BlankMut returns a zeroed block slot for idx, marked dirty, without
// reading the old contents from the device. Any previously dirty slot is
// flushed first. Used when a caller is about to overwrite every byte of the
// block (e.g. zero-filling a freshly allocated cluster).
func (c *Cache) BlankMut(idx Idx) (*Block, error) {
	if c.valid && c.idx == idx {
		c.data = Block{}
		c.dirty = true
		return &c.data, nil
	}
	if err := c.WriteBack(); err != nil {
		return nil, err
	}
	c.data = Block{}
	c.idx = idx
	c.valid = true
	c.dirty = true
	return &c.data, nil
}

// Mut returns a mutable view of block idx (loading it first if necessary)
// and marks it dirty. Callers write through the returned pointer and must
// eventually call WriteBack (directly or via a later cache operation) for
// the change to reach the device.
func (c *Cache) Mut(idx Idx, reason string) (*Block, error) {
	blk, err := c.Read(idx, reason)
	if err != nil {
		return nil, err
	}
	c.dirty = true
	return blk, nil
}

// WriteBack flushes the cached block to the device if it is dirty.
func (c *Cache) WriteBack() error {
	if !c.valid || !c.dirty {
		return nil
	}
	if err := c.dev.Write([]Block{c.data}, c.idx); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// Invalidate discards the cached slot without writing it back. Used when
// the caller knows the underlying device contents changed out from under
// the cache (e.g. after formatting).
func (c *Cache) Invalidate() {
	c.valid = false
	c.dirty = false
}

// Device returns the underlying block device the cache wraps.
func (c *Cache) Device() Device {
	return c.dev
}
