package lattice

import "sort"

// Cursor.go implements the range cursor described in spec.md §4.4: a stack
// of (node, child-index, base-offset) frames giving amortized O(1) Next().
// Exposed in the idiomatic Go iterator shape (Next/Value/Err, bufio.Scanner
// style) rather than the teacher's slice-returning Range.go, since spec.md
// explicitly asks for a cursor and this is the natural Go rendering of one.

type cursorFrame struct {
	array *Array
	index int // for a leaf frame: next element to yield; for an interior frame: child currently descended into
}

// Cursor walks a tree's elements in position order over [start, end).
type Cursor struct {
	r      nodeReader
	signed bool
	frames []*cursorFrame
	pos    int
	end    int
	cur    int64
	err    error
}

// NewCursor
//	Opens a cursor over the full tree rooted at root.
func NewCursor(r nodeReader, root Ref, signed bool) (*Cursor, error) {
	total, err := TreeLen(r, root, signed)
	if err != nil {
		return nil, err
	}
	return NewRangeCursor(r, root, signed, 0, total)
}

// NewRangeCursor
//	Opens a cursor over [start, end) of the tree rooted at root.
func NewRangeCursor(r nodeReader, root Ref, signed bool, start, end int) (*Cursor, error) {
	c := &Cursor{r: r, signed: signed, pos: start, end: end}
	if start >= end {
		return c, nil
	}
	frames, err := seekFrames(r, root, start, signed)
	if err != nil {
		return nil, err
	}
	c.frames = frames
	return c, nil
}

// seekFrames builds the frame stack from root down to the leaf containing
// logical position target, with the leaf frame's index already positioned
// at target's offset within that leaf.
func seekFrames(r nodeReader, root Ref, target int, signed bool) ([]*cursorFrame, error) {
	var frames []*cursorFrame
	ref := root
	base := 0

	for {
		a, err := r.readArray(ref, signed)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return frames, nil
		}
		if !a.Interior {
			frames = append(frames, &cursorFrame{array: a, index: target - base})
			return frames, nil
		}

		offs, err := r.readArray(offsetsRefOf(a), false)
		if err != nil {
			return nil, err
		}
		k := sort.Search(offs.Len(), func(j int) bool {
			v, _ := offs.Get(j)
			return int(v) > target-base
		})
		frames = append(frames, &cursorFrame{array: a, index: k})

		if k > 0 {
			v, _ := offs.Get(k - 1)
			base += int(v)
		}
		ref = childRefAt(a, k)
	}
}

// Next advances the cursor, returning false once end is reached or an error
// occurs (inspect Err after a false return).
func (c *Cursor) Next() bool {
	if c.err != nil || c.pos >= c.end {
		return false
	}

	for len(c.frames) > 0 {
		top := c.frames[len(c.frames)-1]

		if !top.array.Interior {
			if top.index < top.array.Len() {
				v, err := top.array.Get(top.index)
				if err != nil {
					c.err = err
					return false
				}
				top.index++
				c.cur = v
				c.pos++
				return true
			}
			c.frames = c.frames[:len(c.frames)-1]
			continue
		}

		top.index++
		if top.index >= childCountOf(top.array) {
			c.frames = c.frames[:len(c.frames)-1]
			continue
		}

		childRef := childRefAt(top.array, top.index)
		a, err := c.r.readArray(childRef, c.signed)
		if err != nil {
			c.err = err
			return false
		}
		if a == nil {
			continue
		}
		idx := 0
		if a.Interior {
			idx = -1 // no child descended into yet; the next pass advances to child 0
		}
		c.frames = append(c.frames, &cursorFrame{array: a, index: idx})
	}

	return false
}

// Value returns the element most recently yielded by Next.
func (c *Cursor) Value() int64 { return c.cur }

// Err returns the first error encountered, if any.
func (c *Cursor) Err() error { return c.err }
