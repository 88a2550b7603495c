package lattice

import (
	"encoding/binary"
	"sort"
)

// validWidths enumerates the power-of-two bit widths an Array payload may
// use (spec.md §3's node header "width in bits per element" enum).
var validWidths = [...]uint8{0, 1, 2, 4, 8, 16, 32, 64}

// Array is the universal bounded-fan-out node described in spec.md §4.3: the
// packed payload backing both leaves and interior nodes of every tree in the
// database. It is decoded fully into Go-native values on read and
// re-encoded (at the minimum sufficient width) on write — every mutation
// therefore produces a fresh byte image, which is exactly the shape
// copy-on-write needs: callers allocate a new Ref for the encoded bytes
// rather than mutating shared, possibly-still-visible storage in place.
type Array struct {
	// Interior marks this node as a B+-tree interior node (children are
	// themselves node Refs) rather than a leaf.
	Interior bool
	// HasRefs marks payload elements as themselves being Refs.
	HasRefs bool
	// Context is the free bit spec.md §3 reserves for C4 to mark index
	// roots.
	Context bool
	// Signed controls sign-extension on Get; irrelevant when HasRefs.
	Signed bool

	// Elems holds the raw bit pattern of each element, each element using
	// no more than 64 bits. For HasRefs arrays these are Ref values; for
	// Signed arrays Get returns the sign-extended int64.
	Elems []uint64
}

// NewArray
//	Builds an empty array node of the given shape.
func NewArray(interior, hasRefs, signed bool) *Array {
	return &Array{Interior: interior, HasRefs: hasRefs, Signed: signed}
}

// Len returns the element count.
func (a *Array) Len() int { return len(a.Elems) }

// Get
//	Returns the signed, sign-extended value of element i.
func (a *Array) Get(i int) (int64, error) {
	if i < 0 || i >= len(a.Elems) {
		return 0, ErrIndexOutOfRange
	}
	if !a.Signed || a.HasRefs {
		return int64(a.Elems[i]), nil
	}
	return signExtend(a.Elems[i], a.minWidth()), nil
}

// GetRef returns element i interpreted as a Ref (valid only on HasRefs
// arrays).
func (a *Array) GetRef(i int) (Ref, error) {
	if i < 0 || i >= len(a.Elems) {
		return NullRef, ErrIndexOutOfRange
	}
	return Ref(a.Elems[i]), nil
}

// Set overwrites element i.
func (a *Array) Set(i int, v int64) error {
	if i < 0 || i >= len(a.Elems) {
		return ErrIndexOutOfRange
	}
	a.Elems[i] = uint64(v)
	return nil
}

// SetRef overwrites element i with a Ref value.
func (a *Array) SetRef(i int, v Ref) error {
	if i < 0 || i >= len(a.Elems) {
		return ErrIndexOutOfRange
	}
	a.Elems[i] = uint64(v)
	return nil
}

// Insert inserts v at position i, shifting the tail right by one.
func (a *Array) Insert(i int, v int64) error {
	if i < 0 || i > len(a.Elems) {
		return ErrIndexOutOfRange
	}
	a.Elems = append(a.Elems, 0)
	copy(a.Elems[i+1:], a.Elems[i:len(a.Elems)-1])
	a.Elems[i] = uint64(v)
	return nil
}

// InsertRef inserts a Ref value at position i.
func (a *Array) InsertRef(i int, v Ref) error {
	return a.Insert(i, int64(v))
}

// Erase removes the element at position i.
func (a *Array) Erase(i int) error {
	if i < 0 || i >= len(a.Elems) {
		return ErrIndexOutOfRange
	}
	a.Elems = append(a.Elems[:i], a.Elems[i+1:]...)
	return nil
}

// Truncate keeps only the first n elements.
func (a *Array) Truncate(n int) error {
	if n < 0 || n > len(a.Elems) {
		return ErrIndexOutOfRange
	}
	a.Elems = a.Elems[:n]
	return nil
}

// LowerBound returns the index of the first element >= v in a sorted array,
// or Len() if none (spec.md §4.3/§8).
func (a *Array) LowerBound(v int64) int {
	return sort.Search(len(a.Elems), func(i int) bool {
		cur, _ := a.Get(i)
		return cur >= v
	})
}

// UpperBound returns the index of the first element > v in a sorted array,
// or Len() if none.
func (a *Array) UpperBound(v int64) int {
	return sort.Search(len(a.Elems), func(i int) bool {
		cur, _ := a.Get(i)
		return cur > v
	})
}

// FindFirst linearly scans [begin, end) for the first element equal to v.
func (a *Array) FindFirst(v int64, begin, end int) (int, bool) {
	if end > len(a.Elems) {
		end = len(a.Elems)
	}
	for i := begin; i < end; i++ {
		cur, _ := a.Get(i)
		if cur == v {
			return i, true
		}
	}
	return 0, false
}

// FindAll appends every index in [begin, end) whose element equals v to sink,
// returning the extended slice.
func (a *Array) FindAll(sink []int, v int64, begin, end int) []int {
	if end > len(a.Elems) {
		end = len(a.Elems)
	}
	for i := begin; i < end; i++ {
		cur, _ := a.Get(i)
		if cur == v {
			sink = append(sink, i)
		}
	}
	return sink
}

// Clone
//	Returns a shallow structural copy: same flags and element values,
//	independent backing slice. Used by copy-on-write mutation paths (the
//	caller allocates a fresh Ref for the clone rather than touching the
//	original's bytes).
func (a *Array) Clone() *Array {
	c := &Array{Interior: a.Interior, HasRefs: a.HasRefs, Context: a.Context, Signed: a.Signed}
	c.Elems = make([]uint64, len(a.Elems))
	copy(c.Elems, a.Elems)
	return c
}

// minWidth returns the minimum power-of-two width (spec.md §3's enum)
// sufficient to hold every element currently stored, honoring Signed
// two's-complement range when applicable. Width 0 is the degenerate
// all-zero case (spec.md §9 Open Question, resolved in SPEC_FULL.md).
func (a *Array) minWidth() uint8 {
	if len(a.Elems) == 0 {
		return 0
	}

	allZero := true
	for _, e := range a.Elems {
		if e != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return 0
	}

	var need uint8 = 1
	for _, raw := range a.Elems {
		w := bitsNeeded(raw, a.Signed && !a.HasRefs)
		if w > need {
			need = w
		}
	}
	return roundWidth(need)
}

func bitsNeeded(raw uint64, signed bool) uint8 {
	if !signed {
		for _, w := range validWidths[1:] {
			if w == 64 {
				return 64
			}
			if raw < (uint64(1) << w) {
				return w
			}
		}
		return 64
	}

	v := int64(raw)
	for _, w := range validWidths[1:] {
		if w == 64 {
			return 64
		}
		min := -(int64(1) << (w - 1))
		max := (int64(1) << (w - 1)) - 1
		if v >= min && v <= max {
			return w
		}
	}
	return 64
}

func roundWidth(w uint8) uint8 {
	for _, valid := range validWidths {
		if valid >= w {
			return valid
		}
	}
	return 64
}

func signExtend(raw uint64, width uint8) int64 {
	if width == 0 || width == 64 {
		return int64(raw)
	}
	shift := 64 - width
	return int64(raw<<shift) >> shift
}

// ==================================== Encode / decode (spec.md §6, bit-exact node header) ====================================

func widthCode(w uint8) uint64 {
	switch w {
	case 0:
		return 0
	case 1:
		return 1
	case 2:
		return 2
	case 4:
		return 3
	case 8:
		return 4
	case 16:
		return 5
	case 32:
		return 6
	case 64:
		return 7
	default:
		return 7
	}
}

func widthFromCode(c uint64) uint8 {
	switch c {
	case 0:
		return 0
	case 1:
		return 1
	case 2:
		return 2
	case 3:
		return 4
	case 4:
		return 8
	case 5:
		return 16
	case 6:
		return 32
	default:
		return 64
	}
}

// Encode
//	Serializes the array into a byte image including its 8-byte node header,
//	per spec.md §6's bit-exact layout. The image's total length, rounded up
//	to 8, is the node's byte capacity.
func (a *Array) Encode() []byte {
	width := a.minWidth()
	count := len(a.Elems)

	bitsUsed := count * int(width)
	payloadBytes := (bitsUsed + 7) / 8
	total := nodeHeaderSize + payloadBytes
	total = (total + 7) &^ 7

	buf := make([]byte, total)

	var h uint64
	if a.Interior {
		h |= 1 << headerInteriorBit
	}
	h |= widthCode(width) << headerWidthShift
	if a.HasRefs {
		h |= 1 << headerHasRefsBit
	}
	if a.Context {
		h |= 1 << headerContextBit
	}
	h |= (uint64(count) & headerCountMask) << headerCountShift
	h |= (uint64(total/8) & headerCapacityMask)

	binary.LittleEndian.PutUint64(buf[0:8], h)

	if width > 0 {
		packInto(buf[nodeHeaderSize:], a.Elems, width)
	}

	return buf
}

func packInto(dst []byte, elems []uint64, width uint8) {
	if width == 64 {
		for i, e := range elems {
			binary.LittleEndian.PutUint64(dst[i*8:i*8+8], e)
		}
		return
	}

	var bitPos uint64
	mask := uint64(1)<<width - 1
	for _, e := range elems {
		v := e & mask
		byteIdx := bitPos / 8
		bitOff := bitPos % 8

		remaining := int(width)
		shift := bitOff
		for remaining > 0 {
			space := 8 - int(shift)
			take := remaining
			if take > space {
				take = space
			}
			chunk := byte((v & ((uint64(1) << take) - 1)) << shift)
			dst[byteIdx] |= chunk
			v >>= uint64(take)
			remaining -= take
			byteIdx++
			shift = 0
		}
		bitPos += uint64(width)
	}
}

func unpackFrom(src []byte, count int, width uint8) []uint64 {
	elems := make([]uint64, count)
	if width == 0 || count == 0 {
		return elems
	}
	if width == 64 {
		for i := range elems {
			elems[i] = binary.LittleEndian.Uint64(src[i*8 : i*8+8])
		}
		return elems
	}

	var bitPos uint64
	mask := uint64(1)<<width - 1
	for i := range elems {
		byteIdx := bitPos / 8
		bitOff := bitPos % 8

		var v uint64
		var gotBits uint
		remaining := int(width)
		shift := bitOff
		for remaining > 0 {
			space := 8 - int(shift)
			take := remaining
			if take > space {
				take = space
			}
			chunk := (uint64(src[byteIdx]) >> shift) & ((uint64(1) << take) - 1)
			v |= chunk << gotBits
			gotBits += uint(take)
			remaining -= take
			byteIdx++
			shift = 0
		}
		elems[i] = v & mask
		bitPos += uint64(width)
	}
	return elems
}

// DecodeNodeHeader
//	Validates and decodes the 8-byte node header at the start of raw, per
//	spec.md §6.
func DecodeNodeHeader(raw []byte) (interior bool, width uint8, hasRefs, context bool, count int, byteCap uint64, err error) {
	if len(raw) < nodeHeaderSize {
		return false, 0, false, false, 0, 0, ErrCorruptHeader
	}

	h := binary.LittleEndian.Uint64(raw[0:8])

	interior = h&(1<<headerInteriorBit) != 0
	width = widthFromCode((h >> headerWidthShift) & headerWidthMask)
	hasRefs = h&(1<<headerHasRefsBit) != 0
	context = h&(1<<headerContextBit) != 0
	count = int((h >> headerCountShift) & headerCountMask)
	byteCap = (h & headerCapacityMask) * 8

	if byteCap < nodeHeaderSize {
		return false, 0, false, false, 0, 0, ErrCorruptHeader
	}
	bitsUsed := uint64(count) * uint64(width)
	if bitsUsed > 8*(byteCap-nodeHeaderSize) {
		return false, 0, false, false, 0, 0, ErrCorruptHeader
	}

	return interior, width, hasRefs, context, count, byteCap, nil
}

// DecodeArray decodes a full array node (header + payload) from raw.
func DecodeArray(raw []byte, signed bool) (*Array, error) {
	a := &Array{}
	if err := decodeArrayInto(a, raw, signed); err != nil {
		return nil, err
	}
	return a, nil
}

// decodeArrayInto decodes raw into the given Array in place, letting callers
// recycle a pooled Array instead of allocating a fresh one per read.
func decodeArrayInto(a *Array, raw []byte, signed bool) error {
	interior, width, hasRefs, context, count, byteCap, err := DecodeNodeHeader(raw)
	if err != nil {
		return err
	}
	if uint64(len(raw)) < byteCap {
		return ErrCorruptHeader
	}

	a.Interior, a.HasRefs, a.Context = interior, hasRefs, context
	a.Signed = signed && !hasRefs
	a.Elems = unpackFrom(raw[nodeHeaderSize:byteCap], count, width)
	if a.Signed {
		for i, raw := range a.Elems {
			a.Elems[i] = uint64(signExtend(raw, width))
		}
	}
	return nil
}
