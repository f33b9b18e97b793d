package writer

import (
	"bytes"
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"dtrsign/pdf/generic"
)

// ErrReservedSpaceExhausted reports a CMS blob larger than the space
// reserved for it.
var ErrReservedSpaceExhausted = errors.New("reserved signature space exhausted")

// ErrState reports an operation invoked out of order on the signing
// state machine.
var ErrState = errors.New("invalid signing state")

// DefaultReservedSize is the raw byte capacity reserved for the CMS
// container. Hex encoding doubles it on disk.
const DefaultReservedSize = 16384

// State tracks a revision through the signing state machine. Each state
// is carried by a distinct type, so transitions that skip a step do not
// compile; the enum exists for logging and introspection.
type State int

const (
	StateBase State = iota
	StatePlaceholderReserved
	StateDigested
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateBase:
		return "base"
	case StatePlaceholderReserved:
		return "placeholder-reserved"
	case StateDigested:
		return "digested"
	case StateFinalized:
		return "finalized"
	}
	return "unknown"
}

// SignatureParams configures the signature dictionary of a revision.
type SignatureParams struct {
	Name        string
	Reason      string
	Location    string
	ContactInfo string
	SigningTime time.Time
	// ReservedSize is the raw byte capacity for the CMS container;
	// DefaultReservedSize when zero.
	ReservedSize int
}

// State returns StateBase while the revision is being staged and
// StatePlaceholderReserved once Reserve has run.
func (u *Update) State() State {
	if u.done {
		return StatePlaceholderReserved
	}
	return StateBase
}

// PrepareSignature attaches a signature dictionary with placeholder
// Contents and ByteRange to the given field. Placeholders are expanded
// when the revision is reserved.
func (u *Update) PrepareSignature(field *generic.Dict, params SignatureParams) (*generic.Dict, error) {
	if u.sig != nil {
		return nil, fmt.Errorf("%w: signature already prepared for this revision", ErrState)
	}
	reserved := params.ReservedSize
	if reserved <= 0 {
		reserved = DefaultReservedSize
	}

	sig := generic.NewDict()
	sig.Set("Type", generic.Name("Sig"))
	sig.Set("Filter", generic.Name("Adobe.PPKLite"))
	sig.Set("SubFilter", generic.Name("adbe.pkcs7.detached"))
	// Placeholder values; serialized specially by Reserve.
	sig.Set("Contents", generic.NewHexString(nil))
	sig.Set("ByteRange", generic.Array{generic.Integer(0), generic.Integer(0), generic.Integer(0), generic.Integer(0)})
	if !params.SigningTime.IsZero() {
		sig.Set("M", generic.NewTextString(FormatDate(params.SigningTime)))
	}
	if params.Name != "" {
		sig.Set("Name", generic.NewTextString(params.Name))
	}
	if params.Reason != "" {
		sig.Set("Reason", generic.NewTextString(params.Reason))
	}
	if params.Location != "" {
		sig.Set("Location", generic.NewTextString(params.Location))
	}
	if params.ContactInfo != "" {
		sig.Set("ContactInfo", generic.NewTextString(params.ContactInfo))
	}

	sigRef := u.AddObject(sig)
	field.Set("V", sigRef)

	u.sig = u.staged[sigRef.Number]
	u.sigParams = params
	u.reserved = reserved
	return sig, nil
}

// Reserve serializes the staged revision after the original bytes, with
// a zero-filled hex placeholder where the CMS container will go and the
// ByteRange patched to its final value. The returned Reservation is
// immutable; signing continues on it.
func (u *Update) Reserve() (*Reservation, error) {
	if u.sig == nil {
		return nil, fmt.Errorf("%w: no signature prepared", ErrState)
	}
	if u.done {
		return nil, fmt.Errorf("%w: revision already reserved", ErrState)
	}
	u.done = true

	original := u.doc.Bytes()
	var buf bytes.Buffer
	buf.Grow(len(original) + 4096 + 2*u.reserved)
	buf.Write(original)
	if len(original) > 0 && original[len(original)-1] != '\n' {
		buf.WriteByte('\n')
	}

	offsets := make(map[int]int64, len(u.staged))
	var holeStart, holeEnd, byteRangeOff int64
	for _, num := range u.stagedNumbers() {
		ind := u.staged[num]
		offsets[num] = int64(buf.Len())
		if ind == u.sig {
			var err error
			holeStart, holeEnd, byteRangeOff, err = u.writeSignatureObject(&buf, ind)
			if err != nil {
				return nil, err
			}
		} else {
			if err := ind.Write(&buf); err != nil {
				return nil, err
			}
			buf.WriteByte('\n')
		}
	}

	xrefOffset := int64(buf.Len())
	u.writeXRef(&buf, offsets)
	if err := u.writeTrailer(&buf, xrefOffset); err != nil {
		return nil, err
	}

	data := buf.Bytes()
	total := int64(len(data))
	byteRange := [4]int64{0, holeStart, holeEnd, total - holeEnd}

	// Patch the ByteRange placeholder in place; the rendered form has
	// the same width.
	patched := fmt.Sprintf("[%010d %010d %010d %010d]",
		byteRange[0], byteRange[1], byteRange[2], byteRange[3])
	copy(data[byteRangeOff:], patched)

	return &Reservation{
		data:        data,
		byteRange:   byteRange,
		contentsOff: holeStart + 1,
		capacity:    u.reserved,
	}, nil
}

// writeSignatureObject serializes the signature dictionary, emitting the
// Contents hex hole and a fixed-width ByteRange placeholder, and returns
// the hole boundaries and the ByteRange offset.
func (u *Update) writeSignatureObject(buf *bytes.Buffer, ind *generic.Indirect) (holeStart, holeEnd, byteRangeOff int64, err error) {
	dict, ok := ind.Object.(*generic.Dict)
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: signature object is not a dictionary", ErrState)
	}
	fmt.Fprintf(buf, "%d %d obj\n<<", ind.Number, ind.Generation)
	for _, key := range dict.Keys() {
		if err := generic.Name(key).Write(buf); err != nil {
			return 0, 0, 0, err
		}
		buf.WriteByte(' ')
		switch key {
		case "Contents":
			holeStart = int64(buf.Len())
			buf.WriteByte('<')
			for i := 0; i < 2*u.reserved; i++ {
				buf.WriteByte('0')
			}
			buf.WriteByte('>')
			holeEnd = int64(buf.Len())
		case "ByteRange":
			byteRangeOff = int64(buf.Len())
			fmt.Fprintf(buf, "[%010d %010d %010d %010d]", 0, 0, 0, 0)
		default:
			if err := dict.Get(key).Write(buf); err != nil {
				return 0, 0, 0, err
			}
		}
		buf.WriteByte(' ')
	}
	buf.WriteString(">>\nendobj\n")
	return holeStart, holeEnd, byteRangeOff, nil
}

func (u *Update) writeXRef(buf *bytes.Buffer, offsets map[int]int64) {
	nums := u.sortedNumbers()
	buf.WriteString("xref\n0 1\n0000000000 65535 f \n")
	for i := 0; i < len(nums); {
		j := i
		for j+1 < len(nums) && nums[j+1] == nums[j]+1 {
			j++
		}
		fmt.Fprintf(buf, "%d %d\n", nums[i], j-i+1)
		for k := i; k <= j; k++ {
			fmt.Fprintf(buf, "%010d %05d n \n", offsets[nums[k]], u.staged[nums[k]].Generation)
		}
		i = j + 1
	}
}

func (u *Update) writeTrailer(buf *bytes.Buffer, xrefOffset int64) error {
	trailer := generic.NewDict()
	trailer.Set("Size", generic.Integer(u.nextNum))
	trailer.Set("Prev", generic.Integer(u.doc.LastXRefOffset()))
	trailer.Set("Root", u.rootRef)
	if ref, ok := u.doc.Trailer.GetReference("Info"); ok {
		trailer.Set("Info", ref)
	}
	trailer.Set("ID", u.revisionID())

	buf.WriteString("trailer\n")
	if err := trailer.Write(buf); err != nil {
		return err
	}
	fmt.Fprintf(buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	return nil
}

// revisionID keeps the document's first identifier and derives a fresh
// second one from the revision inputs, so identical inputs produce
// identical bytes.
func (u *Update) revisionID() generic.Array {
	var first *generic.String
	if idArr := u.doc.Trailer.GetArray("ID"); len(idArr) == 2 {
		if s, ok := idArr[0].(*generic.String); ok {
			first = generic.NewHexString(s.Value)
		}
	}
	second := generic.NewHexString(generic.ComputeFileID(
		strconv.Itoa(len(u.doc.Bytes())),
		FormatDate(u.sigParams.SigningTime),
		u.sigParams.Name,
	))
	if first == nil {
		first = second
	}
	return generic.Array{first, second}
}

// Reservation is a serialized revision with the signature hole reserved.
type Reservation struct {
	data        []byte
	byteRange   [4]int64
	contentsOff int64
	capacity    int
}

// State returns StatePlaceholderReserved.
func (r *Reservation) State() State { return StatePlaceholderReserved }

// Bytes returns the reserved revision bytes. The slice must not be
// modified.
func (r *Reservation) Bytes() []byte { return r.data }

// ByteRange returns the signed byte ranges as [start1 len1 start2 len2].
func (r *Reservation) ByteRange() [4]int64 { return r.byteRange }

// Capacity returns the raw byte capacity of the signature hole.
func (r *Reservation) Capacity() int { return r.capacity }

// SignedBytes concatenates the two covered ranges, the exact input to
// the digest.
func (r *Reservation) SignedBytes() []byte {
	out := make([]byte, 0, r.byteRange[1]+r.byteRange[3])
	out = append(out, r.data[r.byteRange[0]:r.byteRange[0]+r.byteRange[1]]...)
	out = append(out, r.data[r.byteRange[2]:r.byteRange[2]+r.byteRange[3]]...)
	return out
}

// Digest hashes the covered ranges and moves to the digested state.
func (r *Reservation) Digest(h crypto.Hash) (*Digested, error) {
	if !h.Available() {
		return nil, fmt.Errorf("%w: hash %v not linked in", ErrState, h)
	}
	hasher := h.New()
	hasher.Write(r.data[r.byteRange[0] : r.byteRange[0]+r.byteRange[1]])
	hasher.Write(r.data[r.byteRange[2] : r.byteRange[2]+r.byteRange[3]])
	return &Digested{res: r, hash: h, sum: hasher.Sum(nil)}, nil
}

// Digested is a reserved revision whose covered ranges have been hashed.
type Digested struct {
	res  *Reservation
	hash crypto.Hash
	sum  []byte
}

// State returns StateDigested.
func (d *Digested) State() State { return StateDigested }

// Sum returns the digest over the covered ranges.
func (d *Digested) Sum() []byte {
	out := make([]byte, len(d.sum))
	copy(out, d.sum)
	return out
}

// Hash returns the digest algorithm.
func (d *Digested) Hash() crypto.Hash { return d.hash }

// Finalize hex-encodes the CMS container into the reserved hole and
// returns the finished file. The output length always equals the
// reservation length; unused capacity stays zero-filled.
func (d *Digested) Finalize(cms []byte) ([]byte, error) {
	if len(cms) > d.res.capacity {
		return nil, fmt.Errorf("%w: container needs %d bytes, reserved %d",
			ErrReservedSpaceExhausted, len(cms), d.res.capacity)
	}
	out := make([]byte, len(d.res.data))
	copy(out, d.res.data)
	hex.Encode(out[d.res.contentsOff:], cms)
	return out, nil
}
