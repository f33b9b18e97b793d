// Package reader parses existing PDF documents: header, cross reference
// chains (tables and streams), the page tree, interactive form fields and
// embedded signatures. Parsed documents are the input to incremental
// updates, so the original bytes are retained untouched.
package reader

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"dtrsign/pdf/generic"
)

// ErrDocumentStructure reports a document whose cross reference data,
// trailer or page tree cannot be understood.
var ErrDocumentStructure = errors.New("malformed document structure")

var headerPattern = regexp.MustCompile(`%PDF-(\d+\.\d+)`)

// XRefEntry locates one object, either directly in the file or inside an
// object stream.
type XRefEntry struct {
	Offset         int64
	Generation     int
	Free           bool
	InObjectStream bool
	StreamNumber   int
	StreamIndex    int
}

// Page is a leaf of the page tree together with its object number.
type Page struct {
	Ref  generic.Reference
	Dict *generic.Dict
}

// MediaBox returns the page's media box. Pages relying on an inherited
// box that was not resolved fall back to US Letter.
func (p Page) MediaBox() generic.Rect {
	if r, ok := generic.RectFromArray(p.Dict.GetArray("MediaBox")); ok {
		return r
	}
	return generic.Rect{LLX: 0, LLY: 0, URX: 612, URY: 792}
}

// Document is a parsed PDF file.
type Document struct {
	data []byte

	Version     string
	Trailer     *generic.Dict
	XRef        map[int]*XRefEntry
	XRefOffsets []int64
	Root        *generic.Dict
	AcroForm    *generic.Dict

	pages   []Page
	objects map[int]generic.Object
	maxObj  int
}

// Parse reads a complete PDF from data.
func Parse(data []byte) (*Document, error) {
	d := &Document{
		data:    data,
		XRef:    make(map[int]*XRefEntry),
		objects: make(map[int]generic.Object),
	}
	if err := d.parseHeader(); err != nil {
		return nil, err
	}
	if err := d.parseXRefChain(); err != nil {
		return nil, err
	}
	if err := d.loadStructure(); err != nil {
		return nil, err
	}
	return d, nil
}

// Bytes returns the original file bytes.
func (d *Document) Bytes() []byte { return d.data }

// NumPages returns the page count.
func (d *Document) NumPages() int { return len(d.pages) }

// Page returns the zero-based i-th page.
func (d *Document) Page(i int) (Page, error) {
	if i < 0 || i >= len(d.pages) {
		return Page{}, fmt.Errorf("%w: page %d of %d", ErrDocumentStructure, i, len(d.pages))
	}
	return d.pages[i], nil
}

// MaxObjectNumber returns the highest object number seen in the xref.
func (d *Document) MaxObjectNumber() int { return d.maxObj }

// LastXRefOffset returns the offset of the most recent xref section, the
// value an incremental update records as Prev.
func (d *Document) LastXRefOffset() int64 {
	if len(d.XRefOffsets) == 0 {
		return 0
	}
	return d.XRefOffsets[0]
}

func (d *Document) parseHeader() error {
	limit := len(d.data)
	if limit > 1024 {
		limit = 1024
	}
	m := headerPattern.FindSubmatch(d.data[:limit])
	if m == nil {
		return fmt.Errorf("%w: missing PDF header", ErrDocumentStructure)
	}
	d.Version = string(m[1])
	return nil
}

func (d *Document) parseXRefChain() error {
	tail := d.data
	if len(tail) > 2048 {
		tail = tail[len(tail)-2048:]
	}
	idx := bytes.LastIndex(tail, []byte("startxref"))
	if idx < 0 {
		return fmt.Errorf("%w: missing startxref", ErrDocumentStructure)
	}
	p := generic.NewParser(d.data)
	if err := p.Seek(int64(len(d.data) - len(tail) + idx + len("startxref"))); err != nil {
		return err
	}
	p.SkipWhitespace()
	obj, err := p.ParseObject()
	if err != nil {
		return fmt.Errorf("%w: bad startxref value: %v", ErrDocumentStructure, err)
	}
	offset, ok := obj.(generic.Integer)
	if !ok {
		return fmt.Errorf("%w: startxref is not an integer", ErrDocumentStructure)
	}

	seen := make(map[int64]bool)
	next := int64(offset)
	for next >= 0 {
		if seen[next] || next >= int64(len(d.data)) {
			return fmt.Errorf("%w: broken xref chain at offset %d", ErrDocumentStructure, next)
		}
		seen[next] = true
		d.XRefOffsets = append(d.XRefOffsets, next)

		trailer, prev, err := d.parseXRefSection(next)
		if err != nil {
			return err
		}
		if d.Trailer == nil {
			d.Trailer = trailer
		}
		next = prev
	}
	if d.Trailer == nil {
		return fmt.Errorf("%w: no trailer found", ErrDocumentStructure)
	}
	return nil
}

// parseXRefSection reads one xref table or stream at offset, returning
// its trailer dictionary and the Prev offset (-1 when the chain ends).
func (d *Document) parseXRefSection(offset int64) (*generic.Dict, int64, error) {
	p := generic.NewParser(d.data)
	if err := p.Seek(offset); err != nil {
		return nil, 0, err
	}
	p.SkipWhitespace()

	if bytes.HasPrefix(d.data[p.Pos():], []byte("xref")) {
		return d.parseXRefTable(p)
	}
	return d.parseXRefStream(p)
}

func (d *Document) parseXRefTable(p *generic.Parser) (*generic.Dict, int64, error) {
	if err := p.Seek(p.Pos() + 4); err != nil { // consume "xref"
		return nil, 0, err
	}
	for {
		p.SkipWhitespace()
		if bytes.HasPrefix(d.data[p.Pos():], []byte("trailer")) {
			break
		}
		start, count, err := parseSubsectionHeader(p)
		if err != nil {
			return nil, 0, err
		}
		for i := 0; i < count; i++ {
			p.SkipWhitespace()
			pos := int(p.Pos())
			if pos+18 > len(d.data) {
				return nil, 0, fmt.Errorf("%w: truncated xref entry", ErrDocumentStructure)
			}
			entry := d.data[pos : pos+18]
			off, err1 := strconv.ParseInt(string(entry[0:10]), 10, 64)
			gen, err2 := strconv.Atoi(string(entry[11:16]))
			kind := entry[17]
			if err1 != nil || err2 != nil || (kind != 'n' && kind != 'f') {
				return nil, 0, fmt.Errorf("%w: bad xref entry %q", ErrDocumentStructure, entry)
			}
			d.recordEntry(start+i, &XRefEntry{Offset: off, Generation: gen, Free: kind == 'f'})
			if err := p.Seek(int64(pos + 18)); err != nil {
				return nil, 0, err
			}
		}
	}
	if err := p.Seek(p.Pos() + int64(len("trailer"))); err != nil {
		return nil, 0, err
	}
	obj, err := p.ParseObjectOrRef()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: bad trailer: %v", ErrDocumentStructure, err)
	}
	trailer, ok := obj.(*generic.Dict)
	if !ok {
		return nil, 0, fmt.Errorf("%w: trailer is not a dictionary", ErrDocumentStructure)
	}

	// Hybrid files carry a parallel xref stream for the same revision.
	if stm, ok := trailer.GetInt("XRefStm"); ok {
		sp := generic.NewParser(d.data)
		if err := sp.Seek(stm); err == nil {
			d.parseXRefStream(sp)
		}
	}

	prev := int64(-1)
	if v, ok := trailer.GetInt("Prev"); ok {
		prev = v
	}
	return trailer, prev, nil
}

func parseSubsectionHeader(p *generic.Parser) (int, int, error) {
	a, err := p.ParseObject()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad xref subsection: %v", ErrDocumentStructure, err)
	}
	p.SkipWhitespace()
	b, err := p.ParseObject()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad xref subsection: %v", ErrDocumentStructure, err)
	}
	start, ok1 := a.(generic.Integer)
	count, ok2 := b.(generic.Integer)
	if !ok1 || !ok2 || start < 0 || count < 0 {
		return 0, 0, fmt.Errorf("%w: bad xref subsection header", ErrDocumentStructure)
	}
	return int(start), int(count), nil
}

func (d *Document) parseXRefStream(p *generic.Parser) (*generic.Dict, int64, error) {
	ind, err := p.ParseIndirect()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: bad xref stream object: %v", ErrDocumentStructure, err)
	}
	stream, ok := ind.Object.(*generic.Stream)
	if !ok || stream.Dict.GetName("Type") != "XRef" {
		return nil, 0, fmt.Errorf("%w: object at xref offset is not an XRef stream", ErrDocumentStructure)
	}
	dict := stream.Dict

	wArr := dict.GetArray("W")
	if len(wArr) < 3 {
		return nil, 0, fmt.Errorf("%w: XRef stream missing W", ErrDocumentStructure)
	}
	var w [3]int
	for i := 0; i < 3; i++ {
		n, ok := wArr[i].(generic.Integer)
		if !ok {
			return nil, 0, fmt.Errorf("%w: bad W entry", ErrDocumentStructure)
		}
		w[i] = int(n)
	}
	rowLen := w[0] + w[1] + w[2]
	if rowLen == 0 {
		return nil, 0, fmt.Errorf("%w: zero-width XRef rows", ErrDocumentStructure)
	}

	size, _ := dict.GetInt("Size")
	index := dict.GetArray("Index")
	if index == nil {
		index = generic.Array{generic.Integer(0), generic.Integer(size)}
	}

	data, err := d.DecodedStream(stream)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: XRef stream decode: %v", ErrDocumentStructure, err)
	}

	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		start, ok1 := index[i].(generic.Integer)
		count, ok2 := index[i+1].(generic.Integer)
		if !ok1 || !ok2 {
			return nil, 0, fmt.Errorf("%w: bad Index array", ErrDocumentStructure)
		}
		for j := 0; j < int(count); j++ {
			if pos+rowLen > len(data) {
				return nil, 0, fmt.Errorf("%w: truncated XRef stream", ErrDocumentStructure)
			}
			f0 := readField(data[pos:pos+w[0]], 1) // type defaults to 1
			f1 := readField(data[pos+w[0]:pos+w[0]+w[1]], 0)
			f2 := readField(data[pos+w[0]+w[1]:pos+rowLen], 0)
			pos += rowLen

			num := int(start) + j
			switch f0 {
			case 0:
				d.recordEntry(num, &XRefEntry{Free: true, Generation: int(f2)})
			case 1:
				d.recordEntry(num, &XRefEntry{Offset: f1, Generation: int(f2)})
			case 2:
				d.recordEntry(num, &XRefEntry{
					InObjectStream: true,
					StreamNumber:   int(f1),
					StreamIndex:    int(f2),
				})
			}
		}
	}

	prev := int64(-1)
	if v, ok := dict.GetInt("Prev"); ok {
		prev = v
	}
	return dict, prev, nil
}

func readField(b []byte, def int64) int64 {
	if len(b) == 0 {
		return def
	}
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

// recordEntry stores an entry unless a newer revision already claimed
// the object number. The chain is walked newest first.
func (d *Document) recordEntry(num int, e *XRefEntry) {
	if _, ok := d.XRef[num]; ok {
		return
	}
	d.XRef[num] = e
	if num > d.maxObj {
		d.maxObj = num
	}
}

func (d *Document) loadStructure() error {
	rootRef, ok := d.Trailer.GetReference("Root")
	if !ok {
		return fmt.Errorf("%w: trailer has no Root", ErrDocumentStructure)
	}
	root, err := d.GetDict(rootRef.Number)
	if err != nil {
		return fmt.Errorf("%w: catalog: %v", ErrDocumentStructure, err)
	}
	d.Root = root

	if pagesRef, ok := root.GetReference("Pages"); ok {
		if err := d.walkPageTree(pagesRef, 0); err != nil {
			return err
		}
	}

	if afObj := root.Get("AcroForm"); afObj != nil {
		resolved, err := d.Resolve(afObj)
		if err == nil {
			if af, ok := resolved.(*generic.Dict); ok {
				d.AcroForm = af
			}
		}
	}
	return nil
}

func (d *Document) walkPageTree(ref generic.Reference, depth int) error {
	if depth > 64 {
		return fmt.Errorf("%w: page tree too deep", ErrDocumentStructure)
	}
	node, err := d.GetDict(ref.Number)
	if err != nil {
		return fmt.Errorf("%w: page tree node %d: %v", ErrDocumentStructure, ref.Number, err)
	}
	switch node.GetName("Type") {
	case "Pages":
		for _, kid := range node.GetArray("Kids") {
			kidRef, ok := kid.(generic.Reference)
			if !ok {
				return fmt.Errorf("%w: page tree kid is not a reference", ErrDocumentStructure)
			}
			if err := d.walkPageTree(kidRef, depth+1); err != nil {
				return err
			}
		}
	case "Page":
		d.pages = append(d.pages, Page{Ref: ref, Dict: node})
	default:
		return fmt.Errorf("%w: unexpected page tree node type %q", ErrDocumentStructure, node.GetName("Type"))
	}
	return nil
}
