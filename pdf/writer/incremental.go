package writer

import (
	"errors"
	"fmt"
	"sort"

	"dtrsign/pdf/generic"
	"dtrsign/pdf/reader"
)

// ErrFieldExists reports an attempt to add a signature field whose name
// is already taken.
var ErrFieldExists = errors.New("signature field already exists")

// Placement is one visible location of a signature: a rectangle on a
// page, with an optional appearance stream reference.
type Placement struct {
	Page       reader.Page
	Rect       generic.Rect
	Appearance generic.Reference
}

// Update stages an incremental revision over a parsed document. New and
// modified objects are collected and appended after the original bytes;
// nothing in the original file is rewritten.
type Update struct {
	doc     *reader.Document
	staged  map[int]*generic.Indirect
	order   []int
	nextNum int

	root    *generic.Dict
	rootRef generic.Reference

	sig       *generic.Indirect
	sigParams SignatureParams
	reserved  int
	done      bool
}

// NewUpdate starts an incremental revision over doc.
func NewUpdate(doc *reader.Document) (*Update, error) {
	rootRef, ok := doc.Trailer.GetReference("Root")
	if !ok {
		return nil, fmt.Errorf("%w: trailer has no Root", reader.ErrDocumentStructure)
	}
	u := &Update{
		doc:     doc,
		staged:  make(map[int]*generic.Indirect),
		nextNum: doc.MaxObjectNumber() + 1,
		rootRef: rootRef,
	}
	root, err := u.EditDict(rootRef.Number)
	if err != nil {
		return nil, err
	}
	u.root = root
	return u, nil
}

// Document returns the underlying parsed document.
func (u *Update) Document() *reader.Document { return u.doc }

// AddObject stages obj as a new indirect object and returns its
// reference.
func (u *Update) AddObject(obj generic.Object) generic.Reference {
	num := u.nextNum
	u.nextNum++
	u.stage(generic.NewIndirect(num, 0, obj))
	return generic.Reference{Number: num}
}

// EditDict returns a staged, mutable copy of the dictionary object num.
// The first call clones the original; later calls return the same copy.
func (u *Update) EditDict(num int) (*generic.Dict, error) {
	if ind, ok := u.staged[num]; ok {
		if dict, ok := ind.Object.(*generic.Dict); ok {
			return dict, nil
		}
		return nil, fmt.Errorf("%w: staged object %d is not a dictionary", reader.ErrDocumentStructure, num)
	}
	orig, err := u.doc.GetDict(num)
	if err != nil {
		return nil, err
	}
	clone := orig.Clone().(*generic.Dict)
	gen := 0
	if e, ok := u.doc.XRef[num]; ok {
		gen = e.Generation
	}
	u.stage(generic.NewIndirect(num, gen, clone))
	return clone, nil
}

func (u *Update) stage(ind *generic.Indirect) {
	if _, ok := u.staged[ind.Number]; !ok {
		u.order = append(u.order, ind.Number)
	}
	u.staged[ind.Number] = ind
}

// acroForm returns a staged AcroForm dictionary, creating one on the
// catalog when the document has none.
func (u *Update) acroForm() (*generic.Dict, error) {
	if ref, ok := u.root.GetReference("AcroForm"); ok {
		return u.EditDict(ref.Number)
	}
	if dict := u.root.GetDict("AcroForm"); dict != nil {
		// Inline AcroForm: it already lives on the staged catalog copy.
		return dict, nil
	}
	form := generic.NewDict()
	form.Set("Fields", generic.Array{})
	form.Set("SigFlags", generic.Integer(0))
	u.root.Set("AcroForm", u.AddObject(form))
	return form, nil
}

// AddSignatureField creates a signature field covering the given
// placements and wires it into the AcroForm and each page's Annots.
// A single placement produces a merged field/widget; several placements
// produce a parent field whose widget kids carry one appearance each,
// all backed by the same signature value.
func (u *Update) AddSignatureField(name string, placements []Placement) (generic.Reference, *generic.Dict, error) {
	if len(placements) == 0 {
		return generic.Reference{}, nil, fmt.Errorf("signature field %q needs at least one placement", name)
	}
	exists, err := u.doc.HasSignatureField(name)
	if err != nil {
		return generic.Reference{}, nil, err
	}
	if exists {
		return generic.Reference{}, nil, fmt.Errorf("%w: %q", ErrFieldExists, name)
	}

	var fieldRef generic.Reference
	var field *generic.Dict

	if len(placements) == 1 {
		field = u.widgetDict(placements[0], generic.Reference{})
		field.Set("FT", generic.Name("Sig"))
		field.Set("T", generic.NewTextString(name))
		fieldRef = u.AddObject(field)
		if err := u.annotate(placements[0].Page, fieldRef); err != nil {
			return generic.Reference{}, nil, err
		}
	} else {
		field = generic.NewDict()
		field.Set("FT", generic.Name("Sig"))
		field.Set("T", generic.NewTextString(name))
		fieldRef = u.AddObject(field)

		kids := make(generic.Array, 0, len(placements))
		for _, pl := range placements {
			widget := u.widgetDict(pl, fieldRef)
			widgetRef := u.AddObject(widget)
			kids = append(kids, widgetRef)
			if err := u.annotate(pl.Page, widgetRef); err != nil {
				return generic.Reference{}, nil, err
			}
		}
		field.Set("Kids", kids)
	}

	form, err := u.acroForm()
	if err != nil {
		return generic.Reference{}, nil, err
	}
	fields, err := u.resolvedArray(form.Get("Fields"))
	if err != nil {
		return generic.Reference{}, nil, err
	}
	form.Set("Fields", append(fields, fieldRef))
	flags, _ := form.GetInt("SigFlags")
	form.Set("SigFlags", generic.Integer(flags|3)) // SignaturesExist | AppendOnly

	return fieldRef, field, nil
}

func (u *Update) widgetDict(pl Placement, parent generic.Reference) *generic.Dict {
	w := generic.NewDict()
	w.Set("Type", generic.Name("Annot"))
	w.Set("Subtype", generic.Name("Widget"))
	if parent != (generic.Reference{}) {
		w.Set("Parent", parent)
	}
	w.Set("Rect", pl.Rect.Array())
	w.Set("F", generic.Integer(132)) // Print | Locked
	w.Set("P", pl.Page.Ref)
	if pl.Appearance != (generic.Reference{}) {
		ap := generic.NewDict()
		ap.Set("N", pl.Appearance)
		w.Set("AP", ap)
	}
	return w
}

// annotate appends ref to the page's Annots array on a staged copy of
// the page.
func (u *Update) annotate(page reader.Page, ref generic.Reference) error {
	staged, err := u.EditDict(page.Ref.Number)
	if err != nil {
		return err
	}
	annots, err := u.resolvedArray(staged.Get("Annots"))
	if err != nil {
		return err
	}
	staged.Set("Annots", append(annots, ref))
	return nil
}

func (u *Update) resolvedArray(obj generic.Object) (generic.Array, error) {
	if obj == nil {
		return generic.Array{}, nil
	}
	resolved, err := u.doc.Resolve(obj)
	if err != nil {
		return nil, err
	}
	if arr, ok := resolved.(generic.Array); ok {
		return arr, nil
	}
	return generic.Array{}, nil
}

// stagedNumbers returns the staged object numbers in insertion order.
func (u *Update) stagedNumbers() []int {
	out := make([]int, len(u.order))
	copy(out, u.order)
	return out
}

// sortedNumbers returns the staged object numbers sorted ascending, for
// the xref section.
func (u *Update) sortedNumbers() []int {
	out := u.stagedNumbers()
	sort.Ints(out)
	return out
}
