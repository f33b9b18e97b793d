// Package generic implements the PDF object model: the primitive object
// types, indirect objects and references, and a tokenizing parser for the
// subset of PDF syntax needed to read and incrementally update documents.
package generic

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"unicode/utf16"
)

// Object is any serializable PDF object.
type Object interface {
	// Write serializes the object in PDF syntax.
	Write(w io.Writer) error
	// Clone returns a deep copy.
	Clone() Object
}

// Null is the PDF null object.
type Null struct{}

func (Null) Write(w io.Writer) error {
	_, err := io.WriteString(w, "null")
	return err
}

func (Null) Clone() Object { return Null{} }

// Boolean is a PDF boolean.
type Boolean bool

func (b Boolean) Write(w io.Writer) error {
	_, err := io.WriteString(w, strconv.FormatBool(bool(b)))
	return err
}

func (b Boolean) Clone() Object { return b }

// Integer is a PDF integer number.
type Integer int64

func (i Integer) Write(w io.Writer) error {
	_, err := io.WriteString(w, strconv.FormatInt(int64(i), 10))
	return err
}

func (i Integer) Clone() Object { return i }

// Real is a PDF real number.
type Real float64

func (r Real) Write(w io.Writer) error {
	_, err := io.WriteString(w, FormatReal(float64(r)))
	return err
}

func (r Real) Clone() Object { return r }

// FormatReal renders a float the way PDF producers do: fixed notation
// with trailing zeros trimmed.
func FormatReal(f float64) string {
	s := strconv.FormatFloat(f, 'f', 6, 64)
	if !bytes.ContainsRune([]byte(s), '.') {
		return s
	}
	i := len(s)
	for i > 0 && s[i-1] == '0' {
		i--
	}
	if i > 0 && s[i-1] == '.' {
		i--
	}
	return s[:i]
}

// Name is a PDF name object, written with a leading slash.
type Name string

func (n Name) Write(w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteByte('/')
	for i := 0; i < len(n); i++ {
		c := n[i]
		if c <= 0x20 || c >= 0x7f || bytes.IndexByte([]byte("()<>[]{}/%#"), c) >= 0 {
			fmt.Fprintf(&buf, "#%02X", c)
		} else {
			buf.WriteByte(c)
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func (n Name) Clone() Object { return n }

// String is a PDF string object, serialized literal or hex.
type String struct {
	Value []byte
	Hex   bool
}

// NewLiteralString creates a literal string object.
func NewLiteralString(s string) *String {
	return &String{Value: []byte(s)}
}

// NewHexString creates a hex string object.
func NewHexString(b []byte) *String {
	return &String{Value: b, Hex: true}
}

// NewTextString creates a text string, switching to UTF-16BE with BOM
// when the value is not printable ASCII.
func NewTextString(s string) *String {
	ascii := true
	for _, r := range s {
		if r > 0x7e || r < 0x20 {
			ascii = false
			break
		}
	}
	if ascii {
		return &String{Value: []byte(s)}
	}
	units := utf16.Encode([]rune(s))
	out := make([]byte, 2, 2+2*len(units))
	out[0], out[1] = 0xfe, 0xff
	for _, u := range units {
		out = append(out, byte(u>>8), byte(u))
	}
	return &String{Value: out}
}

// Text decodes the string as text, honoring a UTF-16BE BOM.
func (s *String) Text() string {
	v := s.Value
	if len(v) >= 2 && v[0] == 0xfe && v[1] == 0xff {
		units := make([]uint16, 0, (len(v)-2)/2)
		for i := 2; i+1 < len(v); i += 2 {
			units = append(units, uint16(v[i])<<8|uint16(v[i+1]))
		}
		return string(utf16.Decode(units))
	}
	return string(v)
}

func (s *String) Write(w io.Writer) error {
	var buf bytes.Buffer
	if s.Hex {
		buf.WriteByte('<')
		buf.WriteString(hex.EncodeToString(s.Value))
		buf.WriteByte('>')
	} else {
		buf.WriteByte('(')
		for _, c := range s.Value {
			switch c {
			case '(', ')', '\\':
				buf.WriteByte('\\')
				buf.WriteByte(c)
			case '\n':
				buf.WriteString(`\n`)
			case '\r':
				buf.WriteString(`\r`)
			case '\t':
				buf.WriteString(`\t`)
			default:
				if c < 0x20 || c >= 0x7f {
					fmt.Fprintf(&buf, `\%03o`, c)
				} else {
					buf.WriteByte(c)
				}
			}
		}
		buf.WriteByte(')')
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func (s *String) Clone() Object {
	v := make([]byte, len(s.Value))
	copy(v, s.Value)
	return &String{Value: v, Hex: s.Hex}
}

// Array is a PDF array.
type Array []Object

func (a Array) Write(w io.Writer) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	for i, obj := range a {
		if i > 0 {
			if _, err := io.WriteString(w, " "); err != nil {
				return err
			}
		}
		if err := obj.Write(w); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "]")
	return err
}

func (a Array) Clone() Object {
	out := make(Array, len(a))
	for i, obj := range a {
		out[i] = obj.Clone()
	}
	return out
}

// Dict is a PDF dictionary. Insertion order is preserved so rewritten
// documents stay diffable against their source.
type Dict struct {
	keys   []string
	values map[string]Object
}

// NewDict creates an empty dictionary.
func NewDict() *Dict {
	return &Dict{values: make(map[string]Object)}
}

// Set stores a value under key, appending the key on first insert.
func (d *Dict) Set(key string, value Object) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// Get returns the value for key, or nil.
func (d *Dict) Get(key string) Object {
	return d.values[key]
}

// Has reports whether key is present.
func (d *Dict) Has(key string) bool {
	_, ok := d.values[key]
	return ok
}

// Delete removes key if present.
func (d *Dict) Delete(key string) {
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Len returns the number of entries.
func (d *Dict) Len() int { return len(d.keys) }

// GetName returns the name value for key, or "".
func (d *Dict) GetName(key string) Name {
	if n, ok := d.values[key].(Name); ok {
		return n
	}
	return ""
}

// GetInt returns the integer value for key.
func (d *Dict) GetInt(key string) (int64, bool) {
	switch v := d.values[key].(type) {
	case Integer:
		return int64(v), true
	case Real:
		return int64(v), true
	}
	return 0, false
}

// GetNumber returns the numeric value for key as a float64.
func (d *Dict) GetNumber(key string) (float64, bool) {
	switch v := d.values[key].(type) {
	case Integer:
		return float64(v), true
	case Real:
		return float64(v), true
	}
	return 0, false
}

// GetArray returns the array value for key, or nil.
func (d *Dict) GetArray(key string) Array {
	if a, ok := d.values[key].(Array); ok {
		return a
	}
	return nil
}

// GetDict returns the dictionary value for key, or nil.
func (d *Dict) GetDict(key string) *Dict {
	if sub, ok := d.values[key].(*Dict); ok {
		return sub
	}
	return nil
}

// GetString returns the string value for key, or nil.
func (d *Dict) GetString(key string) *String {
	if s, ok := d.values[key].(*String); ok {
		return s
	}
	return nil
}

// GetReference returns the reference value for key.
func (d *Dict) GetReference(key string) (Reference, bool) {
	if r, ok := d.values[key].(Reference); ok {
		return r, true
	}
	return Reference{}, false
}

func (d *Dict) Write(w io.Writer) error {
	if _, err := io.WriteString(w, "<<"); err != nil {
		return err
	}
	for _, key := range d.keys {
		if err := Name(key).Write(w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, " "); err != nil {
			return err
		}
		if err := d.values[key].Write(w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, " "); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, ">>")
	return err
}

func (d *Dict) Clone() Object {
	out := NewDict()
	for _, k := range d.keys {
		out.Set(k, d.values[k].Clone())
	}
	return out
}

// Stream is a PDF stream: a dictionary plus encoded data. The Length
// entry is maintained on write.
type Stream struct {
	Dict *Dict
	// Raw holds the data exactly as it appears between the stream and
	// endstream keywords.
	Raw []byte
}

// NewStream creates a stream with the given dictionary (a fresh one when
// nil) and encoded data.
func NewStream(dict *Dict, raw []byte) *Stream {
	if dict == nil {
		dict = NewDict()
	}
	return &Stream{Dict: dict, Raw: raw}
}

func (s *Stream) Write(w io.Writer) error {
	s.Dict.Set("Length", Integer(len(s.Raw)))
	if err := s.Dict.Write(w); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\nstream\n"); err != nil {
		return err
	}
	if _, err := w.Write(s.Raw); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\nendstream")
	return err
}

func (s *Stream) Clone() Object {
	raw := make([]byte, len(s.Raw))
	copy(raw, s.Raw)
	return &Stream{Dict: s.Dict.Clone().(*Dict), Raw: raw}
}

// Reference points at an indirect object.
type Reference struct {
	Number     int
	Generation int
}

func (r Reference) Write(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%d %d R", r.Number, r.Generation)
	return err
}

func (r Reference) Clone() Object { return r }

// Indirect is a numbered object as it appears in the file body.
type Indirect struct {
	Number     int
	Generation int
	Object     Object
}

// NewIndirect wraps obj as indirect object number num.
func NewIndirect(num, gen int, obj Object) *Indirect {
	return &Indirect{Number: num, Generation: gen, Object: obj}
}

// Ref returns the reference to this object.
func (ind *Indirect) Ref() Reference {
	return Reference{Number: ind.Number, Generation: ind.Generation}
}

func (ind *Indirect) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%d %d obj\n", ind.Number, ind.Generation); err != nil {
		return err
	}
	if err := ind.Object.Write(w); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\nendobj")
	return err
}

func (ind *Indirect) Clone() Object {
	return &Indirect{Number: ind.Number, Generation: ind.Generation, Object: ind.Object.Clone()}
}

// Rect is a rectangle in default user space, lower-left to upper-right.
type Rect struct {
	LLX, LLY, URX, URY float64
}

// Width returns the rectangle width.
func (r Rect) Width() float64 { return r.URX - r.LLX }

// Height returns the rectangle height.
func (r Rect) Height() float64 { return r.URY - r.LLY }

// Contains reports whether inner lies within r, edges included.
func (r Rect) Contains(inner Rect) bool {
	return inner.LLX >= r.LLX && inner.LLY >= r.LLY &&
		inner.URX <= r.URX && inner.URY <= r.URY
}

// Translate returns r shifted by (dx, dy).
func (r Rect) Translate(dx, dy float64) Rect {
	return Rect{r.LLX + dx, r.LLY + dy, r.URX + dx, r.URY + dy}
}

// Array returns the rectangle as a PDF array.
func (r Rect) Array() Array {
	return Array{Real(r.LLX), Real(r.LLY), Real(r.URX), Real(r.URY)}
}

// RectFromArray builds a rectangle from a 4-element PDF array.
func RectFromArray(a Array) (Rect, bool) {
	if len(a) != 4 {
		return Rect{}, false
	}
	var v [4]float64
	for i, obj := range a {
		switch n := obj.(type) {
		case Integer:
			v[i] = float64(n)
		case Real:
			v[i] = float64(n)
		default:
			return Rect{}, false
		}
	}
	return Rect{v[0], v[1], v[2], v[3]}, true
}

// ComputeFileID derives a 16-byte file identifier from the given parts.
func ComputeFileID(parts ...string) []byte {
	h := md5.New()
	for _, p := range parts {
		io.WriteString(h, p)
	}
	return h.Sum(nil)
}
