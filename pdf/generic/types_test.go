package generic

import (
	"bytes"
	"strings"
	"testing"
)

func writeToString(t *testing.T, obj Object) string {
	t.Helper()
	var buf bytes.Buffer
	if err := obj.Write(&buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	return buf.String()
}

func TestPrimitiveSerialization(t *testing.T) {
	tests := []struct {
		name string
		obj  Object
		want string
	}{
		{"null", Null{}, "null"},
		{"true", Boolean(true), "true"},
		{"false", Boolean(false), "false"},
		{"integer", Integer(-42), "-42"},
		{"real", Real(1.5), "1.5"},
		{"real trims zeros", Real(100), "100"},
		{"name", Name("Type"), "/Type"},
		{"name escapes", Name("A B#C"), "/A#20B#23C"},
		{"literal string", NewLiteralString("hi (there)"), `(hi \(there\))`},
		{"hex string", NewHexString([]byte{0xde, 0xad}), "<dead>"},
		{"reference", Reference{Number: 12, Generation: 0}, "12 0 R"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := writeToString(t, tt.obj); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTextStringUTF16(t *testing.T) {
	s := NewTextString("héllo")
	if len(s.Value) < 2 || s.Value[0] != 0xfe || s.Value[1] != 0xff {
		t.Fatalf("expected UTF-16BE BOM, got % x", s.Value)
	}
	if s.Text() != "héllo" {
		t.Errorf("round trip got %q", s.Text())
	}

	plain := NewTextString("hello")
	if string(plain.Value) != "hello" {
		t.Errorf("ASCII text should stay raw, got % x", plain.Value)
	}
}

func TestDictPreservesInsertionOrder(t *testing.T) {
	d := NewDict()
	d.Set("Type", Name("Page"))
	d.Set("Parent", Reference{Number: 2})
	d.Set("MediaBox", Rect{0, 0, 612, 792}.Array())
	d.Set("Type", Name("Pages")) // overwrite must not reorder

	keys := d.Keys()
	want := []string{"Type", "Parent", "MediaBox"}
	if len(keys) != len(want) {
		t.Fatalf("got %d keys, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
	if d.GetName("Type") != "Pages" {
		t.Errorf("overwrite lost: %q", d.GetName("Type"))
	}

	out := writeToString(t, d)
	if !strings.HasPrefix(out, "<</Type /Pages /Parent 2 0 R") {
		t.Errorf("unexpected serialization: %s", out)
	}
}

func TestDictDelete(t *testing.T) {
	d := NewDict()
	d.Set("A", Integer(1))
	d.Set("B", Integer(2))
	d.Delete("A")
	if d.Has("A") || d.Len() != 1 {
		t.Errorf("delete failed: keys=%v", d.Keys())
	}
}

func TestStreamWriteSetsLength(t *testing.T) {
	s := NewStream(nil, []byte("BT ET"))
	out := writeToString(t, s)
	if !strings.Contains(out, "/Length 5") {
		t.Errorf("missing Length: %s", out)
	}
	if !strings.Contains(out, "stream\nBT ET\nendstream") {
		t.Errorf("bad stream framing: %s", out)
	}
}

func TestIndirectSerialization(t *testing.T) {
	ind := NewIndirect(7, 0, Integer(99))
	out := writeToString(t, ind)
	if out != "7 0 obj\n99\nendobj" {
		t.Errorf("got %q", out)
	}
	if ind.Ref() != (Reference{Number: 7}) {
		t.Errorf("Ref mismatch: %v", ind.Ref())
	}
}

func TestRectGeometry(t *testing.T) {
	page := Rect{0, 0, 612, 792}
	if page.Width() != 612 || page.Height() != 792 {
		t.Fatalf("dimensions wrong: %v x %v", page.Width(), page.Height())
	}
	if !page.Contains(Rect{0, 0, 612, 792}) {
		t.Error("rect should contain itself")
	}
	if page.Contains(Rect{0, 0, 613, 792}) {
		t.Error("wider rect must not be contained")
	}
	moved := Rect{10, 10, 20, 20}.Translate(5, -5)
	if moved != (Rect{15, 5, 25, 15}) {
		t.Errorf("translate got %v", moved)
	}
}

func TestCloneIsDeep(t *testing.T) {
	d := NewDict()
	d.Set("Kids", Array{Reference{Number: 3}})
	c := d.Clone().(*Dict)
	c.Set("Kids", Array{})
	if len(d.GetArray("Kids")) != 1 {
		t.Error("clone aliases original")
	}
}
