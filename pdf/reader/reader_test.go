package reader_test

import (
	"bytes"
	"errors"
	"testing"

	"dtrsign/pdf/generic"
	"dtrsign/pdf/reader"
	"dtrsign/pdf/writer"
)

func twoPageDoc(t *testing.T) []byte {
	t.Helper()
	w := writer.NewDocumentWriter("1.7")
	if _, err := w.AddPage(generic.Rect{URX: 612, URY: 792}, []byte("0 0 m 10 10 l S")); err != nil {
		t.Fatal(err)
	}
	if _, err := w.AddPage(generic.Rect{URX: 595, URY: 842}, []byte("BT ET")); err != nil {
		t.Fatal(err)
	}
	data, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestParseGeneratedDocument(t *testing.T) {
	doc, err := reader.Parse(twoPageDoc(t))
	if err != nil {
		t.Fatal(err)
	}
	if doc.Version != "1.7" {
		t.Errorf("version: %s", doc.Version)
	}
	if doc.NumPages() != 2 {
		t.Fatalf("pages: %d", doc.NumPages())
	}
	first, err := doc.Page(0)
	if err != nil {
		t.Fatal(err)
	}
	if mb := first.MediaBox(); mb.URX != 612 || mb.URY != 792 {
		t.Errorf("first media box: %+v", mb)
	}
	second, err := doc.Page(1)
	if err != nil {
		t.Fatal(err)
	}
	if mb := second.MediaBox(); mb.URX != 595 || mb.URY != 842 {
		t.Errorf("second media box: %+v", mb)
	}
	if doc.MaxObjectNumber() < 4 {
		t.Errorf("max object number: %d", doc.MaxObjectNumber())
	}
	if _, err := doc.Page(2); err == nil {
		t.Error("page index past the end must fail")
	}
}

func TestDecodedPageContents(t *testing.T) {
	doc, err := reader.Parse(twoPageDoc(t))
	if err != nil {
		t.Fatal(err)
	}
	page, err := doc.Page(0)
	if err != nil {
		t.Fatal(err)
	}
	obj, err := doc.Resolve(page.Dict.Get("Contents"))
	if err != nil {
		t.Fatal(err)
	}
	stream, ok := obj.(*generic.Stream)
	if !ok {
		t.Fatalf("contents is %T", obj)
	}
	decoded, err := doc.DecodedStream(stream)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, []byte("0 0 m 10 10 l S")) {
		t.Errorf("decoded contents: %q", decoded)
	}
}

func TestParseGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not a pdf", []byte("hello world, definitely not a document")},
		{"header only", []byte("%PDF-1.7\nand then nothing")},
		{"bad startxref", []byte("%PDF-1.7\nstartxref\n999999\n%%EOF")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := reader.Parse(tt.data); !errors.Is(err, reader.ErrDocumentStructure) {
				t.Errorf("want ErrDocumentStructure, got %v", err)
			}
		})
	}
}

func TestGetObjectUnknownNumber(t *testing.T) {
	doc, err := reader.Parse(twoPageDoc(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := doc.GetObject(9999); !errors.Is(err, reader.ErrDocumentStructure) {
		t.Errorf("want ErrDocumentStructure, got %v", err)
	}
}
