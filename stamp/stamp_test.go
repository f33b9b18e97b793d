package stamp

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"dtrsign/pdf/generic"
	"dtrsign/pdf/images"
	"dtrsign/pdf/reader"
	"dtrsign/pdf/writer"
)

func testRaster(w, h int) *images.Raster {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x99
	}
	img.SetRGBA(0, 0, color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff})
	return images.FromImage(img)
}

func testUpdate(t *testing.T) (*writer.Update, reader.Page) {
	t.Helper()
	w := writer.NewDocumentWriter("1.7")
	if _, err := w.AddPage(generic.Rect{LLX: 0, LLY: 0, URX: 612, URY: 792}, nil); err != nil {
		t.Fatal(err)
	}
	data, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	doc, err := reader.Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	u, err := writer.NewUpdate(doc)
	if err != nil {
		t.Fatal(err)
	}
	page, err := doc.Page(0)
	if err != nil {
		t.Fatal(err)
	}
	return u, page
}

func TestCheckBounds(t *testing.T) {
	page := generic.Rect{LLX: 0, LLY: 0, URX: 612, URY: 792}
	tests := []struct {
		name string
		rect generic.Rect
		ok   bool
	}{
		{"inside", generic.Rect{LLX: 50, LLY: 105, URX: 250, URY: 165}, true},
		{"equal to page", page, true},
		{"touching edges", generic.Rect{LLX: 0, LLY: 0, URX: 612, URY: 100}, true},
		{"past right edge", generic.Rect{LLX: 500, LLY: 0, URX: 613, URY: 100}, false},
		{"past top edge", generic.Rect{LLX: 0, LLY: 700, URX: 100, URY: 793}, false},
		{"negative origin", generic.Rect{LLX: -1, LLY: 0, URX: 100, URY: 100}, false},
		{"empty", generic.Rect{LLX: 10, LLY: 10, URX: 10, URY: 20}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckBounds(tt.rect, page)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrPlacementOutOfBounds) {
				t.Errorf("want ErrPlacementOutOfBounds, got %v", err)
			}
		})
	}
}

func TestScaledRect(t *testing.T) {
	r := ScaledRect(generic.Rect{LLX: 0, LLY: 0, URX: 200, URY: 60}, 0.9)
	if r.Width() != 180 || r.Height() != 54 {
		t.Errorf("size: %v x %v", r.Width(), r.Height())
	}
	// Still centered.
	if r.LLX != 10 || r.LLY != 3 {
		t.Errorf("origin: %v %v", r.LLX, r.LLY)
	}
}

func TestGridCells(t *testing.T) {
	g := Grid{Region: generic.Rect{LLX: 0, LLY: 0, URX: 400, URY: 200}, Rows: 2, Cols: 4}
	if g.Capacity() != 8 {
		t.Fatalf("capacity: %d", g.Capacity())
	}

	first, err := g.Cell(1)
	if err != nil {
		t.Fatal(err)
	}
	// Day 1 is the top-left cell.
	if first != (generic.Rect{LLX: 0, LLY: 100, URX: 100, URY: 200}) {
		t.Errorf("cell 1: %+v", first)
	}
	fifth, err := g.Cell(5)
	if err != nil {
		t.Fatal(err)
	}
	if fifth != (generic.Rect{LLX: 0, LLY: 0, URX: 100, URY: 100}) {
		t.Errorf("cell 5 wraps to second row: %+v", fifth)
	}
}

func TestGridCapacity(t *testing.T) {
	g := Grid{Region: generic.Rect{LLX: 0, LLY: 0, URX: 560, URY: 640}, Rows: 8, Cols: 4, MaxCells: 31}
	if g.Capacity() != 31 {
		t.Fatalf("capacity: %d", g.Capacity())
	}
	if _, err := g.Cell(31); err != nil {
		t.Errorf("day 31 must fit: %v", err)
	}
	if _, err := g.Cell(32); !errors.Is(err, ErrGridCapacityExceeded) {
		t.Errorf("day 32 must fail, got %v", err)
	}
	if _, err := g.Cells(32); !errors.Is(err, ErrGridCapacityExceeded) {
		t.Errorf("Cells(32) must fail, got %v", err)
	}
	cells, err := g.Cells(31)
	if err != nil || len(cells) != 31 {
		t.Errorf("Cells(31): %d cells, err %v", len(cells), err)
	}
}

func TestBuildAppearance(t *testing.T) {
	u, _ := testUpdate(t)
	rect := generic.Rect{LLX: 50, LLY: 105, URX: 250, URY: 165}
	ref, err := BuildAppearance(u, testRaster(400, 120), rect, Style{})
	if err != nil {
		t.Fatal(err)
	}
	if ref == (generic.Reference{}) {
		t.Fatal("no appearance reference")
	}
}

func TestAppearanceContent(t *testing.T) {
	u, page := testUpdate(t)
	rect := generic.Rect{LLX: 50, LLY: 105, URX: 250, URY: 165}
	ref, err := BuildAppearance(u, testRaster(100, 30), rect, Style{
		Opacity:    0.8,
		Caption:    true,
		SignerName: "Juan dela Cruz",
		SignedAt:   time.Date(2025, 6, 17, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}

	// Finish the revision so the appearance can be read back.
	_, field, err := u.AddSignatureField("OwnerSignature1", []writer.Placement{
		{Page: page, Rect: rect, Appearance: ref},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := u.PrepareSignature(field, writer.SignatureParams{
		SigningTime: time.Date(2025, 6, 17, 9, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatal(err)
	}
	res, err := u.Reserve()
	if err != nil {
		t.Fatal(err)
	}

	doc, err := reader.Parse(res.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	obj, err := doc.GetObject(ref.Number)
	if err != nil {
		t.Fatal(err)
	}
	form, ok := obj.(*generic.Stream)
	if !ok {
		t.Fatalf("appearance is %T", obj)
	}
	if form.Dict.GetName("Subtype") != "Form" {
		t.Error("not a form XObject")
	}
	bbox, _ := generic.RectFromArray(form.Dict.GetArray("BBox"))
	if bbox.Width() != rect.Width() || bbox.Height() != rect.Height() {
		t.Errorf("bbox: %+v", bbox)
	}

	content := form.Raw
	for _, want := range []string{"/GS0 gs", "/Img0 Do", "Signed by: Juan dela Cruz", "Date Signed:"} {
		if !bytes.Contains(content, []byte(want)) {
			t.Errorf("content missing %q", want)
		}
	}

	resources := form.Dict.GetDict("Resources")
	if resources == nil || resources.GetDict("XObject") == nil {
		t.Fatal("resources incomplete")
	}
	imgRef, ok := resources.GetDict("XObject").GetReference("Img0")
	if !ok {
		t.Fatal("image not wired into resources")
	}
	imgObj, err := doc.GetObject(imgRef.Number)
	if err != nil {
		t.Fatal(err)
	}
	img := imgObj.(*generic.Stream)
	if img.Dict.GetName("ColorSpace") != "DeviceRGB" {
		t.Error("image colorspace")
	}
	if _, ok := img.Dict.GetReference("SMask"); !ok {
		t.Error("image has no soft mask")
	}
}

func TestAppearanceImageFitsAspect(t *testing.T) {
	u, _ := testUpdate(t)
	// A very wide image inside a square-ish box must letterbox, never
	// stretch.
	rect := generic.Rect{LLX: 0, LLY: 0, URX: 100, URY: 100}
	ref, err := BuildAppearance(u, testRaster(400, 100), rect, Style{ScaleFactor: 1})
	if err != nil {
		t.Fatal(err)
	}
	_ = ref
	// The fitted width is the full box, height a quarter of it.
	fitted := fitRect(generic.Rect{LLX: 0, LLY: 0, URX: 100, URY: 100}, 400, 100)
	if fitted.Width() != 100 || fitted.Height() != 25 {
		t.Errorf("fit: %v x %v", fitted.Width(), fitted.Height())
	}
	if fitted.LLY != 37.5 {
		t.Errorf("not centered: %v", fitted.LLY)
	}
}
