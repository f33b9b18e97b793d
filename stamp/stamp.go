// Package stamp composes the visible part of a signature: an image laid
// out inside a placement rectangle, rendered as a Form XObject with a
// soft-masked image and an optional caption.
package stamp

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"time"

	"dtrsign/pdf/generic"
	"dtrsign/pdf/images"
	"dtrsign/pdf/writer"
)

// ErrPlacementOutOfBounds reports a placement rectangle that leaves the
// page's media box.
var ErrPlacementOutOfBounds = errors.New("stamp placement outside page bounds")

// Style controls how the stamp image is laid out and encoded.
type Style struct {
	// ScaleFactor shrinks the placement rectangle about its center
	// before the image is fitted. Default 0.9.
	ScaleFactor float64
	// Quality selects the image encoding: 100 is lossless, lower
	// values re-encode through JPEG. Default 100.
	Quality int
	// Opacity of the stamp, (0, 1]. Default 1.
	Opacity float64
	// Caption adds the signer and date lines under the image.
	Caption    bool
	SignerName string
	SignedAt   time.Time
}

func (s Style) withDefaults() Style {
	if s.ScaleFactor <= 0 || s.ScaleFactor > 1 {
		s.ScaleFactor = 0.9
	}
	if s.Quality <= 0 || s.Quality > 100 {
		s.Quality = 100
	}
	if s.Opacity <= 0 || s.Opacity > 1 {
		s.Opacity = 1
	}
	return s
}

// CheckBounds verifies that rect lies inside the media box, edges
// allowed to touch.
func CheckBounds(rect, mediaBox generic.Rect) error {
	if rect.Width() <= 0 || rect.Height() <= 0 {
		return fmt.Errorf("%w: empty rectangle %+v", ErrPlacementOutOfBounds, rect)
	}
	if !mediaBox.Contains(rect) {
		return fmt.Errorf("%w: %+v outside %+v", ErrPlacementOutOfBounds, rect, mediaBox)
	}
	return nil
}

// ScaledRect returns rect scaled about its center by factor.
func ScaledRect(rect generic.Rect, factor float64) generic.Rect {
	cx := (rect.LLX + rect.URX) / 2
	cy := (rect.LLY + rect.URY) / 2
	hw := rect.Width() * factor / 2
	hh := rect.Height() * factor / 2
	return generic.Rect{LLX: cx - hw, LLY: cy - hh, URX: cx + hw, URY: cy + hh}
}

// fitRect aspect-fits an image of iw x ih pixels into box, centered.
func fitRect(box generic.Rect, iw, ih int) generic.Rect {
	if iw <= 0 || ih <= 0 {
		return box
	}
	scale := math.Min(box.Width()/float64(iw), box.Height()/float64(ih))
	w := float64(iw) * scale
	h := float64(ih) * scale
	cx := (box.LLX + box.URX) / 2
	cy := (box.LLY + box.URY) / 2
	return generic.Rect{LLX: cx - w/2, LLY: cy - h/2, URX: cx + w/2, URY: cy + h/2}
}

// BuildAppearance registers the image, mask and appearance stream on the
// update and returns a reference to the appearance Form XObject for the
// given placement rectangle. The form's coordinate space is the widget
// rectangle translated to the origin.
func BuildAppearance(u *writer.Update, raster *images.Raster, rect generic.Rect, style Style) (generic.Reference, error) {
	style = style.withDefaults()
	if rect.Width() <= 0 || rect.Height() <= 0 {
		return generic.Reference{}, fmt.Errorf("%w: empty rectangle %+v", ErrPlacementOutOfBounds, rect)
	}

	box := ScaledRect(generic.Rect{URX: rect.Width(), URY: rect.Height()}, style.ScaleFactor)
	img := fitRect(box, raster.Width(), raster.Height())

	// Cap the raster resolution at roughly 150 DPI for the target box;
	// stamps come from scans far larger than their printed size.
	maxW := int(img.Width() * 2)
	maxH := int(img.Height() * 2)
	if maxW > 0 && maxH > 0 && (raster.Width() > maxW || raster.Height() > maxH) {
		scale := math.Min(float64(maxW)/float64(raster.Width()), float64(maxH)/float64(raster.Height()))
		raster = raster.Resize(
			int(math.Max(1, float64(raster.Width())*scale)),
			int(math.Max(1, float64(raster.Height())*scale)))
	}

	xo, err := raster.ToXObject(style.Quality)
	if err != nil {
		return generic.Reference{}, err
	}
	maskRef := u.AddObject(xo.Mask)
	xo.Image.Dict.Set("SMask", maskRef)
	imgRef := u.AddObject(xo.Image)

	var content bytes.Buffer
	content.WriteString("q\n")
	if style.Opacity < 1 {
		content.WriteString("/GS0 gs\n")
	}
	fmt.Fprintf(&content, "%s 0 0 %s %s %s cm\n/Img0 Do\nQ\n",
		generic.FormatReal(img.Width()), generic.FormatReal(img.Height()),
		generic.FormatReal(img.LLX), generic.FormatReal(img.LLY))
	if style.Caption {
		writeCaption(&content, rect, style)
	}

	resources := generic.NewDict()
	xobjects := generic.NewDict()
	xobjects.Set("Img0", imgRef)
	resources.Set("XObject", xobjects)
	if style.Opacity < 1 {
		gs := generic.NewDict()
		gs.Set("Type", generic.Name("ExtGState"))
		gs.Set("CA", generic.Real(style.Opacity))
		gs.Set("ca", generic.Real(style.Opacity))
		states := generic.NewDict()
		states.Set("GS0", gs)
		resources.Set("ExtGState", states)
	}
	if style.Caption {
		font := generic.NewDict()
		font.Set("Type", generic.Name("Font"))
		font.Set("Subtype", generic.Name("Type1"))
		font.Set("BaseFont", generic.Name("Helvetica"))
		font.Set("Encoding", generic.Name("WinAnsiEncoding"))
		fonts := generic.NewDict()
		fonts.Set("Helv", font)
		resources.Set("Font", fonts)
	}

	form := generic.NewDict()
	form.Set("Type", generic.Name("XObject"))
	form.Set("Subtype", generic.Name("Form"))
	form.Set("FormType", generic.Integer(1))
	form.Set("BBox", generic.Rect{URX: rect.Width(), URY: rect.Height()}.Array())
	form.Set("Resources", resources)
	stream := generic.NewStream(form, content.Bytes())
	return u.AddObject(stream), nil
}

// writeCaption emits the two caption lines along the bottom of the form.
func writeCaption(content *bytes.Buffer, rect generic.Rect, style Style) {
	const size = 6.0
	content.WriteString("BT\n/Helv ")
	content.WriteString(generic.FormatReal(size))
	content.WriteString(" Tf\n")
	fmt.Fprintf(content, "2 %s Td\n", generic.FormatReal(size*1.2+2))
	writeTextShow(content, fmt.Sprintf("Signed by: %s", style.SignerName))
	fmt.Fprintf(content, "0 %s Td\n", generic.FormatReal(-size*1.2))
	writeTextShow(content, fmt.Sprintf("Date Signed: %s", style.SignedAt.Format("2006-01-02 15:04:05 MST")))
	content.WriteString("ET\n")
}

func writeTextShow(content *bytes.Buffer, text string) {
	generic.NewLiteralString(text).Write(content)
	content.WriteString(" Tj\n")
}
