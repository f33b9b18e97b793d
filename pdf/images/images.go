// Package images prepares stamp imagery for embedding: decoding,
// resampling, the enhancement pass applied to scanned signature images,
// and conversion to PDF image XObjects with soft masks.
package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"

	"dtrsign/pdf/filters"
	"dtrsign/pdf/generic"
)

// ErrUnsupportedImage reports an image that cannot be decoded.
var ErrUnsupportedImage = errors.New("unsupported image format")

// Raster is a decoded image normalized to RGBA.
type Raster struct {
	Pix *image.RGBA
	// HasAlpha is set when any source pixel is not fully opaque.
	HasAlpha bool
}

// Decode reads a PNG or JPEG image.
func Decode(data []byte) (*Raster, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	switch format {
	case "png", "jpeg":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, format)
	}
	return FromImage(src), nil
}

// FromImage normalizes any image to a Raster.
func FromImage(src image.Image) *Raster {
	b := src.Bounds()
	pix := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	hasAlpha := false
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.RGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			pix.SetRGBA(x, y, c)
			if c.A != 0xff {
				hasAlpha = true
			}
		}
	}
	return &Raster{Pix: pix, HasAlpha: hasAlpha}
}

// Width returns the pixel width.
func (r *Raster) Width() int { return r.Pix.Rect.Dx() }

// Height returns the pixel height.
func (r *Raster) Height() int { return r.Pix.Rect.Dy() }

// Resize resamples to w x h with Catmull-Rom interpolation.
func (r *Raster) Resize(w, h int) *Raster {
	if w <= 0 || h <= 0 || (w == r.Width() && h == r.Height()) {
		return r
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Rect, r.Pix, r.Pix.Rect, xdraw.Src, nil)
	return &Raster{Pix: dst, HasAlpha: r.HasAlpha}
}

// Enhance applies the preprocessing used for scanned signature stamps: a
// linear contrast boost around mid gray and an unsharp pass. Factors of
// 1 and amounts of 0 are no-ops. Alpha is untouched.
func (r *Raster) Enhance(contrast, sharpen float64) *Raster {
	out := r
	if contrast != 1 && contrast > 0 {
		out = out.adjustContrast(contrast)
	}
	if sharpen > 0 {
		out = out.unsharp(sharpen)
	}
	return out
}

func (r *Raster) adjustContrast(factor float64) *Raster {
	dst := image.NewRGBA(r.Pix.Rect)
	copy(dst.Pix, r.Pix.Pix)
	for i := 0; i < len(dst.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			dst.Pix[i+c] = clamp8((float64(dst.Pix[i+c])-128)*factor + 128)
		}
	}
	return &Raster{Pix: dst, HasAlpha: r.HasAlpha}
}

// unsharp sharpens with out = src + amount*(src - boxblur3(src)).
func (r *Raster) unsharp(amount float64) *Raster {
	w, h := r.Width(), r.Height()
	src := r.Pix
	dst := image.NewRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				var sum, n int
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						xx, yy := x+dx, y+dy
						if xx < 0 || yy < 0 || xx >= w || yy >= h {
							continue
						}
						sum += int(src.Pix[src.PixOffset(xx, yy)+c])
						n++
					}
				}
				orig := float64(src.Pix[src.PixOffset(x, y)+c])
				blur := float64(sum) / float64(n)
				dst.Pix[dst.PixOffset(x, y)+c] = clamp8(orig + amount*(orig-blur))
			}
		}
	}
	return &Raster{Pix: dst, HasAlpha: r.HasAlpha}
}

func clamp8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// XObject is an image ready for embedding: the color stream plus its
// soft mask. The caller registers both as indirect objects and points
// the image's SMask entry at the mask.
type XObject struct {
	Image *generic.Stream
	Mask  *generic.Stream
}

// ToXObject encodes the raster. Quality 100 stores lossless flate RGB;
// lower values re-encode through JPEG at that quality. The alpha channel
// always becomes a DeviceGray soft mask, fully opaque when the source
// had no alpha.
func (r *Raster) ToXObject(quality int) (*XObject, error) {
	if quality <= 0 || quality > 100 {
		quality = 100
	}
	w, h := r.Width(), r.Height()

	rgb := make([]byte, 0, w*h*3)
	alpha := make([]byte, 0, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := r.Pix.PixOffset(x, y)
			rgb = append(rgb, r.Pix.Pix[i], r.Pix.Pix[i+1], r.Pix.Pix[i+2])
			alpha = append(alpha, r.Pix.Pix[i+3])
		}
	}

	dict := generic.NewDict()
	dict.Set("Type", generic.Name("XObject"))
	dict.Set("Subtype", generic.Name("Image"))
	dict.Set("Width", generic.Integer(w))
	dict.Set("Height", generic.Integer(h))
	dict.Set("ColorSpace", generic.Name("DeviceRGB"))
	dict.Set("BitsPerComponent", generic.Integer(8))

	var encoded []byte
	var err error
	if quality == 100 {
		dict.Set("Filter", generic.Name("FlateDecode"))
		encoded, err = filters.FlateEncode(rgb)
	} else {
		dict.Set("Filter", generic.Name("DCTDecode"))
		encoded, err = encodeJPEG(r, quality)
	}
	if err != nil {
		return nil, err
	}

	maskData, err := filters.FlateEncode(alpha)
	if err != nil {
		return nil, err
	}
	maskDict := generic.NewDict()
	maskDict.Set("Type", generic.Name("XObject"))
	maskDict.Set("Subtype", generic.Name("Image"))
	maskDict.Set("Width", generic.Integer(w))
	maskDict.Set("Height", generic.Integer(h))
	maskDict.Set("ColorSpace", generic.Name("DeviceGray"))
	maskDict.Set("BitsPerComponent", generic.Integer(8))
	maskDict.Set("Filter", generic.Name("FlateDecode"))

	return &XObject{
		Image: generic.NewStream(dict, encoded),
		Mask:  generic.NewStream(maskDict, maskData),
	}, nil
}

// encodeJPEG flattens to opaque RGB and encodes at the given quality.
func encodeJPEG(r *Raster, quality int) ([]byte, error) {
	w, h := r.Width(), r.Height()
	flat := image.NewRGBA(image.Rect(0, 0, w, h))
	copy(flat.Pix, r.Pix.Pix)
	for i := 3; i < len(flat.Pix); i += 4 {
		flat.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
