// Package filters implements the stream filters needed to read and write
// document streams: FlateDecode with PNG predictors, ASCIIHexDecode, and
// a passthrough for DCTDecode (JPEG data is stored as-is).
package filters

import (
	"bytes"
	"compress/zlib"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrUnsupportedFilter reports a filter this package does not implement.
var ErrUnsupportedFilter = errors.New("unsupported stream filter")

// Params carries the relevant DecodeParms entries.
type Params struct {
	Predictor        int
	Columns          int
	Colors           int
	BitsPerComponent int
}

// Decode decodes data through the named filter.
func Decode(name string, data []byte, params *Params) ([]byte, error) {
	switch name {
	case "FlateDecode", "Fl":
		return flateDecode(data, params)
	case "ASCIIHexDecode", "AHx":
		return asciiHexDecode(data)
	case "DCTDecode", "DCT":
		// JPEG streams are consumed by image decoders downstream.
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, name)
	}
}

// FlateEncode compresses data with zlib.
func FlateEncode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func flateDecode(data []byte, params *Params) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("flate: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("flate: %w", err)
	}
	if params != nil && params.Predictor > 1 {
		return undoPredictor(out, params)
	}
	return out, nil
}

// undoPredictor reverses TIFF (2) and PNG (10..15) predictors. Cross
// reference streams almost always use PNG Up.
func undoPredictor(data []byte, params *Params) ([]byte, error) {
	colors := params.Colors
	if colors == 0 {
		colors = 1
	}
	bpc := params.BitsPerComponent
	if bpc == 0 {
		bpc = 8
	}
	columns := params.Columns
	if columns == 0 {
		columns = 1
	}
	bpp := (colors*bpc + 7) / 8
	rowLen := (colors*bpc*columns + 7) / 8

	if params.Predictor == 2 {
		if bpc != 8 {
			return nil, fmt.Errorf("%w: TIFF predictor with %d bpc", ErrUnsupportedFilter, bpc)
		}
		for r := 0; r+rowLen <= len(data); r += rowLen {
			row := data[r : r+rowLen]
			for i := bpp; i < len(row); i++ {
				row[i] += row[i-bpp]
			}
		}
		return data, nil
	}

	// PNG predictors carry a per-row filter type byte.
	stride := rowLen + 1
	if len(data)%stride != 0 {
		return nil, fmt.Errorf("predictor: data length %d not a multiple of row size %d", len(data), stride)
	}
	rows := len(data) / stride
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	row := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		ft := data[r*stride]
		copy(row, data[r*stride+1:(r+1)*stride])
		switch ft {
		case 0:
		case 1: // Sub
			for i := bpp; i < rowLen; i++ {
				row[i] += row[i-bpp]
			}
		case 2: // Up
			for i := 0; i < rowLen; i++ {
				row[i] += prev[i]
			}
		case 3: // Average
			for i := 0; i < rowLen; i++ {
				var left byte
				if i >= bpp {
					left = row[i-bpp]
				}
				row[i] += byte((int(left) + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := 0; i < rowLen; i++ {
				var left, upLeft byte
				if i >= bpp {
					left = row[i-bpp]
					upLeft = prev[i-bpp]
				}
				row[i] += paeth(left, prev[i], upLeft)
			}
		default:
			return nil, fmt.Errorf("predictor: unknown PNG filter type %d", ft)
		}
		out = append(out, row...)
		copy(prev, row)
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func asciiHexDecode(data []byte) ([]byte, error) {
	var digits []byte
	for _, c := range data {
		if c == '>' {
			break
		}
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
			digits = append(digits, c)
		case c == 0x00, c == 0x09, c == 0x0a, c == 0x0c, c == 0x0d, c == 0x20:
		default:
			return nil, fmt.Errorf("asciihex: invalid character %q", c)
		}
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, len(digits)/2)
	if _, err := hex.Decode(out, digits); err != nil {
		return nil, fmt.Errorf("asciihex: %w", err)
	}
	return out, nil
}
