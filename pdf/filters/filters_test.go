package filters

import (
	"bytes"
	"errors"
	"testing"
)

func TestFlateRoundTrip(t *testing.T) {
	plain := bytes.Repeat([]byte("stream data "), 100)
	enc, err := FlateEncode(plain)
	if err != nil {
		t.Fatal(err)
	}
	if len(enc) >= len(plain) {
		t.Errorf("no compression: %d >= %d", len(enc), len(plain))
	}
	dec, err := Decode("FlateDecode", enc, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec, plain) {
		t.Error("round trip mismatch")
	}
}

func TestPNGUpPredictor(t *testing.T) {
	// Two rows of 4 columns, PNG Up filter. This is the shape xref
	// streams use (Predictor 12).
	raw := []byte{
		2, 10, 20, 30, 40,
		2, 1, 1, 1, 1,
	}
	enc, err := FlateEncode(raw)
	if err != nil {
		t.Fatal(err)
	}
	dec, err := Decode("FlateDecode", enc, &Params{Predictor: 12, Columns: 4})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{10, 20, 30, 40, 11, 21, 31, 41}
	if !bytes.Equal(dec, want) {
		t.Errorf("got %v, want %v", dec, want)
	}
}

func TestPNGSubAndPaeth(t *testing.T) {
	raw := []byte{
		1, 5, 5, 5, // Sub: 5, 10, 15
		4, 1, 1, 1, // Paeth over previous row
	}
	enc, _ := FlateEncode(raw)
	dec, err := Decode("FlateDecode", enc, &Params{Predictor: 15, Columns: 3})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dec[:3], []byte{5, 10, 15}) {
		t.Errorf("sub row: %v", dec[:3])
	}
}

func TestASCIIHexDecode(t *testing.T) {
	out, err := Decode("ASCIIHexDecode", []byte("48 65 6C 6C 6F>"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "Hello" {
		t.Errorf("got %q", out)
	}
	// Odd digit count pads with zero.
	out, err = Decode("ASCIIHexDecode", []byte("7>"), nil)
	if err != nil || out[0] != 0x70 {
		t.Errorf("odd padding: %v %v", out, err)
	}
}

func TestDCTPassthrough(t *testing.T) {
	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0}
	out, err := Decode("DCTDecode", jpeg, nil)
	if err != nil || !bytes.Equal(out, jpeg) {
		t.Errorf("passthrough failed: %v %v", out, err)
	}
}

func TestUnknownFilter(t *testing.T) {
	_, err := Decode("JBIG2Decode", nil, nil)
	if !errors.Is(err, ErrUnsupportedFilter) {
		t.Errorf("want ErrUnsupportedFilter, got %v", err)
	}
}
