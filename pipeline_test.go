package dtrsign

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"image"
	"image/color"
	"image/png"
	"math/big"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"dtrsign/config"
	"dtrsign/pdf/generic"
	"dtrsign/pdf/reader"
	"dtrsign/pdf/writer"
	"dtrsign/sign/cms"
)

var signAt = time.Date(2025, 6, 17, 10, 0, 0, 0, time.UTC)

func testPDF(t *testing.T) []byte {
	t.Helper()
	w := writer.NewDocumentWriter("1.7")
	if _, err := w.AddPage(generic.Rect{URX: 612, URY: 792}, []byte("BT /F1 12 Tf 72 720 Td ET")); err != nil {
		t.Fatal(err)
	}
	data, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func testP12(t *testing.T, notBefore, notAfter time.Time) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(9),
		Subject:      pkix.Name{CommonName: "Juan dela Cruz"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	p12, err := pkcs12.Modern.Encode(key, cert, nil, "pw")
	if err != nil {
		t.Fatal(err)
	}
	return p12
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	for x := 0; x < 20; x++ {
		for y := 0; y < 10; y++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testPipeline() *Pipeline {
	return NewPipeline(Options{Clock: clockwork.NewFakeClockAt(signAt)})
}

func ownerRequest(t *testing.T) *SignRequest {
	return &SignRequest{
		PDF:        testPDF(t),
		P12:        testP12(t, signAt.Add(-time.Hour), signAt.Add(24*time.Hour)),
		Passphrase: "pw",
		Image:      testPNG(t),
		Role:       RoleOwner,
		DocType:    DocTimeRecord,
		Reason:     "Daily time record",
	}
}

func TestSignOwnerTimeRecord(t *testing.T) {
	req := ownerRequest(t)
	result, err := testPipeline().Sign(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if result.FieldName != "OwnerSignature1" {
		t.Errorf("field: %s", result.FieldName)
	}
	if !result.SignedAt.Equal(signAt) {
		t.Errorf("signed at: %v", result.SignedAt)
	}
	if !bytes.HasPrefix(result.PDF, req.PDF) || len(result.PDF) <= len(req.PDF) {
		t.Fatal("input must be a strict prefix of the output")
	}

	doc, err := reader.Parse(result.PDF)
	if err != nil {
		t.Fatalf("signed output does not parse: %v", err)
	}
	sigs, err := doc.EmbeddedSignatures()
	if err != nil {
		t.Fatal(err)
	}
	if len(sigs) != 1 {
		t.Fatalf("embedded signatures: %d", len(sigs))
	}
	covered, err := sigs[0].SignedData(result.PDF)
	if err != nil {
		t.Fatal(err)
	}
	verified, err := cms.Verify(sigs[0].Contents, covered)
	if err != nil {
		t.Fatalf("signature does not verify: %v", err)
	}
	if verified.Certificate.Subject.CommonName != "Juan dela Cruz" {
		t.Errorf("certificate: %s", verified.Certificate.Subject.CommonName)
	}
}

func TestSequentialRoles(t *testing.T) {
	p := testPipeline()
	owner := ownerRequest(t)
	first, err := p.Sign(context.Background(), owner)
	if err != nil {
		t.Fatal(err)
	}

	second, err := p.Sign(context.Background(), &SignRequest{
		PDF:        first.PDF,
		P12:        testP12(t, signAt.Add(-time.Hour), signAt.Add(24*time.Hour)),
		Passphrase: "pw",
		Image:      testPNG(t),
		Role:       RoleInCharge,
		DocType:    DocTimeRecord,
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.FieldName != "InchargeSignature1" {
		t.Errorf("field: %s", second.FieldName)
	}
	if !bytes.HasPrefix(second.PDF, first.PDF) {
		t.Fatal("first pass output must be a strict prefix of the second")
	}

	doc, err := reader.Parse(second.PDF)
	if err != nil {
		t.Fatal(err)
	}
	sigs, err := doc.EmbeddedSignatures()
	if err != nil {
		t.Fatal(err)
	}
	if len(sigs) != 2 {
		t.Fatalf("embedded signatures: %d", len(sigs))
	}
	for _, sig := range sigs {
		covered, err := sig.SignedData(second.PDF)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := cms.Verify(sig.Contents, covered); err != nil {
			t.Errorf("%s does not verify: %v", sig.FieldName, err)
		}
	}
}

func TestDigestDeterministicAcrossRuns(t *testing.T) {
	pdf := testPDF(t)
	img := testPNG(t)
	p12 := testP12(t, signAt.Add(-time.Hour), signAt.Add(24*time.Hour))

	digest := func() []byte {
		t.Helper()
		result, err := testPipeline().Sign(context.Background(), &SignRequest{
			PDF: pdf, P12: p12, Passphrase: "pw", Image: img,
			Role: RoleOwner, DocType: DocTimeRecord,
			SignerName: "Juan dela Cruz",
		})
		if err != nil {
			t.Fatal(err)
		}
		return result.Digest
	}
	if !bytes.Equal(digest(), digest()) {
		t.Error("same inputs and clock must produce the same digest")
	}
}

func TestWholeMonthGrid(t *testing.T) {
	base := &SignRequest{
		P12:        testP12(t, signAt.Add(-time.Hour), signAt.Add(24*time.Hour)),
		Passphrase: "pw",
		Image:      testPNG(t),
		Role:       RoleOwner,
		DocType:    DocTimeRecord,
		WholeMonth: true,
	}

	req := *base
	req.PDF = testPDF(t)
	req.Days = 31
	result, err := testPipeline().Sign(context.Background(), &req)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := reader.Parse(result.PDF)
	if err != nil {
		t.Fatal(err)
	}
	sigs, err := doc.EmbeddedSignatures()
	if err != nil || len(sigs) != 1 {
		t.Fatalf("one signature expected over 31 cells: %d, %v", len(sigs), err)
	}

	over := *base
	over.PDF = testPDF(t)
	over.Days = 32
	_, err = testPipeline().Sign(context.Background(), &over)
	if Classify(err) != KindGridCapacityExceeded {
		t.Errorf("day 32: kind %v, err %v", Classify(err), err)
	}
}

func TestWholeMonthWithoutGridKeepsBaseCoordinates(t *testing.T) {
	req := ownerRequest(t)
	req.WholeMonth = true
	if _, err := testPipeline().Sign(context.Background(), req); err != nil {
		t.Fatal(err)
	}
}

func TestLeaveApplicationCao(t *testing.T) {
	req := ownerRequest(t)
	req.Role = RoleCao
	req.DocType = DocLeaveApplication
	result, err := testPipeline().Sign(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if result.FieldName != "CaoSignature2" {
		t.Errorf("field: %s", result.FieldName)
	}
}

func TestDuplicateFieldRejected(t *testing.T) {
	p := testPipeline()
	first, err := p.Sign(context.Background(), ownerRequest(t))
	if err != nil {
		t.Fatal(err)
	}
	again := ownerRequest(t)
	again.PDF = first.PDF
	_, err = p.Sign(context.Background(), again)
	if Classify(err) != KindDocumentStructure {
		t.Errorf("kind %v, err %v", Classify(err), err)
	}
}

func TestClassifyPipelineErrors(t *testing.T) {
	valid := func() *SignRequest { return ownerRequest(t) }

	tests := []struct {
		name string
		req  func() *SignRequest
		want Kind
	}{
		{"wrong passphrase", func() *SignRequest {
			r := valid()
			r.Passphrase = "nope"
			return r
		}, KindInvalidCredentials},
		{"garbage credential", func() *SignRequest {
			r := valid()
			r.P12 = []byte("not pkcs12")
			return r
		}, KindMalformedCertificate},
		{"expired certificate", func() *SignRequest {
			r := valid()
			r.P12 = testP12(t, signAt.Add(-48*time.Hour), signAt.Add(-24*time.Hour))
			return r
		}, KindExpiredCertificate},
		{"garbage document", func() *SignRequest {
			r := valid()
			r.PDF = []byte("%PDF-1.7 but nothing else")
			return r
		}, KindDocumentStructure},
		{"garbage image", func() *SignRequest {
			r := valid()
			r.Image = []byte("not an image")
			return r
		}, KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testPipeline().Sign(context.Background(), tt.req())
			if err == nil {
				t.Fatal("want error")
			}
			if got := Classify(err); got != tt.want {
				t.Errorf("kind %v, err %v", got, err)
			}
		})
	}
}

func TestPlacementOutOfBounds(t *testing.T) {
	p := NewPipeline(Options{
		Clock: clockwork.NewFakeClockAt(signAt),
		Placements: map[Role]RolePlacement{
			RoleOwner: {
				FieldName: "OwnerSignature1",
				Rects:     []generic.Rect{{LLX: 500, LLY: 700, URX: 800, URY: 900}},
			},
		},
	})
	_, err := p.Sign(context.Background(), ownerRequest(t))
	if Classify(err) != KindPlacementOutOfBounds {
		t.Errorf("kind %v, err %v", Classify(err), err)
	}
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SignRequest)
	}{
		{"no pdf", func(r *SignRequest) { r.PDF = nil }},
		{"no credential", func(r *SignRequest) { r.P12 = nil }},
		{"no image", func(r *SignRequest) { r.Image = nil }},
		{"negative page", func(r *SignRequest) { r.Page = -1 }},
		{"days without whole month", func(r *SignRequest) { r.Days = 5 }},
		{"incharge on leave form", func(r *SignRequest) {
			r.Role = RoleInCharge
			r.DocType = DocLeaveApplication
		}},
		{"head on time record", func(r *SignRequest) { r.Role = RoleHead }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := ownerRequest(t)
			tt.mutate(req)
			if err := req.Validate(); err == nil {
				t.Error("want validation error")
			}
		})
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := testPipeline().Sign(ctx, ownerRequest(t)); err == nil {
		t.Error("cancelled context must abort the pass")
	}
}

func TestParseRoleRoundTrip(t *testing.T) {
	for _, role := range []Role{RoleOwner, RoleInCharge, RoleHead, RoleSao, RoleCao} {
		got, err := ParseRole(role.String())
		if err != nil || got != role {
			t.Errorf("round trip %v: %v, %v", role, got, err)
		}
	}
	if _, err := ParseRole("auditor"); err == nil {
		t.Error("unknown role must fail")
	}
	if got, err := ParseRole("in-charge"); err != nil || got != RoleInCharge {
		t.Errorf("in-charge spelling: %v, %v", got, err)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(`
credential:
  pkcs12:
    pfx-file: a.p12
    prefer-pss: true
signing:
  hash: sha512
  reserved-size: 4096
placements:
  owner:
    adjust-y: 100
    rects:
      - {llx: 10, lly: 10, urx: 110, ury: 60}
`))
	if err != nil {
		t.Fatal(err)
	}
	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !opts.PreferPSS || opts.ReservedSize != 4096 {
		t.Errorf("options: %+v", opts)
	}
	p, ok := opts.Placements[RoleOwner]
	if !ok || p.AdjustY != 100 || len(p.Rects) != 1 || p.FieldName != "OwnerSignature1" {
		t.Errorf("placement override: %+v", p)
	}
}
