package signers

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"dtrsign/certstore"
	"dtrsign/sign/cms"
)

var signAt = time.Date(2025, 6, 17, 10, 0, 0, 0, time.UTC)

func loadBundle(t *testing.T, key crypto.Signer) *certstore.Bundle {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "signer test"},
		NotBefore:    signAt.Add(-time.Hour),
		NotAfter:     signAt.Add(24 * time.Hour),
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
	b, err := certstore.Load(p12, "pw")
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestBundleSignerRSA(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	b := loadBundle(t, key)
	defer b.Close()

	s, err := NewBundleSigner(b, crypto.SHA256, false)
	if err != nil {
		t.Fatal(err)
	}
	if s.Algorithm() != cms.SHA256WithRSA {
		t.Errorf("algorithm: %v", s.Algorithm())
	}

	content := []byte("document ranges")
	digest := sha256.Sum256(content)
	container, err := BuildContainer(s, s.Algorithm(), digest[:], signAt)
	if err != nil {
		t.Fatal(err)
	}
	result, err := cms.Verify(container, content)
	if err != nil {
		t.Fatal(err)
	}
	if result.Certificate.Subject.CommonName != "signer test" {
		t.Errorf("certificate: %s", result.Certificate.Subject.CommonName)
	}

	if est := s.EstimateSize(); len(container) > est {
		t.Errorf("container %d exceeds estimate %d", len(container), est)
	}
}

func TestBundleSignerECDSA(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	b := loadBundle(t, key)
	defer b.Close()

	s, err := NewBundleSigner(b, crypto.SHA256, false)
	if err != nil {
		t.Fatal(err)
	}
	if s.Algorithm() != cms.SHA256WithECDSA {
		t.Errorf("algorithm: %v", s.Algorithm())
	}
	content := []byte("ecdsa ranges")
	digest := sha256.Sum256(content)
	container, err := BuildContainer(s, s.Algorithm(), digest[:], signAt)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cms.Verify(container, content); err != nil {
		t.Fatal(err)
	}
}

func TestSignAfterClose(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	b := loadBundle(t, key)
	s, err := NewBundleSigner(b, crypto.SHA256, false)
	if err != nil {
		t.Fatal(err)
	}
	b.Close()
	digest := sha256.Sum256([]byte("x"))
	if _, err := s.Sign(rand.Reader, digest[:], crypto.SHA256); err == nil {
		t.Error("signing with a closed credential must fail")
	}
}

func TestECDSARawConversion(t *testing.T) {
	raw := make([]byte, 64)
	raw[0] = 0x01
	raw[63] = 0x02
	der, err := ecdsaRawToASN1(raw)
	if err != nil {
		t.Fatal(err)
	}
	if der[0] != 0x30 {
		t.Errorf("not a sequence: %#x", der[0])
	}
	if _, err := ecdsaRawToASN1([]byte{1, 2, 3}); err == nil {
		t.Error("odd length must fail")
	}
}
