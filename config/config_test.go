package config

import (
	"crypto"
	"errors"
	"testing"
)

const sample = `
credential:
  pkcs12:
    pfx-file: /etc/signer/owner.p12
    pfx-passphrase: hunter2
stamp:
  scale-factor: 0.8
  quality: 85
  opacity: 0.9
grid:
  rows: 7
  cols: 5
  max-cells: 31
signing:
  hash: sha384
  reserved-size: 8192
  reason: Daily time record
placements:
  owner:
    adjust-y: 250
    rects:
      - {llx: 50, lly: 105, urx: 250, ury: 165}
      - {llx: 360, lly: 105, urx: 560, ury: 165}
logging:
  level: debug
  format: json
`

func TestParseSample(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	if c.Credential.PKCS12 == nil || c.Credential.PKCS12.PFXFile != "/etc/signer/owner.p12" {
		t.Error("pkcs12 credential not parsed")
	}
	if c.Stamp.ScaleFactor != 0.8 || c.Stamp.Quality != 85 {
		t.Errorf("stamp: %+v", c.Stamp)
	}
	if c.Grid.Rows != 7 || c.Grid.Cols != 5 {
		t.Errorf("grid: %+v", c.Grid)
	}
	h, err := c.Signing.HashFunc()
	if err != nil || h != crypto.SHA384 {
		t.Errorf("hash: %v, %v", h, err)
	}
	p := c.Placements["owner"]
	if p == nil || len(p.Rects) != 2 || p.AdjustY != 250 {
		t.Errorf("placements: %+v", p)
	}
	if c.Logging.Level != "debug" || c.Logging.Format != "json" {
		t.Errorf("logging: %+v", c.Logging)
	}
}

func TestDefaultsSurviveParse(t *testing.T) {
	c, err := Parse([]byte("credential:\n  pkcs12:\n    pfx-file: a.p12\n"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Stamp.ScaleFactor != 0.9 || c.Stamp.Quality != 100 {
		t.Errorf("stamp defaults lost: %+v", c.Stamp)
	}
	if c.Stamp.Contrast != 1.4 || c.Stamp.Sharpen != 1.5 {
		t.Errorf("enhancement defaults lost: %+v", c.Stamp)
	}
	if c.Grid.Rows != 8 || c.Grid.Cols != 4 || c.Grid.MaxCells != 31 {
		t.Errorf("grid defaults lost: %+v", c.Grid)
	}
	if h, _ := c.Signing.HashFunc(); h != crypto.SHA256 {
		t.Errorf("hash default lost: %v", h)
	}
	if c.Logging.Level != "info" || c.Logging.Format != "console" {
		t.Errorf("logging defaults lost: %+v", c.Logging)
	}
}

func TestCredentialRequired(t *testing.T) {
	if _, err := Parse([]byte("stamp:\n  quality: 90\n")); err == nil {
		t.Error("missing credential must fail")
	}
}

func TestCredentialExclusive(t *testing.T) {
	data := `
credential:
  pkcs12:
    pfx-file: a.p12
  pkcs11:
    module-path: /usr/lib/softhsm2.so
    certificate: /etc/signer/cert.pem
`
	_, err := Parse([]byte(data))
	if err == nil {
		t.Fatal("both credentials must fail")
	}
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("want ConfigError, got %T", err)
	}
	if !errors.Is(err, ErrConfigurationError) {
		t.Error("ConfigError must unwrap to ErrConfigurationError")
	}
}

func TestPKCS11NeedsCertificate(t *testing.T) {
	data := "credential:\n  pkcs11:\n    module-path: /usr/lib/softhsm2.so\n"
	if _, err := Parse([]byte(data)); err == nil {
		t.Error("token credential without certificate must fail")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"scale above one", "credential: {pkcs12: {pfx-file: a}}\nstamp: {scale-factor: 1.5}\n"},
		{"quality zero", "credential: {pkcs12: {pfx-file: a}}\nstamp: {quality: 0}\n"},
		{"unknown hash", "credential: {pkcs12: {pfx-file: a}}\nsigning: {hash: md5}\n"},
		{"negative reserve", "credential: {pkcs12: {pfx-file: a}}\nsigning: {reserved-size: -1}\n"},
		{"grid no rows", "credential: {pkcs12: {pfx-file: a}}\ngrid: {rows: 0, cols: 4}\n"},
		{"empty rect", "credential: {pkcs12: {pfx-file: a}}\nplacements: {owner: {rects: [{llx: 10, lly: 10, urx: 10, ury: 20}]}}\n"},
		{"bad log level", "credential: {pkcs12: {pfx-file: a}}\nlogging: {level: verbose}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("want error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/dtrsign.yaml"); !errors.Is(err, ErrConfigurationError) {
		t.Errorf("want ErrConfigurationError, got %v", err)
	}
}

func TestConfigErrorMessage(t *testing.T) {
	e := NewConfigError("stamp.quality", "must be in [1, 100]")
	if e.Error() != "config error in 'stamp.quality': must be in [1, 100]" {
		t.Errorf("message: %s", e.Error())
	}
	if NewConfigError("", "broken").Error() != "config error: broken" {
		t.Error("fieldless message")
	}
}
