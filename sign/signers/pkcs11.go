package signers

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"io"
	"math/big"

	"github.com/miekg/pkcs11"
)

// digestInfoPrefix maps a hash to the DER DigestInfo header prepended
// for CKM_RSA_PKCS, which performs raw PKCS#1 v1.5 padding only.
var digestInfoPrefix = map[crypto.Hash][]byte{
	crypto.SHA256: {0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20},
	crypto.SHA384: {0x30, 0x41, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05, 0x00, 0x04, 0x30},
	crypto.SHA512: {0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05, 0x00, 0x04, 0x40},
}

// PKCS11Config locates a key on an HSM or token.
type PKCS11Config struct {
	// ModulePath is the PKCS#11 shared library.
	ModulePath string
	// TokenLabel selects the token; the first slot with a token is
	// used when empty.
	TokenLabel string
	PIN        string
	// KeyLabel is the CKA_LABEL of the private key.
	KeyLabel string
	// Certificate and chain travel alongside the token key.
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
}

// PKCS11Signer signs with a token-held private key. It satisfies the
// Signer interface so HSM and file credentials are interchangeable in
// the pipeline.
type PKCS11Signer struct {
	ctx     *pkcs11.Ctx
	session pkcs11.SessionHandle
	key     pkcs11.ObjectHandle
	cert    *x509.Certificate
	chain   []*x509.Certificate
}

// NewPKCS11Signer opens the module, logs in and locates the key.
func NewPKCS11Signer(cfg PKCS11Config) (*PKCS11Signer, error) {
	if cfg.Certificate == nil {
		return nil, fmt.Errorf("%w: pkcs11 signer needs the certificate", ErrSigning)
	}
	ctx := pkcs11.New(cfg.ModulePath)
	if ctx == nil {
		return nil, fmt.Errorf("%w: cannot load pkcs11 module %s", ErrSigning, cfg.ModulePath)
	}
	if err := ctx.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize: %v", ErrSigning, err)
	}

	slot, err := findSlot(ctx, cfg.TokenLabel)
	if err != nil {
		ctx.Finalize()
		return nil, err
	}
	session, err := ctx.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		ctx.Finalize()
		return nil, fmt.Errorf("%w: open session: %v", ErrSigning, err)
	}
	if err := ctx.Login(session, pkcs11.CKU_USER, cfg.PIN); err != nil {
		ctx.CloseSession(session)
		ctx.Finalize()
		return nil, fmt.Errorf("%w: login: %v", ErrSigning, err)
	}

	key, err := findKey(ctx, session, cfg.KeyLabel)
	if err != nil {
		ctx.Logout(session)
		ctx.CloseSession(session)
		ctx.Finalize()
		return nil, err
	}
	return &PKCS11Signer{
		ctx:     ctx,
		session: session,
		key:     key,
		cert:    cfg.Certificate,
		chain:   cfg.Chain,
	}, nil
}

func findSlot(ctx *pkcs11.Ctx, label string) (uint, error) {
	slots, err := ctx.GetSlotList(true)
	if err != nil {
		return 0, fmt.Errorf("%w: slot list: %v", ErrSigning, err)
	}
	for _, slot := range slots {
		if label == "" {
			return slot, nil
		}
		info, err := ctx.GetTokenInfo(slot)
		if err == nil && info.Label == label {
			return slot, nil
		}
	}
	return 0, fmt.Errorf("%w: no token %q", ErrSigning, label)
}

func findKey(ctx *pkcs11.Ctx, session pkcs11.SessionHandle, label string) (pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
	}
	if label != "" {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_LABEL, label))
	}
	if err := ctx.FindObjectsInit(session, template); err != nil {
		return 0, fmt.Errorf("%w: find key: %v", ErrSigning, err)
	}
	defer ctx.FindObjectsFinal(session)
	handles, _, err := ctx.FindObjects(session, 1)
	if err != nil {
		return 0, fmt.Errorf("%w: find key: %v", ErrSigning, err)
	}
	if len(handles) == 0 {
		return 0, fmt.Errorf("%w: no private key %q on token", ErrSigning, label)
	}
	return handles[0], nil
}

// Public implements crypto.Signer.
func (s *PKCS11Signer) Public() crypto.PublicKey { return s.cert.PublicKey }

// Sign implements crypto.Signer. RSA keys use CKM_RSA_PKCS with a
// DigestInfo-wrapped digest; ECDSA keys use CKM_ECDSA and re-encode the
// raw signature as ASN.1. PSS is not offered for token keys.
func (s *PKCS11Signer) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if _, ok := opts.(*rsa.PSSOptions); ok {
		return nil, fmt.Errorf("%w: pkcs11 backend does not support PSS", ErrSigning)
	}
	switch s.cert.PublicKey.(type) {
	case *rsa.PublicKey:
		prefix, ok := digestInfoPrefix[opts.HashFunc()]
		if !ok {
			return nil, fmt.Errorf("%w: unsupported digest %v", ErrSigning, opts.HashFunc())
		}
		mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil)}
		if err := s.ctx.SignInit(s.session, mech, s.key); err != nil {
			return nil, fmt.Errorf("%w: sign init: %v", ErrSigning, err)
		}
		sig, err := s.ctx.Sign(s.session, append(append([]byte{}, prefix...), digest...))
		if err != nil {
			return nil, fmt.Errorf("%w: sign: %v", ErrSigning, err)
		}
		return sig, nil
	case *ecdsa.PublicKey:
		mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)}
		if err := s.ctx.SignInit(s.session, mech, s.key); err != nil {
			return nil, fmt.Errorf("%w: sign init: %v", ErrSigning, err)
		}
		raw, err := s.ctx.Sign(s.session, digest)
		if err != nil {
			return nil, fmt.Errorf("%w: sign: %v", ErrSigning, err)
		}
		return ecdsaRawToASN1(raw)
	}
	return nil, fmt.Errorf("%w: unsupported key type %T", ErrSigning, s.cert.PublicKey)
}

// ecdsaRawToASN1 converts the token's fixed-width r||s output to the
// DER form the CMS container carries.
func ecdsaRawToASN1(raw []byte) ([]byte, error) {
	if len(raw)%2 != 0 || len(raw) == 0 {
		return nil, fmt.Errorf("%w: bad ecdsa signature length %d", ErrSigning, len(raw))
	}
	half := len(raw) / 2
	sig := struct{ R, S *big.Int }{
		R: new(big.Int).SetBytes(raw[:half]),
		S: new(big.Int).SetBytes(raw[half:]),
	}
	out, err := asn1.Marshal(sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return out, nil
}

// Certificate returns the configured certificate.
func (s *PKCS11Signer) Certificate() *x509.Certificate { return s.cert }

// Chain returns the configured chain.
func (s *PKCS11Signer) Chain() []*x509.Certificate { return s.chain }

// EstimateSize matches the file-credential estimate.
func (s *PKCS11Signer) EstimateSize() int {
	size := 4096 + len(s.cert.Raw)
	for _, c := range s.chain {
		size += len(c.Raw)
	}
	return size
}

// Close logs out and releases the module.
func (s *PKCS11Signer) Close() error {
	s.ctx.Logout(s.session)
	if err := s.ctx.CloseSession(s.session); err != nil {
		return err
	}
	if err := s.ctx.Finalize(); err != nil {
		return err
	}
	s.ctx.Destroy()
	return nil
}
