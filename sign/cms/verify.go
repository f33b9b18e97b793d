package cms

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"time"
)

// VerifyResult reports what a verified container attested to.
type VerifyResult struct {
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
	SigningTime time.Time
	Hash        crypto.Hash
}

// Verify checks a detached SignedData container against the content it
// covers. It confirms the message digest attribute matches the content
// and that the signature over the signed attributes is valid for the
// embedded certificate. Chain building against trust anchors is out of
// scope here.
func Verify(container, content []byte) (*VerifyResult, error) {
	var outer contentInfo
	if _, err := asn1.Unmarshal(container, &outer); err != nil {
		return nil, fmt.Errorf("%w: bad ContentInfo: %v", ErrVerification, err)
	}
	if !outer.ContentType.Equal(oidSignedData) {
		return nil, fmt.Errorf("%w: not a SignedData container", ErrVerification)
	}
	var sd signedData
	if _, err := asn1.Unmarshal(outer.Content.Bytes, &sd); err != nil {
		// Content is EXPLICIT [0]; Bytes holds the SignedData element.
		if _, err2 := asn1.Unmarshal(outer.Content.FullBytes, &sd); err2 != nil {
			return nil, fmt.Errorf("%w: bad SignedData: %v", ErrVerification, err)
		}
	}
	if len(sd.SignerInfos) == 0 {
		return nil, fmt.Errorf("%w: no signers", ErrVerification)
	}
	si := sd.SignerInfos[0]

	certs, err := x509.ParseCertificates(sd.Certificates.Bytes)
	if err != nil || len(certs) == 0 {
		return nil, fmt.Errorf("%w: no certificates: %v", ErrVerification, err)
	}
	cert := findSigner(certs, si)
	if cert == nil {
		return nil, fmt.Errorf("%w: signer certificate not in container", ErrVerification)
	}

	h, ok := hashForOID(si.DigestAlgorithm.Algorithm)
	if !ok {
		return nil, fmt.Errorf("%w: unknown digest algorithm %v", ErrVerification, si.DigestAlgorithm.Algorithm)
	}

	attrs, err := parseAttributes(si.SignedAttrs.Bytes)
	if err != nil {
		return nil, err
	}

	hasher := h.New()
	hasher.Write(content)
	contentDigest := hasher.Sum(nil)
	attested, err := attrOctetString(attrs, oidAttrMessageDigest)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(attested, contentDigest) {
		return nil, fmt.Errorf("%w: message digest does not match content", ErrVerification)
	}

	// The signature covers the attributes re-tagged as SET OF.
	set := retagAsSet(si.SignedAttrs)
	hasher = h.New()
	hasher.Write(set)
	if err := verifySignature(cert, si, hasher.Sum(nil), h); err != nil {
		return nil, err
	}

	result := &VerifyResult{Certificate: cert, Hash: h}
	for _, c := range certs {
		if !c.Equal(cert) {
			result.Chain = append(result.Chain, c)
		}
	}
	if ts, err := attrTime(attrs, oidAttrSigningTime); err == nil {
		result.SigningTime = ts
	}
	return result, nil
}

func findSigner(certs []*x509.Certificate, si signerInfo) *x509.Certificate {
	for _, c := range certs {
		if c.SerialNumber.Cmp(si.IssuerAndSerial.Serial) == 0 &&
			bytes.Equal(c.RawIssuer, si.IssuerAndSerial.Issuer.FullBytes) {
			return c
		}
	}
	return nil
}

// retagAsSet rebuilds the signed attributes with the universal SET tag,
// which is what the signature was computed over.
func retagAsSet(raw asn1.RawValue) []byte {
	full := raw.FullBytes
	if len(full) == 0 {
		out, _ := asn1.Marshal(asn1.RawValue{Class: asn1.ClassUniversal, Tag: 17, IsCompound: true, Bytes: raw.Bytes})
		return out
	}
	out := make([]byte, len(full))
	copy(out, full)
	out[0] = 0x31
	return out
}

func parseAttributes(data []byte) ([]attribute, error) {
	var out []attribute
	rest := data
	for len(rest) > 0 {
		var a attribute
		var err error
		rest, err = asn1.Unmarshal(rest, &a)
		if err != nil {
			return nil, fmt.Errorf("%w: bad signed attribute: %v", ErrVerification, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func attrOctetString(attrs []attribute, oid asn1.ObjectIdentifier) ([]byte, error) {
	for _, a := range attrs {
		if a.Type.Equal(oid) && len(a.Values) > 0 {
			var v []byte
			if _, err := asn1.Unmarshal(a.Values[0].FullBytes, &v); err != nil {
				return nil, fmt.Errorf("%w: bad attribute %v: %v", ErrVerification, oid, err)
			}
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: attribute %v missing", ErrVerification, oid)
}

func attrTime(attrs []attribute, oid asn1.ObjectIdentifier) (time.Time, error) {
	for _, a := range attrs {
		if a.Type.Equal(oid) && len(a.Values) > 0 {
			var t time.Time
			if _, err := asn1.Unmarshal(a.Values[0].FullBytes, &t); err != nil {
				return time.Time{}, fmt.Errorf("%w: bad time attribute: %v", ErrVerification, err)
			}
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: attribute %v missing", ErrVerification, oid)
}

func verifySignature(cert *x509.Certificate, si signerInfo, attrDigest []byte, h crypto.Hash) error {
	alg := si.SignatureAlgorithm.Algorithm
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		if alg.Equal(oidRSAPSS) {
			opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: h}
			if err := rsa.VerifyPSS(pub, h, attrDigest, si.Signature, opts); err != nil {
				return fmt.Errorf("%w: %v", ErrVerification, err)
			}
			return nil
		}
		if err := rsa.VerifyPKCS1v15(pub, h, attrDigest, si.Signature); err != nil {
			return fmt.Errorf("%w: %v", ErrVerification, err)
		}
		return nil
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(pub, attrDigest, si.Signature) {
			return fmt.Errorf("%w: ecdsa signature invalid", ErrVerification)
		}
		return nil
	}
	return fmt.Errorf("%w: unsupported public key %T", ErrVerification, cert.PublicKey)
}
