// Package cms builds and verifies CMS (PKCS#7) SignedData containers
// for detached PDF signatures: signed attributes with the content
// digest, signing time and an ESS signing-certificate-v2 binding, DER
// SET-OF ordering, and RSA (PKCS#1 v1.5 and PSS) or ECDSA signatures.
package cms

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"
)

// ErrSigning reports a failure while producing a signature.
var ErrSigning = errors.New("signing failed")

// ErrVerification reports a container that does not verify.
var ErrVerification = errors.New("signature verification failed")

var (
	oidData                 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	oidSignedData           = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	oidAttrContentType      = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	oidAttrMessageDigest    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	oidAttrSigningTime      = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
	oidAttrSigningCertV2    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
	oidSHA256               = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidSHA384               = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	oidSHA512               = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
	oidRSAEncryption        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	oidRSAPSS               = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 10}
	oidMGF1                 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 8}
	oidECDSAWithSHA256      = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	oidECDSAWithSHA384      = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	oidECDSAWithSHA512      = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}
)

// Algorithm pairs a digest with a signature scheme.
type Algorithm int

const (
	SHA256WithRSA Algorithm = iota
	SHA384WithRSA
	SHA512WithRSA
	SHA256WithRSAPSS
	SHA384WithRSAPSS
	SHA512WithRSAPSS
	SHA256WithECDSA
	SHA384WithECDSA
	SHA512WithECDSA
)

// Hash returns the digest the algorithm uses.
func (a Algorithm) Hash() crypto.Hash {
	switch a {
	case SHA384WithRSA, SHA384WithRSAPSS, SHA384WithECDSA:
		return crypto.SHA384
	case SHA512WithRSA, SHA512WithRSAPSS, SHA512WithECDSA:
		return crypto.SHA512
	default:
		return crypto.SHA256
	}
}

func (a Algorithm) pss() bool {
	return a == SHA256WithRSAPSS || a == SHA384WithRSAPSS || a == SHA512WithRSAPSS
}

func (a Algorithm) ecdsa() bool {
	return a == SHA256WithECDSA || a == SHA384WithECDSA || a == SHA512WithECDSA
}

func (a Algorithm) String() string {
	switch a {
	case SHA256WithRSA:
		return "SHA256-RSA"
	case SHA384WithRSA:
		return "SHA384-RSA"
	case SHA512WithRSA:
		return "SHA512-RSA"
	case SHA256WithRSAPSS:
		return "SHA256-RSAPSS"
	case SHA384WithRSAPSS:
		return "SHA384-RSAPSS"
	case SHA512WithRSAPSS:
		return "SHA512-RSAPSS"
	case SHA256WithECDSA:
		return "SHA256-ECDSA"
	case SHA384WithECDSA:
		return "SHA384-ECDSA"
	case SHA512WithECDSA:
		return "SHA512-ECDSA"
	}
	return "unknown"
}

// AlgorithmFor picks the algorithm for a public key and digest.
func AlgorithmFor(pub crypto.PublicKey, h crypto.Hash, preferPSS bool) (Algorithm, error) {
	switch pub.(type) {
	case *rsa.PublicKey:
		switch h {
		case crypto.SHA384:
			if preferPSS {
				return SHA384WithRSAPSS, nil
			}
			return SHA384WithRSA, nil
		case crypto.SHA512:
			if preferPSS {
				return SHA512WithRSAPSS, nil
			}
			return SHA512WithRSA, nil
		default:
			if preferPSS {
				return SHA256WithRSAPSS, nil
			}
			return SHA256WithRSA, nil
		}
	case *ecdsa.PublicKey:
		switch h {
		case crypto.SHA384:
			return SHA384WithECDSA, nil
		case crypto.SHA512:
			return SHA512WithECDSA, nil
		default:
			return SHA256WithECDSA, nil
		}
	}
	return 0, fmt.Errorf("%w: no algorithm for key type %T", ErrSigning, pub)
}

func digestOID(h crypto.Hash) asn1.ObjectIdentifier {
	switch h {
	case crypto.SHA384:
		return oidSHA384
	case crypto.SHA512:
		return oidSHA512
	default:
		return oidSHA256
	}
}

func hashForOID(oid asn1.ObjectIdentifier) (crypto.Hash, bool) {
	switch {
	case oid.Equal(oidSHA256):
		return crypto.SHA256, true
	case oid.Equal(oidSHA384):
		return crypto.SHA384, true
	case oid.Equal(oidSHA512):
		return crypto.SHA512, true
	}
	return 0, false
}

type attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

type issuerAndSerial struct {
	Issuer asn1.RawValue
	Serial *big.Int
}

type signerInfo struct {
	Version            int
	IssuerAndSerial    issuerAndSerial
	DigestAlgorithm    pkix.AlgorithmIdentifier
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
}

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"optional,explicit,tag:0"`
}

type signedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	ContentInfo      contentInfo
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	SignerInfos      []signerInfo  `asn1:"set"`
}

type essCertIDv2 struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	CertHash      []byte
}

type signingCertificateV2 struct {
	Certs []essCertIDv2
}

// Builder assembles detached SignedData containers for one signing
// identity.
type Builder struct {
	cert  *x509.Certificate
	chain []*x509.Certificate
	alg   Algorithm
}

// NewBuilder creates a builder for the given certificate, optional
// chain, and algorithm.
func NewBuilder(cert *x509.Certificate, chain []*x509.Certificate, alg Algorithm) *Builder {
	return &Builder{cert: cert, chain: chain, alg: alg}
}

// Algorithm returns the configured algorithm.
func (b *Builder) Algorithm() Algorithm { return b.alg }

// SignDetached builds a detached SignedData over content whose digest is
// already computed. The digest algorithm must match the builder's.
func (b *Builder) SignDetached(contentDigest []byte, key crypto.Signer, signingTime time.Time) ([]byte, error) {
	h := b.alg.Hash()
	if len(contentDigest) != h.Size() {
		return nil, fmt.Errorf("%w: digest is %d bytes, %v needs %d", ErrSigning, len(contentDigest), h, h.Size())
	}

	attrSet, err := b.signedAttributes(contentDigest, signingTime)
	if err != nil {
		return nil, err
	}

	hasher := h.New()
	hasher.Write(attrSet)
	signature, err := b.signDigest(hasher.Sum(nil), key)
	if err != nil {
		return nil, err
	}

	sigAlg, err := b.signatureAlgorithmID()
	if err != nil {
		return nil, err
	}
	si := signerInfo{
		Version: 1,
		IssuerAndSerial: issuerAndSerial{
			Issuer: asn1.RawValue{FullBytes: b.cert.RawIssuer},
			Serial: b.cert.SerialNumber,
		},
		DigestAlgorithm: pkix.AlgorithmIdentifier{
			Algorithm:  digestOID(h),
			Parameters: asn1.NullRawValue,
		},
		// Reuse the SET contents under the IMPLICIT [0] tag.
		SignedAttrs: asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        0,
			IsCompound: true,
			Bytes:      attrSet[headerLen(attrSet):],
		},
		SignatureAlgorithm: sigAlg,
		Signature:          signature,
	}

	var certsRaw []byte
	certsRaw = append(certsRaw, b.cert.Raw...)
	for _, c := range b.chain {
		certsRaw = append(certsRaw, c.Raw...)
	}

	sd := signedData{
		Version: 1,
		DigestAlgorithms: []pkix.AlgorithmIdentifier{{
			Algorithm:  digestOID(h),
			Parameters: asn1.NullRawValue,
		}},
		ContentInfo: contentInfo{ContentType: oidData},
		Certificates: asn1.RawValue{
			Class:      asn1.ClassContextSpecific,
			Tag:        0,
			IsCompound: true,
			Bytes:      certsRaw,
		},
		SignerInfos: []signerInfo{si},
	}
	sdDER, err := asn1.Marshal(sd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	outer := contentInfo{
		ContentType: oidSignedData,
		Content:     asn1.RawValue{FullBytes: sdDER},
	}
	out, err := asn1.Marshal(outer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return out, nil
}

// signedAttributes builds the DER SET OF signed attributes, sorted per
// DER and tagged 0x31. These exact bytes are what gets signed.
func (b *Builder) signedAttributes(contentDigest []byte, signingTime time.Time) ([]byte, error) {
	certDigest := sha256.Sum256(b.cert.Raw)
	scv2, err := asn1.Marshal(signingCertificateV2{
		Certs: []essCertIDv2{{
			HashAlgorithm: pkix.AlgorithmIdentifier{Algorithm: oidSHA256},
			CertHash:      certDigest[:],
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	attrs := []attribute{
		{Type: oidAttrContentType, Values: []asn1.RawValue{mustMarshal(oidData)}},
		{Type: oidAttrSigningTime, Values: []asn1.RawValue{mustMarshal(signingTime.UTC())}},
		{Type: oidAttrMessageDigest, Values: []asn1.RawValue{mustMarshal(contentDigest)}},
		{Type: oidAttrSigningCertV2, Values: []asn1.RawValue{{FullBytes: scv2}}},
	}

	encoded := make([][]byte, len(attrs))
	for i, a := range attrs {
		der, err := asn1.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSigning, err)
		}
		encoded[i] = der
	}
	// DER SET OF orders elements by their encoding.
	sort.Slice(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	})

	var inner []byte
	for _, der := range encoded {
		inner = append(inner, der...)
	}
	set := asn1.RawValue{Class: asn1.ClassUniversal, Tag: 17, IsCompound: true, Bytes: inner}
	return asn1.Marshal(set)
}

func mustMarshal(v interface{}) asn1.RawValue {
	der, err := asn1.Marshal(v)
	if err != nil {
		panic(err)
	}
	return asn1.RawValue{FullBytes: der}
}

// headerLen returns the length of the tag and length octets of a DER
// element.
func headerLen(der []byte) int {
	if len(der) < 2 {
		return len(der)
	}
	if der[1] < 0x80 {
		return 2
	}
	return 2 + int(der[1]&0x7f)
}

func (b *Builder) signDigest(digest []byte, key crypto.Signer) ([]byte, error) {
	h := b.alg.Hash()
	var opts crypto.SignerOpts = h
	if b.alg.pss() {
		opts = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: h}
	}
	sig, err := key.Sign(rand.Reader, digest, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return sig, nil
}

func (b *Builder) signatureAlgorithmID() (pkix.AlgorithmIdentifier, error) {
	h := b.alg.Hash()
	switch {
	case b.alg.ecdsa():
		var oid asn1.ObjectIdentifier
		switch h {
		case crypto.SHA384:
			oid = oidECDSAWithSHA384
		case crypto.SHA512:
			oid = oidECDSAWithSHA512
		default:
			oid = oidECDSAWithSHA256
		}
		return pkix.AlgorithmIdentifier{Algorithm: oid}, nil
	case b.alg.pss():
		params, err := pssParameters(h)
		if err != nil {
			return pkix.AlgorithmIdentifier{}, err
		}
		return pkix.AlgorithmIdentifier{Algorithm: oidRSAPSS, Parameters: params}, nil
	default:
		return pkix.AlgorithmIdentifier{Algorithm: oidRSAEncryption, Parameters: asn1.NullRawValue}, nil
	}
}

// pssParameters builds RSASSA-PSS-params for the given hash with MGF1
// and a salt the size of the digest.
func pssParameters(h crypto.Hash) (asn1.RawValue, error) {
	hashAlg := pkix.AlgorithmIdentifier{Algorithm: digestOID(h), Parameters: asn1.NullRawValue}
	hashDER, err := asn1.Marshal(hashAlg)
	if err != nil {
		return asn1.RawValue{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	mgf := pkix.AlgorithmIdentifier{Algorithm: oidMGF1, Parameters: asn1.RawValue{FullBytes: hashDER}}

	type pssParams struct {
		Hash       pkix.AlgorithmIdentifier `asn1:"explicit,tag:0"`
		MGF        pkix.AlgorithmIdentifier `asn1:"explicit,tag:1"`
		SaltLength int                      `asn1:"explicit,tag:2"`
	}
	der, err := asn1.Marshal(pssParams{Hash: hashAlg, MGF: mgf, SaltLength: h.Size()})
	if err != nil {
		return asn1.RawValue{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return asn1.RawValue{FullBytes: der}, nil
}
