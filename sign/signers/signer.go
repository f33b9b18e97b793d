// Package signers provides the signing backends that turn a document
// digest into a CMS container: local keys loaded from a certificate
// store, and HSM-held keys behind PKCS#11.
package signers

import (
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"time"

	"dtrsign/certstore"
	"dtrsign/sign/cms"
)

// ErrSigning reports a backend failure while signing.
var ErrSigning = errors.New("signing failed")

// Signer is a signing identity: a private key operation plus the
// certificate material that goes into the container.
type Signer interface {
	crypto.Signer
	Certificate() *x509.Certificate
	Chain() []*x509.Certificate
	// EstimateSize returns an upper bound on the CMS container size,
	// used to pick the reservation capacity.
	EstimateSize() int
}

// BuildContainer signs a content digest into a detached CMS container.
func BuildContainer(s Signer, alg cms.Algorithm, digest []byte, signingTime time.Time) ([]byte, error) {
	container, err := cms.NewBuilder(s.Certificate(), s.Chain(), alg).SignDetached(digest, s, signingTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return container, nil
}

// BundleSigner signs with a credential loaded from a PKCS#12 container.
type BundleSigner struct {
	bundle *certstore.Bundle
	alg    cms.Algorithm
}

// NewBundleSigner wraps a loaded bundle, picking the algorithm from the
// key type and requested digest.
func NewBundleSigner(b *certstore.Bundle, hash crypto.Hash, preferPSS bool) (*BundleSigner, error) {
	alg, err := cms.AlgorithmFor(b.Certificate.PublicKey, hash, preferPSS)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return &BundleSigner{bundle: b, alg: alg}, nil
}

// Algorithm returns the selected CMS algorithm.
func (s *BundleSigner) Algorithm() cms.Algorithm { return s.alg }

// Public implements crypto.Signer.
func (s *BundleSigner) Public() crypto.PublicKey {
	return s.bundle.Certificate.PublicKey
}

// Sign implements crypto.Signer by delegating to the bundle key.
func (s *BundleSigner) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if s.bundle.Signer == nil {
		return nil, fmt.Errorf("%w: credential already closed", ErrSigning)
	}
	sig, err := s.bundle.Signer.Sign(rand, digest, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return sig, nil
}

// Certificate returns the end-entity certificate.
func (s *BundleSigner) Certificate() *x509.Certificate { return s.bundle.Certificate }

// Chain returns the intermediate certificates.
func (s *BundleSigner) Chain() []*x509.Certificate { return s.bundle.Chain }

// EstimateSize bounds the container: attributes, algorithm identifiers
// and the signature fit comfortably in the fixed margin, certificates
// are counted exactly.
func (s *BundleSigner) EstimateSize() int {
	size := 4096 + len(s.bundle.Certificate.Raw)
	for _, c := range s.bundle.Chain {
		size += len(c.Raw)
	}
	return size
}
