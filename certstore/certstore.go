// Package certstore loads signing credentials from PKCS#12 containers
// and enforces the checks a credential must pass before it is allowed to
// sign: decodable container, supported key type, key matching the
// certificate, and a valid certificate window.
package certstore

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

var (
	// ErrInvalidCredentials reports a wrong container passphrase.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrMalformedCertificate reports a container or certificate that
	// cannot be used: undecodable data, missing key, or a key that does
	// not match the certificate.
	ErrMalformedCertificate = errors.New("malformed certificate container")
	// ErrUnsupportedKeyType reports a private key that is neither RSA
	// nor ECDSA.
	ErrUnsupportedKeyType = errors.New("unsupported key type")
	// ErrExpiredCertificate reports a certificate outside its validity
	// window.
	ErrExpiredCertificate = errors.New("certificate outside validity window")
)

// Bundle is a loaded signing credential. Close must be called on every
// path once signing is finished; it wipes the private key material.
type Bundle struct {
	Signer      crypto.Signer
	Certificate *x509.Certificate
	Chain       []*x509.Certificate

	closed bool
}

// Load decodes a PKCS#12 container with the given passphrase.
func Load(p12 []byte, passphrase string) (*Bundle, error) {
	key, cert, chain, err := pkcs12.DecodeChain(p12, passphrase)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedCertificate, err)
	}
	if cert == nil {
		return nil, fmt.Errorf("%w: no certificate in container", ErrMalformedCertificate)
	}

	var signer crypto.Signer
	switch k := key.(type) {
	case *rsa.PrivateKey:
		signer = k
	case *ecdsa.PrivateKey:
		signer = k
	case nil:
		return nil, fmt.Errorf("%w: no private key in container", ErrMalformedCertificate)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKeyType, key)
	}

	pub, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(cert.PublicKey) {
		return nil, fmt.Errorf("%w: private key does not match certificate", ErrMalformedCertificate)
	}

	return &Bundle{Signer: signer, Certificate: cert, Chain: chain}, nil
}

// Validate checks the certificate against the given time and, when the
// certificate declares key usage, that it permits signing.
func (b *Bundle) Validate(now time.Time) error {
	cert := b.Certificate
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("%w: not valid before %s", ErrExpiredCertificate, cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("%w: expired %s", ErrExpiredCertificate, cert.NotAfter.Format(time.RFC3339))
	}
	if cert.KeyUsage != 0 {
		const signing = x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment
		if cert.KeyUsage&signing == 0 {
			return fmt.Errorf("%w: key usage does not permit signing", ErrMalformedCertificate)
		}
	}
	return nil
}

// Close wipes the private key material. The bundle cannot sign after.
func (b *Bundle) Close() {
	if b == nil || b.closed {
		return
	}
	b.closed = true
	switch k := b.Signer.(type) {
	case *rsa.PrivateKey:
		zeroBig(k.D)
		for _, p := range k.Primes {
			zeroBig(p)
		}
		zeroBig(k.Precomputed.Dp)
		zeroBig(k.Precomputed.Dq)
		zeroBig(k.Precomputed.Qinv)
	case *ecdsa.PrivateKey:
		zeroBig(k.D)
	}
	b.Signer = nil
}

// zeroBig overwrites the backing words of a big integer.
func zeroBig(x *big.Int) {
	if x == nil {
		return
	}
	words := x.Bits()
	for i := range words {
		words[i] = 0
	}
}

// Info is a displayable summary of the credential.
type Info struct {
	Subject      string
	Issuer       string
	SerialNumber string
	NotBefore    time.Time
	NotAfter     time.Time
	KeyType      string
	KeyBits      int
	ChainLength  int
}

// Info summarizes the bundle's certificate and key.
func (b *Bundle) Info() Info {
	cert := b.Certificate
	info := Info{
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		SerialNumber: cert.SerialNumber.String(),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		ChainLength:  len(b.Chain),
	}
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		info.KeyType = "RSA"
		info.KeyBits = pub.N.BitLen()
	case *ecdsa.PublicKey:
		info.KeyType = "ECDSA"
		info.KeyBits = pub.Curve.Params().BitSize
	default:
		info.KeyType = fmt.Sprintf("%T", pub)
	}
	return info
}
