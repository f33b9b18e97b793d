package dtrsign

import (
	"errors"

	"dtrsign/certstore"
	"dtrsign/pdf/generic"
	"dtrsign/pdf/reader"
	"dtrsign/pdf/writer"
	"dtrsign/sign/cms"
	"dtrsign/sign/signers"
	"dtrsign/stamp"
)

// ErrRequest reports an invalid signing request: unknown role, missing
// input bytes or an impossible role/document pairing.
var ErrRequest = errors.New("invalid signing request")

// Kind is a stable failure classification. Transport layers map a Kind
// to a response without inspecting error text.
type Kind int

const (
	// KindInternal covers failures outside the stable taxonomy,
	// including invalid requests and unusable stamp images.
	KindInternal Kind = iota
	KindInvalidCredentials
	KindMalformedCertificate
	KindUnsupportedKeyType
	KindExpiredCertificate
	KindPlacementOutOfBounds
	KindGridCapacityExceeded
	KindSigning
	KindReservedSpaceExhausted
	KindDocumentStructure
)

// String returns the kind's stable identifier.
func (k Kind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid-credentials"
	case KindMalformedCertificate:
		return "malformed-certificate"
	case KindUnsupportedKeyType:
		return "unsupported-key-type"
	case KindExpiredCertificate:
		return "expired-certificate"
	case KindPlacementOutOfBounds:
		return "placement-out-of-bounds"
	case KindGridCapacityExceeded:
		return "grid-capacity-exceeded"
	case KindSigning:
		return "signing"
	case KindReservedSpaceExhausted:
		return "reserved-space-exhausted"
	case KindDocumentStructure:
		return "document-structure"
	}
	return "internal"
}

// Classify maps a pipeline error to its Kind.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, certstore.ErrInvalidCredentials):
		return KindInvalidCredentials
	case errors.Is(err, certstore.ErrMalformedCertificate):
		return KindMalformedCertificate
	case errors.Is(err, certstore.ErrUnsupportedKeyType):
		return KindUnsupportedKeyType
	case errors.Is(err, certstore.ErrExpiredCertificate):
		return KindExpiredCertificate
	case errors.Is(err, stamp.ErrPlacementOutOfBounds):
		return KindPlacementOutOfBounds
	case errors.Is(err, stamp.ErrGridCapacityExceeded):
		return KindGridCapacityExceeded
	case errors.Is(err, writer.ErrReservedSpaceExhausted):
		return KindReservedSpaceExhausted
	case errors.Is(err, signers.ErrSigning), errors.Is(err, cms.ErrSigning):
		return KindSigning
	case errors.Is(err, reader.ErrDocumentStructure), errors.Is(err, generic.ErrSyntax),
		errors.Is(err, writer.ErrFieldExists):
		return KindDocumentStructure
	}
	return KindInternal
}
