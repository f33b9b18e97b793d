package reader

import (
	"fmt"

	"dtrsign/pdf/generic"
)

// SignatureField is an AcroForm field of type Sig.
type SignatureField struct {
	Name   string
	Ref    generic.Reference
	Dict   *generic.Dict
	Signed bool
}

// EmbeddedSignature is the signed value of a signature field.
type EmbeddedSignature struct {
	FieldName string
	SubFilter string
	ByteRange [4]int64
	// Contents is the raw CMS blob with hex padding stripped.
	Contents []byte
	Name     string
	Reason   string
	SignedAt string
}

// SignatureFields enumerates the document's signature fields. Widget
// kids of a split field are not listed separately; the parent carries
// the field name and value.
func (d *Document) SignatureFields() ([]SignatureField, error) {
	if d.AcroForm == nil {
		return nil, nil
	}
	fieldsArr, err := d.Resolve(d.AcroForm.Get("Fields"))
	if err != nil {
		return nil, err
	}
	arr, ok := fieldsArr.(generic.Array)
	if !ok {
		return nil, nil
	}

	var out []SignatureField
	for _, item := range arr {
		ref, ok := item.(generic.Reference)
		if !ok {
			continue
		}
		dict, err := d.GetDict(ref.Number)
		if err != nil {
			return nil, err
		}
		if dict.GetName("FT") != "Sig" {
			continue
		}
		name := ""
		if t := dict.GetString("T"); t != nil {
			name = t.Text()
		}
		out = append(out, SignatureField{
			Name:   name,
			Ref:    ref,
			Dict:   dict,
			Signed: dict.Has("V"),
		})
	}
	return out, nil
}

// HasSignatureField reports whether a signature field with the given name
// exists.
func (d *Document) HasSignatureField(name string) (bool, error) {
	fields, err := d.SignatureFields()
	if err != nil {
		return false, err
	}
	for _, f := range fields {
		if f.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// EmbeddedSignatures extracts the signed values of all signed fields.
func (d *Document) EmbeddedSignatures() ([]EmbeddedSignature, error) {
	fields, err := d.SignatureFields()
	if err != nil {
		return nil, err
	}
	var out []EmbeddedSignature
	for _, f := range fields {
		if !f.Signed {
			continue
		}
		vObj, err := d.Resolve(f.Dict.Get("V"))
		if err != nil {
			return nil, err
		}
		sigDict, ok := vObj.(*generic.Dict)
		if !ok {
			return nil, fmt.Errorf("%w: signature value of %q is not a dictionary", ErrDocumentStructure, f.Name)
		}
		sig, err := d.embeddedFromDict(f.Name, sigDict)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, nil
}

func (d *Document) embeddedFromDict(fieldName string, sigDict *generic.Dict) (EmbeddedSignature, error) {
	sig := EmbeddedSignature{
		FieldName: fieldName,
		SubFilter: string(sigDict.GetName("SubFilter")),
	}
	br := sigDict.GetArray("ByteRange")
	if len(br) != 4 {
		return sig, fmt.Errorf("%w: signature %q has no ByteRange", ErrDocumentStructure, fieldName)
	}
	for i, item := range br {
		n, ok := item.(generic.Integer)
		if !ok {
			return sig, fmt.Errorf("%w: non-integer ByteRange entry", ErrDocumentStructure)
		}
		sig.ByteRange[i] = int64(n)
	}
	contents := sigDict.GetString("Contents")
	if contents == nil {
		return sig, fmt.Errorf("%w: signature %q has no Contents", ErrDocumentStructure, fieldName)
	}
	sig.Contents = trimZeroPadding(contents.Value)

	if s := sigDict.GetString("Name"); s != nil {
		sig.Name = s.Text()
	}
	if s := sigDict.GetString("Reason"); s != nil {
		sig.Reason = s.Text()
	}
	if s := sigDict.GetString("M"); s != nil {
		sig.SignedAt = s.Text()
	}
	return sig, nil
}

// trimZeroPadding strips the trailing zero bytes left over from the hex
// placeholder reservation.
func trimZeroPadding(b []byte) []byte {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return b[:end]
}

// SignedData concatenates the two byte ranges the signature covers.
func (e EmbeddedSignature) SignedData(doc []byte) ([]byte, error) {
	for i := 0; i < 4; i += 2 {
		start, length := e.ByteRange[i], e.ByteRange[i+1]
		if start < 0 || length < 0 || start+length > int64(len(doc)) {
			return nil, fmt.Errorf("%w: ByteRange outside the document", ErrDocumentStructure)
		}
	}
	out := make([]byte, 0, e.ByteRange[1]+e.ByteRange[3])
	out = append(out, doc[e.ByteRange[0]:e.ByteRange[0]+e.ByteRange[1]]...)
	out = append(out, doc[e.ByteRange[2]:e.ByteRange[2]+e.ByteRange[3]]...)
	return out, nil
}
