package reader

import (
	"fmt"

	"dtrsign/pdf/filters"
	"dtrsign/pdf/generic"
)

// GetObject loads the object with the given number, using the xref and
// caching the result.
func (d *Document) GetObject(num int) (generic.Object, error) {
	if obj, ok := d.objects[num]; ok {
		return obj, nil
	}
	entry, ok := d.XRef[num]
	if !ok {
		return nil, fmt.Errorf("%w: object %d not in xref", ErrDocumentStructure, num)
	}
	if entry.Free {
		return generic.Null{}, nil
	}

	var obj generic.Object
	var err error
	if entry.InObjectStream {
		obj, err = d.objectFromStream(entry.StreamNumber, entry.StreamIndex)
	} else {
		p := generic.NewParser(d.data)
		if err = p.Seek(entry.Offset); err == nil {
			var ind *generic.Indirect
			ind, err = p.ParseIndirect()
			if err == nil {
				if ind.Number != num {
					err = fmt.Errorf("%w: xref points object %d at object %d", ErrDocumentStructure, num, ind.Number)
				} else {
					obj = ind.Object
				}
			}
		}
	}
	if err != nil {
		return nil, err
	}
	d.objects[num] = obj
	return obj, nil
}

// GetDict loads object num and requires it to be a dictionary.
func (d *Document) GetDict(num int) (*generic.Dict, error) {
	obj, err := d.GetObject(num)
	if err != nil {
		return nil, err
	}
	if dict, ok := obj.(*generic.Dict); ok {
		return dict, nil
	}
	if stream, ok := obj.(*generic.Stream); ok {
		return stream.Dict, nil
	}
	return nil, fmt.Errorf("%w: object %d is not a dictionary", ErrDocumentStructure, num)
}

// Resolve follows a reference to its target; non-references pass through.
func (d *Document) Resolve(obj generic.Object) (generic.Object, error) {
	for i := 0; i < 32; i++ {
		ref, ok := obj.(generic.Reference)
		if !ok {
			return obj, nil
		}
		target, err := d.GetObject(ref.Number)
		if err != nil {
			return nil, err
		}
		obj = target
	}
	return nil, fmt.Errorf("%w: reference chain too long", ErrDocumentStructure)
}

// objectFromStream extracts the idx-th object from object stream strNum.
func (d *Document) objectFromStream(strNum, idx int) (generic.Object, error) {
	container, err := d.GetObject(strNum)
	if err != nil {
		return nil, err
	}
	stream, ok := container.(*generic.Stream)
	if !ok || stream.Dict.GetName("Type") != "ObjStm" {
		return nil, fmt.Errorf("%w: object %d is not an object stream", ErrDocumentStructure, strNum)
	}
	n, _ := stream.Dict.GetInt("N")
	first, _ := stream.Dict.GetInt("First")
	if idx < 0 || int64(idx) >= n {
		return nil, fmt.Errorf("%w: object stream index %d out of range", ErrDocumentStructure, idx)
	}

	data, err := d.DecodedStream(stream)
	if err != nil {
		return nil, err
	}

	// The header is N pairs of "objnum offset" relative to First.
	hp := generic.NewParser(data)
	var offset int64 = -1
	for i := int64(0); i < n; i++ {
		hp.SkipWhitespace()
		numObj, err := hp.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("%w: object stream header: %v", ErrDocumentStructure, err)
		}
		hp.SkipWhitespace()
		offObj, err := hp.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("%w: object stream header: %v", ErrDocumentStructure, err)
		}
		if int64(idx) == i {
			_ = numObj
			off, ok := offObj.(generic.Integer)
			if !ok {
				return nil, fmt.Errorf("%w: object stream offset not integer", ErrDocumentStructure)
			}
			offset = first + int64(off)
		}
	}
	if offset < 0 || offset > int64(len(data)) {
		return nil, fmt.Errorf("%w: object stream offset out of range", ErrDocumentStructure)
	}

	op := generic.NewParser(data)
	if err := op.Seek(offset); err != nil {
		return nil, err
	}
	return op.ParseObjectOrRef()
}

// DecodedStream applies the stream's filter chain to its raw data.
func (d *Document) DecodedStream(s *generic.Stream) ([]byte, error) {
	names, parms, err := d.filterChain(s.Dict)
	if err != nil {
		return nil, err
	}
	data := s.Raw
	for i, name := range names {
		var p *filters.Params
		if i < len(parms) {
			p = parms[i]
		}
		data, err = filters.Decode(name, data, p)
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (d *Document) filterChain(dict *generic.Dict) ([]string, []*filters.Params, error) {
	var names []string
	switch f := dict.Get("Filter").(type) {
	case nil:
	case generic.Name:
		names = []string{string(f)}
	case generic.Array:
		for _, item := range f {
			name, ok := item.(generic.Name)
			if !ok {
				return nil, nil, fmt.Errorf("%w: bad Filter array", ErrDocumentStructure)
			}
			names = append(names, string(name))
		}
	default:
		return nil, nil, fmt.Errorf("%w: bad Filter entry", ErrDocumentStructure)
	}

	var parms []*filters.Params
	switch dp := dict.Get("DecodeParms").(type) {
	case nil:
	case *generic.Dict:
		parms = append(parms, paramsFromDict(dp))
	case generic.Array:
		for _, item := range dp {
			resolved, err := d.Resolve(item)
			if err != nil {
				return nil, nil, err
			}
			if sub, ok := resolved.(*generic.Dict); ok {
				parms = append(parms, paramsFromDict(sub))
			} else {
				parms = append(parms, nil)
			}
		}
	}
	return names, parms, nil
}

func paramsFromDict(d *generic.Dict) *filters.Params {
	p := &filters.Params{}
	if v, ok := d.GetInt("Predictor"); ok {
		p.Predictor = int(v)
	}
	if v, ok := d.GetInt("Columns"); ok {
		p.Columns = int(v)
	}
	if v, ok := d.GetInt("Colors"); ok {
		p.Colors = int(v)
	}
	if v, ok := d.GetInt("BitsPerComponent"); ok {
		p.BitsPerComponent = int(v)
	}
	return p
}
