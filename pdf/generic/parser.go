package generic

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
)

// ErrSyntax reports malformed PDF syntax.
var ErrSyntax = errors.New("pdf syntax error")

// Parser tokenizes PDF object syntax from an in-memory byte slice.
type Parser struct {
	data []byte
	pos  int
}

// NewParser creates a parser over data.
func NewParser(data []byte) *Parser {
	return &Parser{data: data}
}

// Seek positions the parser at an absolute offset.
func (p *Parser) Seek(offset int64) error {
	if offset < 0 || offset > int64(len(p.data)) {
		return fmt.Errorf("%w: seek offset %d out of range", ErrSyntax, offset)
	}
	p.pos = int(offset)
	return nil
}

// Pos returns the current offset.
func (p *Parser) Pos() int64 { return int64(p.pos) }

func (p *Parser) readByte() (byte, error) {
	if p.pos >= len(p.data) {
		return 0, fmt.Errorf("%w: unexpected end of data", ErrSyntax)
	}
	b := p.data[p.pos]
	p.pos++
	return b, nil
}

func (p *Parser) unreadByte() {
	if p.pos > 0 {
		p.pos--
	}
}

func (p *Parser) peekByte() (byte, bool) {
	if p.pos >= len(p.data) {
		return 0, false
	}
	return p.data[p.pos], true
}

func isWhitespace(c byte) bool {
	switch c {
	case 0x00, 0x09, 0x0a, 0x0c, 0x0d, 0x20:
		return true
	}
	return false
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// SkipWhitespace consumes whitespace and comments.
func (p *Parser) SkipWhitespace() {
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		if isWhitespace(c) {
			p.pos++
			continue
		}
		if c == '%' {
			for p.pos < len(p.data) && p.data[p.pos] != '\n' && p.data[p.pos] != '\r' {
				p.pos++
			}
			continue
		}
		break
	}
}

// readToken reads a regular token (keyword or number text).
func (p *Parser) readToken() string {
	start := p.pos
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		if isWhitespace(c) || isDelimiter(c) {
			break
		}
		p.pos++
	}
	return string(p.data[start:p.pos])
}

// ParseObject parses the next object. Indirect references are not
// resolved here; use ParseObjectOrRef where references can occur.
func (p *Parser) ParseObject() (Object, error) {
	p.SkipWhitespace()
	c, ok := p.peekByte()
	if !ok {
		return nil, fmt.Errorf("%w: unexpected end of data", ErrSyntax)
	}

	switch {
	case c == '/':
		return p.parseName()
	case c == '(':
		return p.parseLiteralString()
	case c == '<':
		if p.pos+1 < len(p.data) && p.data[p.pos+1] == '<' {
			return p.parseDict()
		}
		return p.parseHexString()
	case c == '[':
		return p.parseArray()
	case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
		return p.parseNumber()
	}

	tok := p.readToken()
	switch tok {
	case "true":
		return Boolean(true), nil
	case "false":
		return Boolean(false), nil
	case "null":
		return Null{}, nil
	}
	return nil, fmt.Errorf("%w: unexpected token %q at offset %d", ErrSyntax, tok, p.pos)
}

// ParseObjectOrRef parses the next object, folding "n g R" into a
// Reference via backtracking.
func (p *Parser) ParseObjectOrRef() (Object, error) {
	p.SkipWhitespace()
	save := p.pos

	obj, err := p.ParseObject()
	if err != nil {
		return nil, err
	}
	num, ok := obj.(Integer)
	if !ok {
		return obj, nil
	}

	afterNum := p.pos
	p.SkipWhitespace()
	genTok := p.readToken()
	gen, err := strconv.Atoi(genTok)
	if err != nil || gen < 0 {
		p.pos = afterNum
		return obj, nil
	}
	p.SkipWhitespace()
	if r, ok := p.peekByte(); ok && r == 'R' {
		p.pos++
		if next, ok := p.peekByte(); !ok || isWhitespace(next) || isDelimiter(next) {
			return Reference{Number: int(num), Generation: gen}, nil
		}
	}
	p.pos = save
	return p.ParseObject()
}

func (p *Parser) parseName() (Name, error) {
	if _, err := p.readByte(); err != nil { // consume '/'
		return "", err
	}
	var out []byte
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		if isWhitespace(c) || isDelimiter(c) {
			break
		}
		p.pos++
		if c == '#' && p.pos+1 < len(p.data) {
			if v, err := hex.DecodeString(string(p.data[p.pos : p.pos+2])); err == nil {
				out = append(out, v[0])
				p.pos += 2
				continue
			}
		}
		out = append(out, c)
	}
	return Name(out), nil
}

func (p *Parser) parseNumber() (Object, error) {
	tok := p.readToken()
	if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return Integer(i), nil
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return Real(f), nil
	}
	return nil, fmt.Errorf("%w: invalid number %q", ErrSyntax, tok)
}

func (p *Parser) parseLiteralString() (*String, error) {
	if _, err := p.readByte(); err != nil { // consume '('
		return nil, err
	}
	var out []byte
	depth := 1
	for {
		c, err := p.readByte()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated string", ErrSyntax)
		}
		switch c {
		case '\\':
			e, err := p.readByte()
			if err != nil {
				return nil, fmt.Errorf("%w: unterminated string escape", ErrSyntax)
			}
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '(', ')', '\\':
				out = append(out, e)
			case '\r':
				// line continuation; swallow optional LF
				if n, ok := p.peekByte(); ok && n == '\n' {
					p.pos++
				}
			case '\n':
				// line continuation
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2; i++ {
						n, ok := p.peekByte()
						if !ok || n < '0' || n > '7' {
							break
						}
						v = v*8 + int(n-'0')
						p.pos++
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
				}
			}
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return &String{Value: out}, nil
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
}

func (p *Parser) parseHexString() (*String, error) {
	if _, err := p.readByte(); err != nil { // consume '<'
		return nil, err
	}
	var digits []byte
	for {
		c, err := p.readByte()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated hex string", ErrSyntax)
		}
		if c == '>' {
			break
		}
		if isWhitespace(c) {
			continue
		}
		digits = append(digits, c)
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	value := make([]byte, len(digits)/2)
	if _, err := hex.Decode(value, digits); err != nil {
		return nil, fmt.Errorf("%w: invalid hex string: %v", ErrSyntax, err)
	}
	return &String{Value: value, Hex: true}, nil
}

func (p *Parser) parseArray() (Array, error) {
	if _, err := p.readByte(); err != nil { // consume '['
		return nil, err
	}
	var out Array
	for {
		p.SkipWhitespace()
		c, ok := p.peekByte()
		if !ok {
			return nil, fmt.Errorf("%w: unterminated array", ErrSyntax)
		}
		if c == ']' {
			p.pos++
			return out, nil
		}
		obj, err := p.ParseObjectOrRef()
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
}

func (p *Parser) parseDict() (Object, error) {
	p.pos += 2 // consume '<<'
	dict := NewDict()
	for {
		p.SkipWhitespace()
		c, ok := p.peekByte()
		if !ok {
			return nil, fmt.Errorf("%w: unterminated dictionary", ErrSyntax)
		}
		if c == '>' {
			if p.pos+1 < len(p.data) && p.data[p.pos+1] == '>' {
				p.pos += 2
				break
			}
			return nil, fmt.Errorf("%w: stray '>' in dictionary", ErrSyntax)
		}
		if c != '/' {
			return nil, fmt.Errorf("%w: dictionary key must be a name at offset %d", ErrSyntax, p.pos)
		}
		key, err := p.parseName()
		if err != nil {
			return nil, err
		}
		value, err := p.ParseObjectOrRef()
		if err != nil {
			return nil, err
		}
		dict.Set(string(key), value)
	}

	// A dictionary followed by the stream keyword is a stream object.
	save := p.pos
	p.SkipWhitespace()
	if tok := p.readToken(); tok == "stream" {
		return p.parseStreamData(dict)
	}
	p.pos = save
	return dict, nil
}

func (p *Parser) parseStreamData(dict *Dict) (*Stream, error) {
	// The stream keyword is followed by CRLF or LF.
	if c, ok := p.peekByte(); ok && c == '\r' {
		p.pos++
	}
	if c, ok := p.peekByte(); ok && c == '\n' {
		p.pos++
	}

	length, ok := dict.GetInt("Length")
	if !ok {
		return nil, fmt.Errorf("%w: stream without Length", ErrSyntax)
	}
	if length < 0 || p.pos+int(length) > len(p.data) {
		return nil, fmt.Errorf("%w: stream Length %d out of range", ErrSyntax, length)
	}
	raw := make([]byte, length)
	copy(raw, p.data[p.pos:p.pos+int(length)])
	p.pos += int(length)

	p.SkipWhitespace()
	if tok := p.readToken(); tok != "endstream" {
		return nil, fmt.Errorf("%w: expected endstream, got %q", ErrSyntax, tok)
	}
	return &Stream{Dict: dict, Raw: raw}, nil
}

// ParseIndirect parses an "n g obj ... endobj" block at the current
// position and returns the wrapped object.
func (p *Parser) ParseIndirect() (*Indirect, error) {
	p.SkipWhitespace()
	numTok := p.readToken()
	num, err := strconv.Atoi(numTok)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid object number %q", ErrSyntax, numTok)
	}
	p.SkipWhitespace()
	genTok := p.readToken()
	gen, err := strconv.Atoi(genTok)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid generation %q", ErrSyntax, genTok)
	}
	p.SkipWhitespace()
	if tok := p.readToken(); tok != "obj" {
		return nil, fmt.Errorf("%w: expected obj keyword, got %q", ErrSyntax, tok)
	}

	obj, err := p.ParseObjectOrRef()
	if err != nil {
		return nil, err
	}

	p.SkipWhitespace()
	if tok := p.readToken(); tok != "endobj" {
		return nil, fmt.Errorf("%w: expected endobj for object %d, got %q", ErrSyntax, num, tok)
	}
	return &Indirect{Number: num, Generation: gen, Object: obj}, nil
}
