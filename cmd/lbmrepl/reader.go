package main

import (
	"fmt"
	"strconv"

	lbm "github.com/jsvensson/lbm-go"
)

// reader parses s-expressions off a CharSource into runtime values.
// The core treats tokenizing as an external concern (§6); this is
// that external concern's minimal implementation, built directly
// against the CharSource contract the core publishes.
type reader struct {
	rt  *lbm.Runtime
	src lbm.CharSource
}

func newReader(rt *lbm.Runtime, src lbm.CharSource) *reader {
	return &reader{rt: rt, src: src}
}

func (r *reader) skipSpace() {
	for {
		b, ok := r.src.Peek(0)
		if !ok {
			return
		}
		if b == ';' {
			for {
				b, ok := r.src.Get()
				if !ok || b == '\n' {
					break
				}
			}
			continue
		}
		if b == ' ' || b == '\t' || b == '\n' || b == '\r' {
			r.src.Drop(1)
			continue
		}
		return
	}
}

// ReadForm reads one top-level form, returning ok=false at end of
// input with no form pending.
func (r *reader) ReadForm() (lbm.Word, bool, error) {
	r.skipSpace()
	if !r.src.More() {
		return 0, false, nil
	}
	w, err := r.readExpr()
	if err != nil {
		return 0, false, err
	}
	return w, true, nil
}

func (r *reader) readExpr() (lbm.Word, error) {
	r.skipSpace()
	b, ok := r.src.Peek(0)
	if !ok {
		return 0, fmt.Errorf("unexpected end of input")
	}
	switch {
	case b == '(':
		r.src.Drop(1)
		return r.readList()
	case b == '\'':
		r.src.Drop(1)
		quoted, err := r.readExpr()
		if err != nil {
			return 0, err
		}
		nilWord := lbm.EncodeSymbol(lbm.SymNil)
		tail, err := r.rt.AllocCons(quoted, nilWord)
		if err != nil {
			return 0, err
		}
		return r.rt.AllocCons(lbm.EncodeSymbol(lbm.SymQuote), tail)
	default:
		return r.readAtom()
	}
}

func (r *reader) readList() (lbm.Word, error) {
	r.skipSpace()
	b, ok := r.src.Peek(0)
	if ok && b == ')' {
		r.src.Drop(1)
		return lbm.EncodeSymbol(lbm.SymNil), nil
	}
	head, err := r.readExpr()
	if err != nil {
		return 0, err
	}
	tail, err := r.readList()
	if err != nil {
		return 0, err
	}
	return r.rt.AllocCons(head, tail)
}

func isDelim(b byte) bool {
	switch b {
	case '(', ')', ' ', '\t', '\n', '\r', '\'', ';':
		return true
	}
	return false
}

func (r *reader) readAtom() (lbm.Word, error) {
	var tok []byte
	for {
		b, ok := r.src.Peek(0)
		if !ok || isDelim(b) {
			break
		}
		tok = append(tok, b)
		r.src.Drop(1)
	}
	if len(tok) == 0 {
		return 0, fmt.Errorf("empty token")
	}
	s := string(tok)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return lbm.EncodeSmallInt(n), nil
	}
	if s == "nil" {
		return lbm.EncodeSymbol(lbm.SymNil), nil
	}
	if s == "t" {
		return lbm.EncodeSymbol(lbm.SymTrue), nil
	}
	return lbm.EncodeSymbol(r.rt.Symbols.Intern(s)), nil
}
