package index

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/gitblit-org/ticketstore/pkg/util"
)

// The query grammar accepted from callers:
//
//	expr    := term (("AND" ["NOT"] | "OR") term)*
//	term    := "(" expr ")" | clause
//	clause  := ["!"] field ":" value | text
//	value   := word | quoted | "[* TO *]"
//
// field:[* TO *] matches documents where the field is present at all,
// !field:value negates a single matcher, and bare text searches the
// free-text fields. The parser translates this into the index's native
// boolean query tree.

type tokenKind int

const (
	tokClause tokenKind = iota
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type token struct {
	kind  tokenKind
	field string
	value string
	neg   bool
}

func lex(input string) ([]token, error) {
	var tokens []token
	i := 0
	readValue := func() (string, error) {
		if i < len(input) && input[i] == '"' {
			i++
			start := i
			for i < len(input) && input[i] != '"' {
				i++
			}
			if i >= len(input) {
				return "", util.NewMalformed("unterminated quote in query", nil)
			}
			value := input[start:i]
			i++
			return value, nil
		}
		if i < len(input) && input[i] == '[' {
			start := i
			for i < len(input) && input[i] != ']' {
				i++
			}
			if i >= len(input) {
				return "", util.NewMalformed("unterminated range in query", nil)
			}
			i++
			return input[start:i], nil
		}
		start := i
		for i < len(input) && !strings.ContainsRune(" \t()", rune(input[i])) {
			i++
		}
		return input[start:i], nil
	}

	for i < len(input) {
		switch c := input[i]; {
		case c == ' ' || c == '\t':
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen})
			i++
		default:
			neg := false
			if c == '!' {
				neg = true
				i++
			}
			start := i
			for i < len(input) && !strings.ContainsRune(" \t():", rune(input[i])) && input[i] != '"' {
				i++
			}
			word := input[start:i]
			if i < len(input) && input[i] == ':' {
				i++
				value, err := readValue()
				if err != nil {
					return nil, err
				}
				tokens = append(tokens, token{kind: tokClause, field: strings.ToLower(word), value: value, neg: neg})
				continue
			}
			switch strings.ToUpper(word) {
			case "AND":
				tokens = append(tokens, token{kind: tokAnd})
			case "OR":
				tokens = append(tokens, token{kind: tokOr})
			case "NOT":
				tokens = append(tokens, token{kind: tokNot})
			case "":
				// A bare quoted string is free text.
				value, err := readValue()
				if err != nil {
					return nil, err
				}
				tokens = append(tokens, token{kind: tokClause, value: value, neg: neg})
			default:
				tokens = append(tokens, token{kind: tokClause, value: word, neg: neg})
			}
		}
	}
	return tokens, nil
}

type parser struct {
	tokens []token
	pos    int
}

// ParseQuery translates a grammar string into the index's boolean query
// tree.
func ParseQuery(input string) (query.Query, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return query.NewMatchAllQuery(), nil
	}
	p := &parser{tokens: tokens}
	q, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, util.NewMalformed(fmt.Sprintf("unexpected token at position %d", p.pos), nil)
	}
	return q, nil
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) parseExpr() (query.Query, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok {
			return left, nil
		}
		switch tok.kind {
		case tokAnd:
			p.pos++
			if next, ok := p.peek(); ok && next.kind == tokNot {
				p.pos++
				right, err := p.parseTerm()
				if err != nil {
					return nil, err
				}
				bq := query.NewBooleanQuery([]query.Query{left}, nil, []query.Query{right})
				left = bq
				continue
			}
			right, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			left = query.NewConjunctionQuery([]query.Query{left, right})
		case tokOr:
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			left = query.NewDisjunctionQuery([]query.Query{left, right})
		default:
			return left, nil
		}
	}
}

func (p *parser) parseTerm() (query.Query, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, util.NewMalformed("unexpected end of query", nil)
	}
	switch tok.kind {
	case tokLParen:
		p.pos++
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokRParen {
			return nil, util.NewMalformed("missing closing parenthesis", nil)
		}
		p.pos++
		return inner, nil
	case tokClause:
		p.pos++
		return clauseQuery(tok)
	default:
		return nil, util.NewMalformed("unexpected token in query", nil)
	}
}

// numericFields are indexed as numbers and need range queries for exact
// matches.
var numericFields = map[string]bool{
	FieldNumber:      true,
	FieldAttachments: true,
	FieldComments:    true,
	FieldVotes:       true,
	FieldPatchsets:   true,
}

func clauseQuery(tok token) (query.Query, error) {
	q, err := matcherQuery(tok)
	if err != nil {
		return nil, err
	}
	if tok.neg {
		return query.NewBooleanQuery(
			[]query.Query{query.NewMatchAllQuery()}, nil, []query.Query{q}), nil
	}
	return q, nil
}

func matcherQuery(tok token) (query.Query, error) {
	if tok.field == "" {
		// Free text: OR across the text fields.
		return freeTextQuery(tok.value), nil
	}
	if strings.EqualFold(tok.value, "[* TO *]") {
		wq := query.NewWildcardQuery("*")
		wq.SetField(tok.field)
		return wq, nil
	}
	if numericFields[tok.field] {
		n, err := strconv.ParseFloat(tok.value, 64)
		if err != nil {
			return nil, util.NewMalformed(fmt.Sprintf("field %s expects a number", tok.field), err)
		}
		incl := true
		nq := query.NewNumericRangeInclusiveQuery(&n, &n, &incl, &incl)
		nq.SetField(tok.field)
		return nq, nil
	}
	mq := query.NewMatchQuery(tok.value)
	mq.SetField(tok.field)
	return mq, nil
}

func freeTextQuery(text string) query.Query {
	var parts []query.Query
	for _, field := range []string{FieldTitle, FieldBody, FieldContent} {
		mq := query.NewMatchQuery(text)
		mq.SetField(field)
		parts = append(parts, mq)
	}
	return query.NewDisjunctionQuery(parts)
}
