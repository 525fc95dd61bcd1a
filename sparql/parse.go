package sparql

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/c360studio/ontosync/rdf"
)

// ParseInsertData extracts the triples of a rendered INSERT DATA expression.
// It understands exactly what the builder emits: prefixed names, angle
// bracketed IRIs, quoted literals with an optional datatype and variables.
// It is not a general SPARQL parser.
func ParseInsertData(expr string) ([]rdf.Triple, error) {
	const keyword = "INSERT DATA {"
	start := strings.Index(expr, keyword)
	end := strings.LastIndex(expr, "}")
	if start < 0 || end < start+len(keyword) {
		return nil, fmt.Errorf("%w: no INSERT DATA block", ErrInvalidArgument)
	}

	tokens, err := tokenize(expr[start+len(keyword) : end])
	if err != nil {
		return nil, err
	}

	var (
		triples []rdf.Triple
		current []rdf.Term
	)
	for _, tok := range tokens {
		if tok == "." {
			if len(current) != 3 {
				return nil, fmt.Errorf("%w: statement with %d terms", ErrInvalidArgument, len(current))
			}
			triples = append(triples, rdf.NewTriple(current[0], current[1], current[2]))
			current = current[:0]
			continue
		}
		current = append(current, parseTerm(tok))
	}
	if len(current) != 0 {
		return nil, fmt.Errorf("%w: unterminated statement", ErrInvalidArgument)
	}
	return triples, nil
}

func parseTerm(tok string) rdf.Term {
	switch {
	case tok == rdf.IsAToken:
		return rdf.IsA
	case strings.HasPrefix(tok, "?"):
		return rdf.Any
	case strings.HasPrefix(tok, `"`):
		closing := strings.LastIndex(tok, `"`)
		value := rdf.UnescapeLiteral(tok[1:closing])
		datatype := strings.TrimPrefix(tok[closing+1:], "^^")
		return rdf.Literal(value, datatype)
	default:
		return rdf.Identifier(tok)
	}
}

// tokenize splits a block body on whitespace, keeping quoted literals (with
// their datatype suffix) whole and emitting statement terminators as ".".
func tokenize(body string) ([]string, error) {
	var tokens []string
	i := 0
	for i < len(body) {
		c := body[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '"':
			j := i + 1
			for j < len(body) && body[j] != '"' {
				if body[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(body) {
				return nil, fmt.Errorf("%w: unterminated literal", ErrInvalidArgument)
			}
			j++
			if strings.HasPrefix(body[j:], "^^") {
				for j < len(body) && !isSpace(body[j]) {
					j++
				}
			}
			tokens = append(tokens, body[i:j])
			i = j

		case c == '.' && (i+1 == len(body) || isSpace(body[i+1])):
			tokens = append(tokens, ".")
			i++

		default:
			j := i
			for j < len(body) && !isSpace(body[j]) {
				j++
			}
			tokens = append(tokens, body[i:j])
			i = j
		}
	}
	return tokens, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// askJSON is the SPARQL 1.1 Query Results JSON shape of an ASK response.
type askJSON struct {
	Boolean *bool `json:"boolean"`
}

// askXML is the SPARQL Query Results XML shape of an ASK response.
type askXML struct {
	XMLName xml.Name `xml:"sparql"`
	Boolean *bool    `xml:"boolean"`
}

// ParseAskResult reads the boolean field of an ASK response. JSON is tried
// first, then XML. Text outside the boolean field is never consulted.
func ParseAskResult(body []byte) (bool, error) {
	var j askJSON
	if err := json.Unmarshal(body, &j); err == nil && j.Boolean != nil {
		return *j.Boolean, nil
	}

	var x askXML
	if err := xml.Unmarshal(body, &x); err == nil && x.Boolean != nil {
		return *x.Boolean, nil
	}

	snippet := string(body)
	if len(snippet) > 100 {
		snippet = snippet[:100] + "..."
	}
	return false, fmt.Errorf("%w: no boolean in ASK response %q", ErrMalformedResult, snippet)
}

// Binding is one bound value in a SELECT solution.
type Binding struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Datatype string `json:"datatype,omitempty"`
	Lang     string `json:"xml:lang,omitempty"`
}

// SelectResult is a parsed SPARQL JSON SELECT response.
type SelectResult struct {
	Head struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Results struct {
		Bindings []map[string]Binding `json:"bindings"`
	} `json:"results"`
}

// Rows returns each solution as variable name to value.
func (r *SelectResult) Rows() []map[string]string {
	rows := make([]map[string]string, 0, len(r.Results.Bindings))
	for _, b := range r.Results.Bindings {
		row := make(map[string]string, len(b))
		for name, v := range b {
			row[name] = v.Value
		}
		rows = append(rows, row)
	}
	return rows
}

// ParseSelectResult parses a SPARQL JSON SELECT response.
func ParseSelectResult(body []byte) (*SelectResult, error) {
	var r SelectResult
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	return &r, nil
}
