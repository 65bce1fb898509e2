// Package gqlparse parses executable GraphQL operations and renders them in
// a canonical form, so that two lexically different spellings of the same
// operation derive the same cache key.
package gqlparse

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

type document struct {
	Operations []*operationDef `parser:"@@+"`
}

type operationDef struct {
	Type      string        `parser:"@(\"query\" | \"mutation\" | \"subscription\")?"`
	Name      string        `parser:"@Ident?"`
	Variables []*varDef     `parser:"(\"(\" @@+ \")\")?"`
	Selection *selectionSet `parser:"@@"`
}

type varDef struct {
	Name    string   `parser:"\"$\" @Ident \":\""`
	Type    *typeRef `parser:"@@"`
	Default *value   `parser:"(\"=\" @@)?"`
}

type typeRef struct {
	List    *typeRef `parser:"( \"[\" @@ \"]\""`
	Named   string   `parser:"| @Ident )"`
	NonNull bool     `parser:"@\"!\"?"`
}

type selectionSet struct {
	Fields []*field `parser:"\"{\" @@+ \"}\""`
}

type field struct {
	Alias     string        `parser:"(@Ident \":\")?"`
	Name      string        `parser:"@Ident"`
	Arguments []*argument   `parser:"(\"(\" @@ (\",\"? @@)* \")\")?"`
	Selection *selectionSet `parser:"@@?"`
}

type argument struct {
	Name  string `parser:"@Ident \":\""`
	Value *value `parser:"@@"`
}

type value struct {
	Variable *string        `parser:"\"$\" @Ident"`
	Number   *string        `parser:"| @Number"`
	String   *string        `parser:"| @String"`
	Bool     *string        `parser:"| @(\"true\" | \"false\")"`
	Null     bool           `parser:"| @\"null\""`
	Enum     *string        `parser:"| @Ident"`
	IsList   bool           `parser:"| @\"[\""`
	List     []*value       `parser:"  (@@ (\",\"? @@)*)? \"]\""`
	IsObject bool           `parser:"| @\"{\""`
	Object   []*objectField `parser:"  (@@ (\",\"? @@)*)? \"}\""`
}

type objectField struct {
	Name  string `parser:"@Ident \":\""`
	Value *value `parser:"@@"`
}

var operationLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "String", Pattern: `"(\\.|[^"\\])*"`},
	{Name: "Number", Pattern: `-?[0-9]+(\.[0-9]+)?`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Symbol", Pattern: `[()\[\]{}:,$=!@]`},
})

var parser = participle.MustBuild[document](
	participle.Lexer(operationLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.UseLookahead(2),
)

// Operation is one parsed executable operation.
type Operation struct {
	// Type is query, mutation or subscription. An operation written in
	// query shorthand reports "query".
	Type string
	// Name is the operation name, empty for anonymous operations.
	Name string

	def *operationDef
}

// Parse parses a document holding exactly one executable operation.
func Parse(text string) (*Operation, error) {
	doc, err := parser.ParseString("", text)
	if err != nil {
		return nil, fmt.Errorf("parse operation: %w", err)
	}
	if len(doc.Operations) != 1 {
		return nil, fmt.Errorf("expected a single operation, document has %d", len(doc.Operations))
	}
	def := doc.Operations[0]
	typ := def.Type
	if typ == "" {
		typ = "query"
	}
	return &Operation{Type: typ, Name: def.Name, def: def}, nil
}

// RootField returns the first top-level field's name, which selects the
// compiled query or mutation the operation invokes.
func (o *Operation) RootField() string {
	return o.def.Selection.Fields[0].Name
}

// Identity renders the operation in canonical form: single spacing, comments
// gone, arguments and object fields sorted by name. Field order is preserved
// because it shapes the response.
func (o *Operation) Identity() string {
	var b strings.Builder
	b.WriteString(o.Type)
	if o.Name != "" {
		b.WriteByte(' ')
		b.WriteString(o.Name)
	}
	if len(o.def.Variables) > 0 {
		b.WriteByte('(')
		for i, v := range o.def.Variables {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('$')
			b.WriteString(v.Name)
			b.WriteString(": ")
			writeTypeRef(&b, v.Type)
			if v.Default != nil {
				b.WriteString(" = ")
				writeValue(&b, v.Default)
			}
		}
		b.WriteByte(')')
	}
	b.WriteByte(' ')
	writeSelection(&b, o.def.Selection)
	return b.String()
}

func writeTypeRef(b *strings.Builder, t *typeRef) {
	if t.List != nil {
		b.WriteByte('[')
		writeTypeRef(b, t.List)
		b.WriteByte(']')
	} else {
		b.WriteString(t.Named)
	}
	if t.NonNull {
		b.WriteByte('!')
	}
}

func writeSelection(b *strings.Builder, s *selectionSet) {
	b.WriteString("{ ")
	for i, f := range s.Fields {
		if i > 0 {
			b.WriteByte(' ')
		}
		writeField(b, f)
	}
	b.WriteString(" }")
}

func writeField(b *strings.Builder, f *field) {
	if f.Alias != "" {
		b.WriteString(f.Alias)
		b.WriteString(": ")
	}
	b.WriteString(f.Name)
	if len(f.Arguments) > 0 {
		args := make([]*argument, len(f.Arguments))
		copy(args, f.Arguments)
		sort.Slice(args, func(i, j int) bool { return args[i].Name < args[j].Name })
		b.WriteByte('(')
		for i, a := range args {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(a.Name)
			b.WriteString(": ")
			writeValue(b, a.Value)
		}
		b.WriteByte(')')
	}
	if f.Selection != nil {
		b.WriteByte(' ')
		writeSelection(b, f.Selection)
	}
}

func writeValue(b *strings.Builder, v *value) {
	switch {
	case v.Variable != nil:
		b.WriteByte('$')
		b.WriteString(*v.Variable)
	case v.Number != nil:
		b.WriteString(*v.Number)
	case v.String != nil:
		b.WriteString(*v.String)
	case v.Bool != nil:
		b.WriteString(*v.Bool)
	case v.Null:
		b.WriteString("null")
	case v.Enum != nil:
		b.WriteString(*v.Enum)
	case v.IsList:
		b.WriteByte('[')
		for i, e := range v.List {
			if i > 0 {
				b.WriteString(", ")
			}
			writeValue(b, e)
		}
		b.WriteByte(']')
	case v.IsObject:
		fields := make([]*objectField, len(v.Object))
		copy(fields, v.Object)
		sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
		b.WriteByte('{')
		for i, f := range fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
			b.WriteString(": ")
			writeValue(b, f.Value)
		}
		b.WriteByte('}')
	}
}
