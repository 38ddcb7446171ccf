package parser

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/klauern/rowsync/internal/schema"
)

// Default quote characters, shared by SQLite and PostgreSQL.
const (
	DefaultLeftQuote  = `"`
	DefaultRightQuote = `"`
)

// Options controls how a Name renders.
type Options struct {
	// Schema prefixes the schema part when present.
	Schema bool
	// Database prefixes the database part when present.
	Database bool
	// Quoted wraps each part in the name's quote characters.
	Quoted bool
	// Normalized joins parts with "_" and replaces every rune that is not a
	// letter, digit or underscore. It takes precedence over Quoted.
	Normalized bool
}

// Name is a parsed identifier. The zero value renders as the empty string.
type Name struct {
	database string
	schema   string
	object   string
	left     string
	right    string
	opts     Options
}

// Parse splits raw into database, schema and object parts. Parts may be
// quoted with [], "" or backticks; dots inside quotes are kept. quotes
// optionally sets the left and right quote used when rendering Quoted.
func Parse(raw string, quotes ...string) Name {
	left, right := quoteChars(quotes)
	parts := splitParts(raw)

	n := Name{left: left, right: right}
	switch len(parts) {
	case 0:
	case 1:
		n.object = parts[0]
	case 2:
		n.schema, n.object = parts[0], parts[1]
	default:
		last := len(parts) - 1
		n.database = strings.Join(parts[:last-1], ".")
		n.schema, n.object = parts[last-1], parts[last]
	}
	return n
}

// ParseTable returns the Name of a schema table. The table and schema names
// are used verbatim.
func ParseTable(t *schema.Table, quotes ...string) Name {
	left, right := quoteChars(quotes)
	return Name{schema: t.SchemaName, object: t.Name, left: left, right: right}
}

// ParseColumn returns the Name of a column.
func ParseColumn(c schema.Column, quotes ...string) Name {
	left, right := quoteChars(quotes)
	return Name{object: c.Name, left: left, right: right}
}

// New builds a Name from already separated parts.
func New(database, schemaName, object string, quotes ...string) Name {
	left, right := quoteChars(quotes)
	return Name{database: database, schema: schemaName, object: object, left: left, right: right}
}

func quoteChars(quotes []string) (string, string) {
	left, right := DefaultLeftQuote, DefaultRightQuote
	if len(quotes) > 0 && quotes[0] != "" {
		left = quotes[0]
		right = matchingQuote(left)
	}
	if len(quotes) > 1 && quotes[1] != "" {
		right = quotes[1]
	}
	return left, right
}

func matchingQuote(left string) string {
	if left == "[" {
		return "]"
	}
	return left
}

func splitParts(raw string) []string {
	var (
		parts   []string
		current strings.Builder
		closing rune
		quoted  bool
	)
	runes := []rune(strings.TrimSpace(raw))
	flush := func() {
		p := current.String()
		if !quoted {
			p = strings.TrimSpace(p)
		}
		parts = append(parts, p)
		current.Reset()
		quoted = false
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if closing != 0 {
			if r == closing {
				// A doubled closing quote is an escaped quote character.
				if i+1 < len(runes) && runes[i+1] == closing {
					current.WriteRune(r)
					i++
					continue
				}
				closing = 0
				continue
			}
			current.WriteRune(r)
			continue
		}
		switch r {
		case '[', '"', '`':
			closing, quoted = r, true
			if r == '[' {
				closing = ']'
			}
			// Whitespace before an opening quote is not part of the name.
			if strings.TrimSpace(current.String()) == "" {
				current.Reset()
			}
		case '.':
			flush()
		default:
			if quoted && unicode.IsSpace(r) {
				continue
			}
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 || quoted || len(parts) > 0 {
		flush()
	}
	return parts
}

// Object returns the unquoted object part.
func (n Name) Object() string { return n.object }

// Schema returns the unquoted schema part.
func (n Name) Schema() string { return n.schema }

// Database returns the unquoted database part.
func (n Name) Database() string { return n.database }

// Options returns the rendering options of this copy.
func (n Name) Options() Options { return n.opts }

// IsZero reports whether the name has no object part.
func (n Name) IsZero() bool { return n.object == "" }

// WithSchema returns a copy that renders the schema part.
func (n Name) WithSchema() Name {
	n.opts.Schema = true
	return n
}

// WithDatabase returns a copy that renders the database part.
func (n Name) WithDatabase() Name {
	n.opts.Database = true
	return n
}

// Quoted returns a copy that renders quoted parts.
func (n Name) Quoted() Name {
	n.opts.Quoted = true
	return n
}

// Normalized returns a copy that renders a single identifier-safe token.
func (n Name) Normalized() Name {
	n.opts.Normalized = true
	return n
}

// Unqualified returns a copy with all rendering options cleared.
func (n Name) Unqualified() Name {
	n.opts = Options{}
	return n
}

// WithObject returns a copy with a different object part.
func (n Name) WithObject(object string) Name {
	n.object = object
	return n
}

// String renders the name with the copy's own options. It does not change
// the receiver, so repeated calls return the same value.
func (n Name) String() string {
	return n.Render(n.opts)
}

// Render renders the name with opts, ignoring the copy's own options.
func (n Name) Render(opts Options) string {
	parts := make([]string, 0, 3)
	if opts.Database && n.database != "" {
		parts = append(parts, n.database)
	}
	if (opts.Schema || opts.Database) && n.schema != "" {
		parts = append(parts, n.schema)
	}
	parts = append(parts, n.object)

	if opts.Normalized {
		for i, p := range parts {
			parts[i] = normalize(p)
		}
		return strings.Join(parts, "_")
	}
	if opts.Quoted {
		for i, p := range parts {
			parts[i] = n.quote(p)
		}
	}
	return strings.Join(parts, ".")
}

func (n Name) quote(part string) string {
	escaped := strings.ReplaceAll(part, n.right, n.right+n.right)
	return n.left + escaped + n.right
}

func normalize(part string) string {
	part = norm.NFC.String(part)
	var sb strings.Builder
	sb.Grow(len(part))
	for _, r := range part {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			continue
		}
		sb.WriteByte('_')
	}
	return sb.String()
}
