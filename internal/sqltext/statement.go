package sqltext

import "strings"

// Statement is the shape of one statement as far as the executor cares.
type Statement struct {
	Text        string
	Verb        string
	Object      string
	IfExists    bool
	IfNotExists bool
	Target      string
	// Filtered is set when a SHOW statement carries anything after its
	// object, such as LIKE or FROM.
	Filtered bool

	objectEnd int
}

// Parse recognises CREATE/DROP [TEMPORARY] <object> [IF [NOT] EXISTS] <name>,
// SHOW <object> and DESCRIBE|DESC <name>. Anything else only gets a Verb.
func Parse(stmt string) Statement {
	stmt = strings.TrimSpace(stmt)
	out := Statement{Text: stmt}
	tokens := lex(stmt)
	if len(tokens) == 0 || tokens[0].kind != tokenWord {
		return out
	}
	out.Verb = strings.ToUpper(tokens[0].text)
	rest := tokens[1:]

	switch out.Verb {
	case "CREATE", "DROP":
		for len(rest) > 0 && (rest[0].is("TEMPORARY") || rest[0].is("TEMP") || rest[0].is("OR") || rest[0].is("REPLACE")) {
			rest = rest[1:]
		}
		if len(rest) == 0 || rest[0].kind != tokenWord {
			return out
		}
		out.Object = strings.ToUpper(rest[0].text)
		out.objectEnd = rest[0].end
		rest = rest[1:]
		if len(rest) >= 3 && rest[0].is("IF") && rest[1].is("NOT") && rest[2].is("EXISTS") {
			out.IfNotExists = true
			rest = rest[3:]
		} else if len(rest) >= 2 && rest[0].is("IF") && rest[1].is("EXISTS") {
			out.IfExists = true
			rest = rest[2:]
		}
		out.Target = identifier(rest)
	case "SHOW":
		for len(rest) > 0 && rest[0].is("FULL") {
			rest = rest[1:]
		}
		if len(rest) > 0 && rest[0].kind == tokenWord {
			out.Object = strings.ToUpper(rest[0].text)
			for _, tok := range rest[1:] {
				if tok.kind != tokenPunct || tok.text != ";" {
					out.Filtered = true
					break
				}
			}
		}
	case "DESCRIBE", "DESC", "EXPLAIN":
		if len(rest) > 0 && (rest[0].kind == tokenWord || rest[0].kind == tokenQuotedIdent) {
			if rest[0].kind == tokenWord && isRowVerb(strings.ToUpper(rest[0].text)) {
				return out
			}
			out.Object = "TABLE"
			out.Target = identifier(rest)
		}
	}
	return out
}

// IsCreateTable reports a CREATE TABLE that should be checked for an existing table.
func (s Statement) IsCreateTable() bool {
	return s.Verb == "CREATE" && s.Object == "TABLE" && s.Target != ""
}

func (s Statement) IsDropTable() bool {
	return s.Verb == "DROP" && s.Object == "TABLE" && s.Target != ""
}

// IsShowTables matches the bare listing only. Filtered forms run as written.
func (s Statement) IsShowTables() bool {
	return s.Verb == "SHOW" && s.Object == "TABLES" && !s.Filtered
}

func (s Statement) IsDescribe() bool {
	return (s.Verb == "DESCRIBE" || s.Verb == "DESC") && s.Target != ""
}

// WithIfExists returns the statement text with IF EXISTS inserted after the
// object keyword. Statements that already carry it are returned unchanged.
func (s Statement) WithIfExists() string {
	if s.IfExists || s.objectEnd == 0 {
		return s.Text
	}
	return s.Text[:s.objectEnd] + " IF EXISTS" + s.Text[s.objectEnd:]
}

// identifier reads a possibly qualified name and returns its last part unquoted.
func identifier(tokens []token) string {
	name := ""
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok.kind {
		case tokenWord, tokenQuotedIdent:
			name = unquote(tok.text)
		default:
			return name
		}
		if i+1 < len(tokens) && tokens[i+1].kind == tokenPunct && tokens[i+1].text == "." && tokens[i+1].start == tok.end {
			i++
			continue
		}
		return name
	}
	return name
}

func unquote(ident string) string {
	if len(ident) >= 2 {
		first, last := ident[0], ident[len(ident)-1]
		if (first == '`' && last == '`') || (first == '"' && last == '"') || (first == '[' && last == ']') {
			inner := ident[1 : len(ident)-1]
			return strings.ReplaceAll(inner, string(first)+string(first), string(first))
		}
	}
	return ident
}

// FirstWord returns the lowercased leading word of s.
func FirstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	word := strings.ToLower(fields[0])
	if i := strings.IndexAny(word, "(;"); i >= 0 {
		word = word[:i]
	}
	return word
}

// ProducesRows reports whether a statement starting with verb returns a result set.
func ProducesRows(verb string) bool {
	return isRowVerb(strings.ToUpper(verb))
}

func isRowVerb(verb string) bool {
	switch verb {
	case "SELECT", "SHOW", "DESCRIBE", "DESC", "EXPLAIN", "WITH", "PRAGMA", "VALUES", "TABLE":
		return true
	default:
		return false
	}
}
