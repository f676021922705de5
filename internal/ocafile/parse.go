package ocafile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Benny93/oca-go/internal/artifact"
)

// Document is a parsed ocafile.
type Document struct {
	Refn     string
	Kind     artifact.Kind
	Refs     []string
	Commands []Command
}

// Command is one instruction line.
type Command struct {
	// Line is the 1-based source line.
	Line int

	// Verb is ADD, RENAME, LINK, FROM or TO.
	Verb string

	// Object is what the verb acts on (ATTRIBUTE, LABEL, ...). Empty for
	// FROM and TO.
	Object string

	// Args holds positional arguments such as a language code.
	Args []string

	// Props holds key=value pairs in source order.
	Props []Prop
}

// Name returns "VERB OBJECT" for messages.
func (c Command) Name() string {
	if c.Object == "" {
		return c.Verb
	}
	return c.Verb + " " + c.Object
}

// Prop is a key=value pair of a command.
type Prop struct {
	Key    string
	Value  string
	Column int
}

type shape struct {
	args     int
	keyword  string
	props    bool
	variadic bool
}

var addShapes = map[string]shape{
	"ATTRIBUTE":          {props: true},
	"LABEL":              {args: 1, keyword: "ATTRS", props: true},
	"INFORMATION":        {args: 1, keyword: "ATTRS", props: true},
	"ENTRY":              {args: 1, keyword: "ATTRS", props: true},
	"META":               {args: 1, keyword: "PROPS", props: true},
	"CHARACTER_ENCODING": {keyword: "ATTRS", props: true},
	"FORMAT":             {keyword: "ATTRS", props: true},
	"UNIT":               {keyword: "ATTRS", props: true},
	"CONFORMANCE":        {keyword: "ATTRS", props: true},
	"CARDINALITY":        {keyword: "ATTRS", props: true},
	"ENTRY_CODE":         {keyword: "ATTRS", props: true},
	"MAPPING":            {keyword: "ATTRS", props: true},
	"PAGE_LABEL":         {args: 1, keyword: "ATTRS", props: true},
	"INTERACTION":        {args: 2, keyword: "ATTRS", props: true},
	"FLAGGED_ATTRIBUTES": {variadic: true},
	"LANGUAGE":           {variadic: true},
	"CLASSIFICATION":     {args: 1},
}

// Parse reads text into a Document. Lines that fail to parse are reported
// as ParseErrors; the returned Document holds every line that parsed.
func Parse(text string) (*Document, error) {
	var errs ParseErrors

	ext, err := Extract(text)
	if err != nil {
		errs = append(errs, &ParseError{Line: 1, Column: 1, Msg: err.Error(), Err: err})
	}
	doc := &Document{Refn: ext.Refn, Kind: ext.Kind, Refs: ext.Refs}

	lineNo := 0
	for line := range strings.Lines(text) {
		lineNo++
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isComment(trimmed) {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " \t"))
		cmd, perr := parseLine(strings.TrimRight(line[indent:], "\r\n"), lineNo, indent+1)
		if perr != nil {
			errs = append(errs, perr)
			continue
		}
		doc.Commands = append(doc.Commands, cmd)
	}

	if len(errs) > 0 {
		return doc, errs
	}
	return doc, nil
}

func parseLine(line string, lineNo, col int) (Command, *ParseError) {
	fail := func(col int, format string, args ...any) (Command, *ParseError) {
		return Command{}, &ParseError{Line: lineNo, Column: col, Msg: fmt.Sprintf(format, args...)}
	}

	tokens, err := tokenize(line, col)
	if err != nil {
		return fail(col, "%v", err)
	}

	cmd := Command{Line: lineNo, Verb: strings.ToUpper(tokens[0].text)}
	rest := tokens[1:]

	switch cmd.Verb {
	case "ADD":
		if len(rest) == 0 {
			return fail(tokens[0].col, "ADD needs an object")
		}
		cmd.Object = strings.ToUpper(rest[0].text)
		sh, ok := addShapes[cmd.Object]
		if !ok {
			return fail(rest[0].col, "unknown object %q", rest[0].text)
		}
		if perr := applyShape(&cmd, sh, rest[1:], rest[0].col); perr != nil {
			return Command{}, perr
		}
	case "RENAME", "LINK":
		if len(rest) == 0 || !strings.EqualFold(rest[0].text, "ATTRIBUTE") {
			return fail(tokens[0].col, "%s must be followed by ATTRIBUTE", cmd.Verb)
		}
		cmd.Object = "ATTRIBUTE"
		if perr := applyShape(&cmd, shape{props: true}, rest[1:], rest[0].col); perr != nil {
			return Command{}, perr
		}
	case "FROM", "TO":
		if len(rest) != 1 {
			return fail(tokens[0].col, "%s takes exactly one reference", cmd.Verb)
		}
		cmd.Args = []string{rest[0].text}
	default:
		return fail(tokens[0].col, "unknown command %q", tokens[0].text)
	}

	return cmd, nil
}

func applyShape(cmd *Command, sh shape, rest []token, col int) *ParseError {
	fail := func(col int, format string, args ...any) *ParseError {
		return &ParseError{Line: cmd.Line, Column: col, Msg: fmt.Sprintf(format, args...)}
	}

	if sh.variadic {
		if len(rest) == 0 {
			return fail(col, "%s needs at least one value", cmd.Name())
		}
		for _, tok := range rest {
			cmd.Args = append(cmd.Args, unquote(tok.text))
		}
		return nil
	}

	if len(rest) < sh.args {
		return fail(col, "%s needs %d argument(s)", cmd.Name(), sh.args)
	}
	for _, tok := range rest[:sh.args] {
		cmd.Args = append(cmd.Args, unquote(tok.text))
	}
	rest = rest[sh.args:]

	if sh.keyword != "" {
		if len(rest) == 0 || !strings.EqualFold(rest[0].text, sh.keyword) {
			return fail(col, "%s expects %s", cmd.Name(), sh.keyword)
		}
		rest = rest[1:]
	}

	if !sh.props {
		if len(rest) > 0 {
			return fail(rest[0].col, "unexpected %q", rest[0].text)
		}
		return nil
	}
	if len(rest) == 0 {
		return fail(col, "%s needs at least one key=value pair", cmd.Name())
	}
	for _, tok := range rest {
		key, value, ok := splitProp(tok.text)
		if !ok || key == "" {
			return fail(tok.col, "expected key=value, got %q", tok.text)
		}
		cmd.Props = append(cmd.Props, Prop{Key: key, Value: value, Column: tok.col})
	}
	return nil
}

type token struct {
	text string
	col  int
}

// tokenize splits line on whitespace outside quotes, brackets and braces.
func tokenize(line string, col int) ([]token, error) {
	var (
		tokens []token
		start  = -1
		depth  int
		quoted bool
		escape bool
	)
	flush := func(end int) {
		if start >= 0 {
			tokens = append(tokens, token{text: line[start:end], col: col + start})
			start = -1
		}
	}

	for i, r := range line {
		switch {
		case escape:
			escape = false
		case quoted && r == '\\':
			escape = true
		case r == '"':
			quoted = !quoted
		case quoted:
		case r == '[' || r == '{':
			depth++
		case r == ']' || r == '}':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced %q at column %d", r, col+i)
			}
		case depth == 0 && (r == ' ' || r == '\t'):
			flush(i)
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated string")
	}
	if depth != 0 {
		return nil, fmt.Errorf("unterminated bracket")
	}
	flush(len(line))
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty line")
	}
	return tokens, nil
}

// splitProp splits key=value at the first '=' outside quotes.
func splitProp(s string) (string, string, bool) {
	quoted, escape := false, false
	for i, r := range s {
		switch {
		case escape:
			escape = false
		case quoted && r == '\\':
			escape = true
		case r == '"':
			quoted = !quoted
		case !quoted && r == '=':
			return unquote(s[:i]), unquote(s[i+1:]), true
		}
	}
	return "", "", false
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
		return s[1 : len(s)-1]
	}
	return s
}
