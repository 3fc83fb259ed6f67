package subst

import (
	"errors"
	"strings"
)

// Node is a parsed placeholder expression.
type Node interface {
	node()
}

// Literal is single-quoted text, taken verbatim.
type Literal struct {
	Value string
}

// Variable is a bare identifier: a built-in, a user_config./system_config.
// lookup, or an environment variable name.
type Variable struct {
	Name string
}

// Call is a function application.
type Call struct {
	Name string
	Args []Node
}

func (Literal) node()  {}
func (Variable) node() {}
func (Call) node()     {}

// Parse parses the text between "${" and "}".
func Parse(expr string) (Node, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("empty expression")
	}
	if isLiteral(expr) {
		return Literal{Value: expr[1 : len(expr)-1]}, nil
	}
	if name, inner, ok := splitCall(expr); ok {
		parts, err := splitArgs(inner)
		if err != nil {
			return nil, err
		}
		call := Call{Name: name, Args: make([]Node, 0, len(parts))}
		for _, p := range parts {
			arg, err := Parse(p)
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
		}
		return call, nil
	}
	return Variable{Name: expr}, nil
}

func isLiteral(s string) bool {
	return len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' &&
		!strings.ContainsRune(s[1:len(s)-1], '\'')
}

// splitCall recognizes name(...). The name must be non-empty and made of
// letters, digits and underscores, so "user_config.x(...)" is not a call.
func splitCall(s string) (name, inner string, ok bool) {
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return "", "", false
	}
	name = s[:open]
	for _, r := range name {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return "", "", false
		}
	}
	return name, s[open+1 : len(s)-1], true
}

// splitArgs splits a call's argument text at commas that sit outside quotes
// and nested parentheses. Blank text means no arguments.
func splitArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var (
		args    []string
		depth   int
		inQuote bool
		start   int
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\'':
			inQuote = !inQuote
		case inQuote:
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth < 0 {
				return nil, errors.New("unbalanced parentheses")
			}
		case c == ',' && depth == 0:
			args = append(args, s[start:i])
			start = i + 1
		}
	}
	if inQuote {
		return nil, errors.New("unterminated quote")
	}
	if depth != 0 {
		return nil, errors.New("unbalanced parentheses")
	}
	args = append(args, s[start:])
	for i, a := range args {
		a = strings.TrimSpace(a)
		if a == "" {
			return nil, errors.New("empty argument")
		}
		args[i] = a
	}
	return args, nil
}
