// Package subst evaluates ${...} placeholders in manifest strings.
//
// An expression is a single-quoted literal, a variable (built-in,
// user_config.KEY, system_config.KEY, or environment variable) or a call
// to one of a fixed set of functions whose arguments are expressions.
package subst

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nupi-ai/tool/internal/util/maps"
)

var placeholderRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// Error describes one placeholder that could not be evaluated.
type Error struct {
	Placeholder string
	Expr        string
	Msg         string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Placeholder, e.Msg)
}

// Errors collects every placeholder failure from one substitution.
type Errors []*Error

func (es Errors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (es Errors) Unwrap() []error {
	out := make([]error, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}

// Substitute replaces every ${...} span in s. It evaluates all spans and
// returns an Errors value listing each failure.
func Substitute(s string, b Bindings) (string, error) {
	out, errs := substitute(s, b)
	if len(errs) > 0 {
		return "", errs
	}
	return out, nil
}

func substitute(s string, b Bindings) (string, Errors) {
	matches := placeholderRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}
	var (
		sb   strings.Builder
		errs Errors
		last int
	)
	for _, m := range matches {
		placeholder, expr := s[m[0]:m[1]], s[m[2]:m[3]]
		sb.WriteString(s[last:m[0]])
		last = m[1]

		v, err := evalPlaceholder(expr, b)
		if err != nil {
			errs = append(errs, &Error{Placeholder: placeholder, Expr: expr, Msg: err.Error()})
			continue
		}
		sb.WriteString(v)
	}
	sb.WriteString(s[last:])
	return sb.String(), errs
}

func evalPlaceholder(expr string, b Bindings) (string, error) {
	n, err := Parse(expr)
	if err != nil {
		return "", err
	}
	v, ok, err := Eval(n, b)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("undefined variable: %s", strings.TrimSpace(expr))
	}
	return v, nil
}

// SubstituteSlice substitutes every element, collecting errors from all of
// them.
func SubstituteSlice(in []string, b Bindings) ([]string, error) {
	if in == nil {
		return nil, nil
	}
	out := make([]string, len(in))
	var errs Errors
	for i, s := range in {
		v, e := substitute(s, b)
		errs = append(errs, e...)
		out[i] = v
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

// SubstituteMap substitutes every value, in key order, collecting errors
// from all of them. Keys are not substituted.
func SubstituteMap(in map[string]string, b Bindings) (map[string]string, error) {
	if in == nil {
		return nil, nil
	}
	out := make(map[string]string, len(in))
	var errs Errors
	for _, k := range maps.SortedKeys(in) {
		v, e := substitute(in[k], b)
		errs = append(errs, e...)
		out[k] = v
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

// References lists the user_config and system_config keys named by any
// placeholder in the given strings, sorted and without duplicates.
// Unparseable placeholders are skipped.
func References(strs ...string) (user, system []string) {
	userSet := map[string]struct{}{}
	systemSet := map[string]struct{}{}
	var walk func(Node)
	walk = func(n Node) {
		switch n := n.(type) {
		case Variable:
			if k, ok := strings.CutPrefix(n.Name, userConfigPrefix); ok {
				userSet[k] = struct{}{}
			} else if k, ok := strings.CutPrefix(n.Name, systemConfigPrefix); ok {
				systemSet[k] = struct{}{}
			}
		case Call:
			for _, a := range n.Args {
				walk(a)
			}
		}
	}
	for _, s := range strs {
		for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
			n, err := Parse(m[1])
			if err != nil {
				continue
			}
			walk(n)
		}
	}
	return maps.SortedKeys(userSet), maps.SortedKeys(systemSet)
}
