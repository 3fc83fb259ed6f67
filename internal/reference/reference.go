// Package reference parses and validates tool references of the form
// [namespace/]name[@version].
package reference

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/nupi-ai/tool/internal/validate"
)

// InvalidReferenceError reports a malformed reference string.
type InvalidReferenceError struct {
	Input  string
	Reason string
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("invalid reference %q: %s", e.Input, e.Reason)
}

// PluginRef identifies a tool. The zero value is not valid; use Parse or New.
type PluginRef struct {
	namespace  string
	name       string
	version    *semver.Constraints
	versionStr string
}

// Parse parses input as [namespace/]name[@version].
//
// The version is split at the last '@' and the namespace at the first '/'.
// The raw version text is kept so String reproduces the input.
func Parse(input string) (PluginRef, error) {
	invalid := func(format string, args ...any) (PluginRef, error) {
		return PluginRef{}, &InvalidReferenceError{Input: input, Reason: fmt.Sprintf(format, args...)}
	}

	if input == "" {
		return invalid("empty reference")
	}

	base := input
	var ref PluginRef
	if at := strings.LastIndexByte(input, '@'); at >= 0 {
		verStr := input[at+1:]
		if verStr == "" {
			return invalid("empty version after '@'")
		}
		c, err := semver.NewConstraint(verStr)
		if err != nil {
			return invalid("invalid version %q: %v", verStr, err)
		}
		base = input[:at]
		ref.version = c
		ref.versionStr = verStr
	}

	if slash := strings.IndexByte(base, '/'); slash >= 0 {
		ns, name := base[:slash], base[slash+1:]
		if ns == "" {
			return invalid("empty namespace before '/'")
		}
		if name == "" {
			return invalid("empty name after '/'")
		}
		ref.namespace = ns
		ref.name = name
	} else {
		ref.name = base
	}

	if strings.Contains(input, "//") {
		return invalid("double slash '//' not allowed")
	}
	if strings.Contains(input, "@@") {
		return invalid("double '@' not allowed")
	}

	if ref.namespace != "" {
		if reason := namespaceProblem(ref.namespace); reason != "" {
			return invalid("%s", reason)
		}
	}
	if reason := nameProblem(ref.name); reason != "" {
		return invalid("%s", reason)
	}
	return ref, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// constant references.
func MustParse(input string) PluginRef {
	ref, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return ref
}

// New returns an unversioned local reference with the given name.
func New(name string) (PluginRef, error) {
	if reason := nameProblem(name); reason != "" {
		return PluginRef{}, &InvalidReferenceError{Input: name, Reason: reason}
	}
	return PluginRef{name: name}, nil
}

// WithNamespace returns a copy of r with the namespace set.
func (r PluginRef) WithNamespace(ns string) (PluginRef, error) {
	if reason := namespaceProblem(ns); reason != "" {
		return PluginRef{}, &InvalidReferenceError{Input: ns, Reason: reason}
	}
	r.namespace = ns
	return r, nil
}

// WithVersion returns a copy of r pinned to the exact version v.
func (r PluginRef) WithVersion(v *semver.Version) PluginRef {
	s := v.Original()
	if s == "" {
		s = v.String()
	}
	c, err := semver.NewConstraint("=" + v.String())
	if err != nil {
		// A parsed version always yields a valid exact constraint.
		panic(err)
	}
	r.version = c
	r.versionStr = s
	return r
}

// WithoutVersion returns a copy of r with no version requirement.
func (r PluginRef) WithoutVersion() PluginRef {
	r.version = nil
	r.versionStr = ""
	return r
}

func (r PluginRef) Namespace() string { return r.namespace }
func (r PluginRef) Name() string      { return r.name }

// Version returns the version requirement, or nil when none was given.
func (r PluginRef) Version() *semver.Constraints { return r.version }

// VersionString returns the raw version text as written.
func (r PluginRef) VersionString() string { return r.versionStr }

func (r PluginRef) HasNamespace() bool { return r.namespace != "" }
func (r PluginRef) HasVersion() bool   { return r.version != nil }

// Key returns [namespace/]name without any version.
func (r PluginRef) Key() string {
	if r.namespace == "" {
		return r.name
	}
	return r.namespace + "/" + r.name
}

// Matches reports whether v satisfies the version requirement. A reference
// without a requirement matches every version.
func (r PluginRef) Matches(v *semver.Version) bool {
	if r.version == nil {
		return true
	}
	return r.version.Check(v)
}

// String renders [namespace/]name[@version] using the raw version text.
func (r PluginRef) String() string {
	if r.versionStr == "" {
		return r.Key()
	}
	return r.Key() + "@" + r.versionStr
}

// Equal compares namespace, name and version text.
func (r PluginRef) Equal(o PluginRef) bool {
	return r.namespace == o.namespace && r.name == o.name && r.versionStr == o.versionStr
}

func namespaceProblem(ns string) string {
	switch {
	case len(ns) < validate.MinNamespaceLen:
		return fmt.Sprintf("namespace %q must be at least %d characters", ns, validate.MinNamespaceLen)
	case len(ns) > validate.MaxNamespaceLen:
		return fmt.Sprintf("namespace %q exceeds %d character limit", ns, validate.MaxNamespaceLen)
	case !validate.Namespace(ns):
		return fmt.Sprintf("namespace %q must start with lowercase letter and contain only lowercase letters, numbers, hyphens, and underscores", ns)
	}
	return ""
}

func nameProblem(name string) string {
	switch {
	case name == "":
		return "name cannot be empty"
	case len(name) > validate.MaxNameLen:
		return fmt.Sprintf("name %q exceeds %d character limit", name, validate.MaxNameLen)
	case !validate.Name(name):
		return fmt.Sprintf("name %q must start with lowercase letter and contain only lowercase letters, numbers, hyphens, and underscores", name)
	}
	return ""
}
