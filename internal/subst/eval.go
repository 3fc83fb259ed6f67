package subst

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	userConfigPrefix   = "user_config."
	systemConfigPrefix = "system_config."
)

// Bindings supplies the values placeholders can refer to.
type Bindings struct {
	// Dirname is the bundle directory, exposed as __dirname.
	Dirname      string
	UserConfig   map[string]string
	SystemConfig map[string]string

	// HostDir resolves HOME, DESKTOP, DOCUMENTS and DOWNLOADS. Nil uses
	// the current user's directories.
	HostDir func(name string) (string, bool)
	// LookupEnv resolves other identifiers. Nil uses os.LookupEnv.
	LookupEnv func(key string) (string, bool)
	// Now backs timestamp(). Nil uses time.Now.
	Now func() time.Time
}

// UserHostDir resolves the built-in directory names against the current
// user's home. DESKTOP, DOCUMENTS and DOWNLOADS are reported only when the
// directory exists.
func UserHostDir(name string) (string, bool) {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "", false
	}
	var sub string
	switch name {
	case "HOME":
		return home, true
	case "DESKTOP":
		sub = "Desktop"
	case "DOCUMENTS":
		sub = "Documents"
	case "DOWNLOADS":
		sub = "Downloads"
	default:
		return "", false
	}
	dir := filepath.Join(home, sub)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", false
	}
	return dir, true
}

// IsBuiltin reports whether name is a built-in variable.
func IsBuiltin(name string) bool {
	switch name {
	case "__dirname", "HOME", "DESKTOP", "DOCUMENTS", "DOWNLOADS":
		return true
	}
	return false
}

// Eval evaluates n. An undefined variable yields ok=false with a nil error;
// callers decide whether that is fatal.
func Eval(n Node, b Bindings) (value string, ok bool, err error) {
	switch n := n.(type) {
	case Literal:
		return n.Value, true, nil
	case Variable:
		v, ok := b.lookup(n.Name)
		return v, ok, nil
	case Call:
		v, err := b.call(n)
		if err != nil {
			return "", false, err
		}
		return v, true, nil
	default:
		return "", false, fmt.Errorf("unknown expression node %T", n)
	}
}

func (b Bindings) lookup(name string) (string, bool) {
	switch name {
	case "__dirname":
		return b.Dirname, b.Dirname != ""
	case "HOME", "DESKTOP", "DOCUMENTS", "DOWNLOADS":
		hostDir := b.HostDir
		if hostDir == nil {
			hostDir = UserHostDir
		}
		return hostDir(name)
	}
	if key, found := strings.CutPrefix(name, userConfigPrefix); found {
		v, ok := b.UserConfig[key]
		return v, ok
	}
	if key, found := strings.CutPrefix(name, systemConfigPrefix); found {
		v, ok := b.SystemConfig[key]
		return v, ok
	}
	lookupEnv := b.LookupEnv
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	return lookupEnv(name)
}

// arity of each function; -1 means one or more.
var functions = map[string]int{
	"base64":     1,
	"base64url":  1,
	"urlEncode":  1,
	"hex":        1,
	"concat":     -1,
	"lower":      1,
	"upper":      1,
	"trim":       1,
	"default":    2,
	"basicAuth":  2,
	"bearer":     1,
	"timestamp":  0,
	"uuid":       0,
	"jsonEncode": 1,
}

func (b Bindings) call(c Call) (string, error) {
	arity, known := functions[c.Name]
	if !known {
		return "", fmt.Errorf("unknown function %q", c.Name)
	}
	switch {
	case arity < 0 && len(c.Args) == 0:
		return "", fmt.Errorf("%s() expects at least 1 argument", c.Name)
	case arity >= 0 && len(c.Args) != arity:
		return "", fmt.Errorf("%s() expects %d argument(s), got %d", c.Name, arity, len(c.Args))
	}

	if c.Name == "default" {
		v, ok, err := Eval(c.Args[0], b)
		if err != nil {
			return "", err
		}
		if ok && v != "" {
			return v, nil
		}
		return b.arg(c.Args[1])
	}

	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		v, err := b.arg(a)
		if err != nil {
			return "", err
		}
		args[i] = v
	}

	switch c.Name {
	case "base64":
		return base64.StdEncoding.EncodeToString([]byte(args[0])), nil
	case "base64url":
		return base64.RawURLEncoding.EncodeToString([]byte(args[0])), nil
	case "urlEncode":
		// Component encoding: spaces become %20, not +.
		return strings.ReplaceAll(url.QueryEscape(args[0]), "+", "%20"), nil
	case "hex":
		return hex.EncodeToString([]byte(args[0])), nil
	case "concat":
		return strings.Join(args, ""), nil
	case "lower":
		return strings.ToLower(args[0]), nil
	case "upper":
		return strings.ToUpper(args[0]), nil
	case "trim":
		return strings.TrimSpace(args[0]), nil
	case "basicAuth":
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(args[0]+":"+args[1])), nil
	case "bearer":
		return "Bearer " + args[0], nil
	case "timestamp":
		now := b.Now
		if now == nil {
			now = time.Now
		}
		return strconv.FormatInt(now().Unix(), 10), nil
	case "uuid":
		return uuid.NewString(), nil
	case "jsonEncode":
		return jsonString(args[0])
	}
	return "", fmt.Errorf("unknown function %q", c.Name)
}

// arg evaluates a function argument; undefined values are errors.
func (b Bindings) arg(n Node) (string, error) {
	v, ok, err := Eval(n, b)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("undefined variable: %s", describe(n))
	}
	return v, nil
}

func jsonString(s string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func describe(n Node) string {
	switch n := n.(type) {
	case Variable:
		return n.Name
	case Literal:
		return "'" + n.Value + "'"
	case Call:
		return n.Name + "(...)"
	}
	return fmt.Sprint(n)
}
