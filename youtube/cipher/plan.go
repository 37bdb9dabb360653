package cipher

import (
	"regexp"
	"strconv"
	"strings"
)

const ident = `[A-Za-z0-9_$]+`

var (
	// a=a.split("");...;return a.join("")
	decipherBodyRe = regexp.MustCompile(`\(\s*(` + ident + `)\s*\)\s*\{\s*(` + ident + `)\s*=\s*(` + ident + `)\.split\(""\)\s*;([^{}]*?)return\s+(` + ident + `)\.join\(""\)`)
	helperMethodRe = regexp.MustCompile(`(` + ident + `|"[^"]+")\s*:\s*function\s*\([^)]*\)\s*\{([^}]*)\}`)
)

type opKind int

const (
	opReverse opKind = iota
	opSplice
	opSwap
)

type step struct {
	op  opKind
	arg int
}

// plan is a decipher routine reduced to its primitive array operations.
type plan []step

func (p plan) apply(sig string) string {
	b := []byte(sig)
	for _, st := range p {
		switch st.op {
		case opReverse:
			for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
				b[i], b[j] = b[j], b[i]
			}
		case opSplice:
			if st.arg >= 0 && st.arg <= len(b) {
				b = b[st.arg:]
			}
		case opSwap:
			if len(b) > 1 {
				n := st.arg % len(b)
				b[0], b[n] = b[n], b[0]
			}
		}
	}
	return string(b)
}

// decipherFunc is the signature routine located in player.js.
type decipherFunc struct {
	param  string
	body   string
	object string
	helper string // object literal body, without braces
}

// findDecipher locates the signature routine and its helper object.
func findDecipher(js string) (*decipherFunc, bool) {
	for _, m := range decipherBodyRe.FindAllStringSubmatch(js, -1) {
		p := m[1]
		if m[2] != p || m[3] != p || m[5] != p {
			continue
		}
		fn := &decipherFunc{param: p, body: m[4]}
		callRe := regexp.MustCompile(`(` + ident + `)(?:\.` + ident + `|\["[^"]+"\])\(\s*` + regexp.QuoteMeta(p) + `\b`)
		cm := callRe.FindStringSubmatch(fn.body)
		if cm == nil {
			continue
		}
		fn.object = cm[1]
		fn.helper = findObjectLiteral(js, fn.object)
		if fn.helper == "" {
			continue
		}
		return fn, true
	}
	return nil, false
}

// findObjectLiteral returns the body of `var name={...}` by brace matching.
func findObjectLiteral(js, name string) string {
	re := regexp.MustCompile(`(?:var|let|const)\s+` + regexp.QuoteMeta(name) + `\s*=\s*\{`)
	loc := re.FindStringIndex(js)
	if loc == nil {
		return ""
	}
	start := loc[1]
	depth := 1
	for i := start; i < len(js); i++ {
		switch js[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return js[start:i]
			}
		}
	}
	return ""
}

// plan maps each helper call to a primitive operation. It reports false when
// a call cannot be classified.
func (f *decipherFunc) plan() (plan, bool) {
	kinds := make(map[string]opKind)
	for _, m := range helperMethodRe.FindAllStringSubmatch(f.helper, -1) {
		name := strings.Trim(m[1], `"`)
		body := m[2]
		switch {
		case strings.Contains(body, ".reverse("):
			kinds[name] = opReverse
		case strings.Contains(body, ".splice("):
			kinds[name] = opSplice
		case strings.Contains(body, "%") && strings.Contains(body, ".length"):
			kinds[name] = opSwap
		}
	}

	callRe := regexp.MustCompile(regexp.QuoteMeta(f.object) + `(?:\.(` + ident + `)|\["([^"]+)"\])\(\s*` + regexp.QuoteMeta(f.param) + `\s*(?:,\s*(\d+))?\s*\)`)
	calls := callRe.FindAllStringSubmatch(f.body, -1)
	if len(calls) == 0 {
		return nil, false
	}
	var p plan
	for _, c := range calls {
		name := c[1]
		if name == "" {
			name = c[2]
		}
		kind, ok := kinds[name]
		if !ok {
			return nil, false
		}
		arg := 0
		if c[3] != "" {
			arg, _ = strconv.Atoi(c[3])
		}
		p = append(p, step{op: kind, arg: arg})
	}
	return p, true
}

// script returns standalone JS defining a global decipher function.
func (f *decipherFunc) script() string {
	var b strings.Builder
	b.WriteString("var " + f.object + "={" + f.helper + "};\n")
	b.WriteString("var " + decipherFuncName + "=function(" + f.param + "){")
	b.WriteString(f.param + "=" + f.param + `.split("");`)
	b.WriteString(f.body)
	b.WriteString("return " + f.param + `.join("")};`)
	return b.String()
}
