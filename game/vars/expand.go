package vars

import "strings"

// maxExpandDepth bounds recursion through substituted values so a variable
// that references itself cannot hang the engine.
const maxExpandDepth = 16

// Expand substitutes variable references inside a value tree against the
// given scope. It never fails: unresolved references are left literal.
//
// A string whose first character is the sentinel is treated as a whole-value
// reference and, when it resolves, is replaced by the referenced value with
// its type preserved (and expanded in turn). Otherwise the string is scanned
// for {@name} segments and bare @name tokens, which substitute the printable
// form of the referenced value. Lists and maps expand element-wise; sets
// additionally collapse duplicates produced by expansion.
func Expand(v Value, scope Scope) Value {
	return expand(v, scope, 0)
}

func expand(v Value, scope Scope, depth int) Value {
	if depth > maxExpandDepth {
		return v
	}
	switch v.kind {
	case KindString:
		s := v.str
		if strings.HasPrefix(s, GlobalPrefix) {
			if sub, ok := scope.Get(s); ok {
				return expand(sub, scope, depth+1)
			}
		}
		return String(expandInline(s, scope))
	case KindList:
		elems := make([]Value, len(v.elems))
		for i, e := range v.elems {
			elems[i] = expand(e, scope, depth+1)
		}
		return Value{kind: KindList, elems: elems}
	case KindSet:
		elems := make([]Value, len(v.elems))
		for i, e := range v.elems {
			elems[i] = expand(e, scope, depth+1)
		}
		return SetOf(elems...)
	case KindMap:
		out := EmptyMap()
		for pair := v.m.Oldest(); pair != nil; pair = pair.Next() {
			out.Set(pair.Key, expand(pair.Value, scope, depth+1))
		}
		return out
	default:
		return v
	}
}

func isNameChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' || c == '_'
}

// expandInline substitutes {@name} segments and bare @name tokens inside a
// string. Nesting is not supported; a reference that does not resolve is
// copied through unchanged.
func expandInline(s string, scope Scope) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		switch {
		case s[i] == '{' && i+1 < len(s) && s[i+1] == '@':
			rel := strings.IndexByte(s[i:], '}')
			if rel > 0 {
				name := s[i+1 : i+rel]
				if sub, ok := scope.Get(name); ok {
					b.WriteString(sub.Printable())
					i += rel + 1
					continue
				}
			}
			b.WriteByte(s[i])
			i++
		case s[i] == '@':
			j := i
			for j < len(s) && s[j] == '@' {
				j++
			}
			k := j
			for k < len(s) && isNameChar(s[k]) {
				k++
			}
			if k > j {
				if sub, ok := scope.Get(s[i:k]); ok {
					b.WriteString(sub.Printable())
					i = k
					continue
				}
			}
			b.WriteByte(s[i])
			i++
		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String()
}
