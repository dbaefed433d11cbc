package policy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Clause is one kind of match condition. A rule matches when every clause does.
type Clause interface {
	Matches(MatchContext) bool
}

// MatchSpec is the parsed match block of a rule: an ordered list of clauses.
// An empty spec matches every context.
type MatchSpec struct {
	Clauses []Clause
}

// Matches reports whether all clauses hold for ctx.
func (m MatchSpec) Matches(ctx MatchContext) bool {
	for _, c := range m.Clauses {
		if !c.Matches(ctx) {
			return false
		}
	}
	return true
}

// Equals requires each key to hold exactly the given value.
// A null value matches an absent key.
type Equals map[string]Value

func (e Equals) Matches(ctx MatchContext) bool {
	for k, want := range e {
		if !ctx.Get(k).Equal(want) {
			return false
		}
	}
	return true
}

// In requires each key to hold one of the listed values.
type In map[string][]Value

func (in In) Matches(ctx MatchContext) bool {
	for k, options := range in {
		got := ctx.Get(k)
		found := false
		for _, o := range options {
			if got.Equal(o) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Glob requires the text of each key to match a shell-style pattern.
type Glob map[string]Pattern

func (g Glob) Matches(ctx MatchContext) bool {
	for k, p := range g {
		if !p.Match(ctx.Get(k).Text()) {
			return false
		}
	}
	return true
}

// Pattern is a compiled case-sensitive shell glob. "*" matches any run of
// characters, "/" included; "?" matches one character; "[...]" is a class
// and "[!...]" its negation.
type Pattern struct {
	Source string
	re     *regexp.Regexp
}

// CompileGlob compiles a shell-style glob pattern.
func CompileGlob(pattern string) (Pattern, error) {
	re, err := regexp.Compile(globToRegexp(pattern))
	if err != nil {
		return Pattern{}, fmt.Errorf("glob %q: %w", pattern, err)
	}
	return Pattern{Source: pattern, re: re}, nil
}

// Match reports whether s matches the whole pattern.
func (p Pattern) Match(s string) bool {
	if p.re == nil {
		return false
	}
	return p.re.MatchString(s)
}

func globToRegexp(pat string) string {
	var b strings.Builder
	b.WriteString(`^(?s:`)
	rs := []rune(pat)
	n := len(rs)
	for i := 0; i < n; {
		c := rs[i]
		i++
		switch c {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		case '[':
			j := i
			if j < n && rs[j] == '!' {
				j++
			}
			if j < n && rs[j] == ']' {
				j++
			}
			for j < n && rs[j] != ']' {
				j++
			}
			if j >= n {
				b.WriteString(`\[`)
				continue
			}
			class := string(rs[i:j])
			i = j + 1
			class = strings.ReplaceAll(class, `\`, `\\`)
			class = strings.ReplaceAll(class, `[`, `\[`)
			switch {
			case strings.HasPrefix(class, "!"):
				class = "^" + class[1:]
			case strings.HasPrefix(class, "^"):
				class = `\` + class
			}
			b.WriteString("[" + class + "]")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString(`)$`)
	return b.String()
}

// Condition is a compiled boolean expression over a match context.
type Condition interface {
	Eval(MatchContext) (bool, error)
}

// ConditionCompiler compiles the expression in a rule's "cel" match key.
type ConditionCompiler interface {
	Compile(expr string) (Condition, error)
}

// Expr holds a compiled condition. Evaluation errors count as no match.
type Expr struct {
	Source string
	Cond   Condition
}

func (e Expr) Matches(ctx MatchContext) bool {
	if e.Cond == nil {
		return false
	}
	ok, err := e.Cond.Eval(ctx)
	return err == nil && ok
}

// sortedKeys returns map keys in lexical order so parse errors are stable.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
