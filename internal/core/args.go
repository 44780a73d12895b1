package core

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Arg is one (flag, value) pair of a program's argument list. An empty Flag
// renders as a positional value; an empty Value renders as a bare switch.
type Arg struct {
	Flag  string `json:"flag"`
	Value string `json:"value"`
}

// Args is an ordered argument list. Order is preserved end to end.
type Args []Arg

// Argv flattens the list into process arguments.
func (a Args) Argv() []string {
	argv := make([]string, 0, 2*len(a))
	for _, arg := range a {
		if arg.Flag != "" {
			argv = append(argv, arg.Flag)
		}
		if arg.Value != "" {
			argv = append(argv, arg.Value)
		}
	}
	return argv
}

// Get returns the value of the first argument with the given flag.
func (a Args) Get(flag string) (string, bool) {
	for _, arg := range a {
		if arg.Flag == flag {
			return arg.Value, true
		}
	}
	return "", false
}

// String renders the list the way it would appear on a command line.
func (a Args) String() string {
	return strings.Join(a.Argv(), " ")
}

// ArgTemplate is one argument whose value is an HCL template evaluated when
// the job is created. Source is the template text and is what contributes
// to task identity.
type ArgTemplate struct {
	Flag   string
	Source string
	Expr   hcl.Expression
}

// LiteralArg returns a template that always renders value.
func LiteralArg(flag, value string) ArgTemplate {
	return ArgTemplate{
		Flag:   flag,
		Source: fmt.Sprintf("%q", value),
		Expr:   hcl.StaticExpr(cty.StringVal(value), hcl.Range{}),
	}
}

// TemplateArg parses src as an HCL string template such as
// "${input.alignment}" or "-T ${cores}".
func TemplateArg(flag, src string) (ArgTemplate, error) {
	expr, diags := hclsyntax.ParseTemplate([]byte(src), "arg:"+flag, hcl.InitialPos)
	if diags.HasErrors() {
		return ArgTemplate{}, &InputError{Code: "BadArgTemplate", Message: diags.Error()}
	}
	return ArgTemplate{Flag: flag, Source: src, Expr: expr}, nil
}

// MustTemplateArg is TemplateArg for static templates known to be valid.
func MustTemplateArg(flag, src string) ArgTemplate {
	t, err := TemplateArg(flag, src)
	if err != nil {
		panic(err)
	}
	return t
}

// RenderArgs evaluates every template against vars, preserving order.
// A template that evaluates to null drops its argument entirely.
func RenderArgs(tmpls []ArgTemplate, vars map[string]cty.Value) (Args, error) {
	ctx := &hcl.EvalContext{Variables: vars}
	out := make(Args, 0, len(tmpls))
	for _, t := range tmpls {
		if t.Expr == nil {
			out = append(out, Arg{Flag: t.Flag})
			continue
		}
		v, diags := t.Expr.Value(ctx)
		if diags.HasErrors() {
			return nil, &InputError{
				Code:    "ArgEvaluation",
				Message: fmt.Sprintf("argument %q: %s", t.Flag, diags.Error()),
			}
		}
		if v.IsNull() {
			continue
		}
		if !v.IsWhollyKnown() {
			return nil, &InputError{Code: "ArgEvaluation", Message: fmt.Sprintf("argument %q is not known", t.Flag)}
		}
		sv, err := convert.Convert(v, cty.String)
		if err != nil {
			return nil, &InputError{
				Code:    "ArgEvaluation",
				Message: fmt.Sprintf("argument %q is not a string: %v", t.Flag, err),
			}
		}
		out = append(out, Arg{Flag: t.Flag, Value: sv.AsString()})
	}
	return out, nil
}
