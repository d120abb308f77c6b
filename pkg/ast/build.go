package ast

// Shorthand constructors for building trees in code.

func Prop(name string) *Ident   { return &Ident{Name: name} }
func Lit(v any) *Literal        { return &Literal{Value: v} }
func Var(name string) *Variable { return &Variable{Name: name} }
func Key() *Ident               { return &Ident{Name: KeyField} }

func Cmp(left Expr, op string, right Expr) *Comparison {
	return &Comparison{Left: left, Operator: op, Right: right}
}

func Eq(left Expr, right Expr) *Comparison { return Cmp(left, OpEq, right) }

func AndOf(terms ...Expr) *And { return &And{Terms: terms} }

func OrOf(terms ...Expr) *Or { return &Or{Terms: terms} }

// Method builds a graph method hop such as out('Friend').
func Method(name string, classes ...string) *Call {
	args := make([]Expr, len(classes))
	for i, c := range classes {
		args[i] = Lit(c)
	}
	return &Call{Name: name, Args: args}
}

// Items builds plain projection items from expressions.
func Items(exprs ...Expr) []ProjectionItem {
	out := make([]ProjectionItem, len(exprs))
	for i, e := range exprs {
		out[i] = ProjectionItem{Expr: e}
	}
	return out
}
