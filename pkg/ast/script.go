package ast

import (
	"strconv"
	"strings"
)

// Script is a sequence of statements run in order; its result is that of the
// RETURN statement reached, or of the last statement.
type Script struct {
	Statements []Statement
}

func (*Script) StatementKind() string { return "SCRIPT" }
func (s *Script) String() string      { return block(s.Statements) }

func block(stmts []Statement) string {
	parts := make([]string, len(stmts))
	for i, st := range stmts {
		parts[i] = st.String()
	}
	return strings.Join(parts, "; ")
}

// If is IF (cond) { then } ELSE { else }.
type If struct {
	Cond Expr
	Then []Statement
	Else []Statement
}

func (*If) StatementKind() string { return "IF" }

func (i *If) String() string {
	s := "IF (" + i.Cond.String() + ") { " + block(i.Then) + " }"
	if len(i.Else) > 0 {
		s += " ELSE { " + block(i.Else) + " }"
	}
	return s
}

// While is WHILE (cond) { body }.
type While struct {
	Cond Expr
	Body []Statement
}

func (*While) StatementKind() string { return "WHILE" }
func (w *While) String() string      { return "WHILE (" + w.Cond.String() + ") { " + block(w.Body) + " }" }

// ForEach is FOREACH ($var IN source) { body }.
type ForEach struct {
	Var    string
	Source Expr
	Body   []Statement
}

func (*ForEach) StatementKind() string { return "FOREACH" }

func (f *ForEach) String() string {
	return "FOREACH (" + f.Var + " IN " + f.Source.String() + ") { " + block(f.Body) + " }"
}

// LetStatement is a script-level LET.
type LetStatement struct {
	Name  string
	Expr  Expr
	Query Statement
}

func (*LetStatement) StatementKind() string { return "LET" }

func (l *LetStatement) String() string {
	if l.Query != nil {
		return "LET " + l.Name + " = (" + l.Query.String() + ")"
	}
	return "LET " + l.Name + " = " + l.Expr.String()
}

// Return is a script RETURN.
type Return struct {
	Expr Expr
}

func (*Return) StatementKind() string { return "RETURN" }

func (r *Return) String() string {
	if r.Expr == nil {
		return "RETURN"
	}
	return "RETURN " + r.Expr.String()
}

// Begin opens a transaction.
type Begin struct{}

func (*Begin) StatementKind() string { return "BEGIN" }
func (*Begin) String() string        { return "BEGIN" }

// Commit closes the transaction opened by the preceding BEGIN. With Retry
// set, the statements between BEGIN and COMMIT are re-run on conflicts; once
// the retries are exhausted Else runs and, if ElseFail is set, the conflict
// is raised.
type Commit struct {
	Retry    int
	Else     []Statement
	ElseFail bool
}

func (*Commit) StatementKind() string { return "COMMIT" }

func (c *Commit) String() string {
	s := "COMMIT"
	if c.Retry > 0 {
		s += " RETRY " + strconv.Itoa(c.Retry)
	}
	if len(c.Else) > 0 {
		s += " ELSE { " + block(c.Else) + " }"
		if c.ElseFail {
			s += " AND FAIL"
		} else {
			s += " AND CONTINUE"
		}
	}
	return s
}
