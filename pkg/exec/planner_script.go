package exec

import (
	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/qerr"
)

// planBlock chains one script step per statement. A BEGIN whose matching
// COMMIT carries RETRY becomes a RetryStep owning the whole transaction.
func (p *Planner) planBlock(label string, stmts []ast.Statement) (*Plan, error) {
	plan := NewPlan(label)
	for i := 0; i < len(stmts); i++ {
		if _, ok := stmts[i].(*ast.Begin); ok {
			if end, commit := matchingCommit(stmts, i); commit != nil && commit.Retry > 0 {
				step, err := p.planRetry(stmts[i:end+1], commit)
				if err != nil {
					return nil, err
				}
				plan.Chain(step)
				i = end
				continue
			}
		}
		step, err := p.planScriptStatement(stmts[i])
		if err != nil {
			return nil, err
		}
		plan.Chain(step)
	}
	return plan, nil
}

// matchingCommit finds the COMMIT closing the BEGIN at stmts[begin].
func matchingCommit(stmts []ast.Statement, begin int) (int, *ast.Commit) {
	for j := begin + 1; j < len(stmts); j++ {
		switch s := stmts[j].(type) {
		case *ast.Commit:
			return j, s
		case *ast.Begin:
			return -1, nil
		}
	}
	return -1, nil
}

func (p *Planner) planRetry(tx []ast.Statement, commit *ast.Commit) (Step, error) {
	body := NewPlan((&ast.Script{Statements: tx}).String())
	body.Chain(NewBeginStep())
	for _, st := range tx[1 : len(tx)-1] {
		step, err := p.planScriptStatement(st)
		if err != nil {
			return nil, err
		}
		body.Chain(step)
	}
	body.Chain(NewCommitStep())

	var elsePlan *Plan
	if len(commit.Else) > 0 {
		var err error
		if elsePlan, err = p.planBlock((&ast.Script{Statements: commit.Else}).String(), commit.Else); err != nil {
			return nil, err
		}
	}
	return NewRetryStep(body, commit.Retry, elsePlan, commit.ElseFail), nil
}

func (p *Planner) planScriptStatement(stmt ast.Statement) (Step, error) {
	switch s := stmt.(type) {
	case *ast.If:
		then, err := p.planBlock("THEN", s.Then)
		if err != nil {
			return nil, err
		}
		var els *Plan
		if len(s.Else) > 0 {
			if els, err = p.planBlock("ELSE", s.Else); err != nil {
				return nil, err
			}
		}
		return NewIfStep(s.Cond, then, els), nil
	case *ast.While:
		body, err := p.planBlock("WHILE", s.Body)
		if err != nil {
			return nil, err
		}
		return NewWhileStep(s.Cond, body), nil
	case *ast.ForEach:
		body, err := p.planBlock("FOREACH", s.Body)
		if err != nil {
			return nil, err
		}
		return NewForEachStep(s.Var, s.Source, body), nil
	case *ast.Return:
		return NewReturnStep(s.Expr), nil
	case *ast.Begin:
		return NewBeginStep(), nil
	case *ast.Commit:
		if s.Retry > 0 {
			return nil, qerr.Execution("plan script", nil, "COMMIT RETRY without a matching BEGIN")
		}
		return NewCommitStep(), nil
	case *ast.LetStatement:
		sub := NewPlan(s.String())
		if s.Query != nil {
			q, err := p.Plan(s.Query)
			if err != nil {
				return nil, err
			}
			sub.Chain(NewGlobalLetQueryStep(s.Name, q))
		} else {
			sub.Chain(NewGlobalLetExpressionStep(s.Name, s.Expr))
		}
		return NewScriptLineStep(sub), nil
	case *ast.Script:
		sub, err := p.planBlock(s.String(), s.Statements)
		if err != nil {
			return nil, err
		}
		return NewScriptLineStep(sub), nil
	}
	sub, err := p.Plan(stmt)
	if err != nil {
		return nil, err
	}
	return NewScriptLineStep(sub), nil
}
