package exec

import (
	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/qerr"
	"github.com/dd0wney/cluso-query/pkg/schema"
)

// Count result property of UPDATE and DELETE
const CountProperty = "count"

func (p *Planner) planInsert(s *ast.Insert) (*Plan, error) {
	plan := NewPlan(s.String())
	class := s.Class
	if class == "" && s.Vertex {
		class = schema.VertexClass
	}
	if _, ok := p.Schema.Class(class); !ok {
		return nil, qerr.New("plan insert").Subject(class).Cause(qerr.ErrUnknownClass).Err()
	}
	if s.Vertex && !schema.IsVertexClass(p.Schema, class) {
		return nil, qerr.Execution("plan insert", nil, "class %s is not a vertex class", class)
	}

	if s.From != nil {
		sub, err := p.planSelect(s.From)
		if err != nil {
			return nil, err
		}
		plan.Chain(NewSubQueryStep(sub))
		plan.Chain(NewRowToRecordStep(class))
	} else {
		plan.Chain(NewCreateRecordStep(max(len(s.Values), 1)))
		plan.Chain(NewSetDocumentClassStep(class))
		if len(s.Fields) > 0 {
			plan.Chain(NewInsertValuesStep(s.Fields, s.Values))
		}
		if s.Content != nil {
			plan.Chain(NewUpdateMergeStep(s.Content))
		}
		if len(s.Set) > 0 {
			plan.Chain(NewUpdateSetStep(s.Set))
		}
	}
	plan.Chain(NewSaveElementStep(s.Cluster))
	if s.Return != nil {
		plan.Chain(NewProjectionStep(s.Return))
	}
	return plan, nil
}

func (p *Planner) planUpdate(s *ast.Update) (*Plan, error) {
	plan := NewPlan(s.String())
	if s.Upsert && s.Target.Kind != ast.TargetClass {
		return nil, qerr.Execution("plan update", nil, "UPSERT requires a class target, got %s", s.Target)
	}
	where, err := p.chainFetch(plan, s.Target, s.Where, true)
	if err != nil {
		return nil, err
	}
	if where != nil {
		plan.Chain(NewFilterStep(where))
	}
	chainSkipLimit(plan, nil, s.Limit)
	plan.Chain(NewConvertToUpdatableRowStep())
	if s.Upsert {
		plan.Chain(NewUpsertStep(s.Target.Name, s.Where))
	}
	if s.Return == ast.ReturnBefore {
		plan.Chain(NewCopyRecordContentBeforeUpdateStep())
	}
	for _, op := range s.Ops {
		switch op.Kind {
		case ast.UpdateSet:
			plan.Chain(NewUpdateSetStep(op.Assignments))
		case ast.UpdateRemove:
			plan.Chain(NewUpdateRemoveStep(op.Fields))
		case ast.UpdateMerge:
			plan.Chain(NewUpdateMergeStep(op.Value))
		case ast.UpdateContent:
			plan.Chain(NewUpdateContentStep(op.Value))
		}
	}
	plan.Chain(NewSaveElementStep(""))
	chainReturn(plan, s.Return)
	p.chainTimeout(plan, s.Timeout)
	return plan, nil
}

// chainReturn shapes the result of a mutation: a count by default, the
// records as they were before it, or as they are after it.
func chainReturn(plan *Plan, mode string) {
	switch mode {
	case ast.ReturnBefore:
		plan.Chain(NewConvertToRowStep(true))
	case ast.ReturnAfter:
		plan.Chain(NewConvertToRowStep(false))
	default:
		plan.Chain(NewCountStep(CountProperty))
	}
}

func (p *Planner) planDelete(s *ast.Delete) (*Plan, error) {
	plan := NewPlan(s.String())
	where := s.Where
	if s.Kind == ast.DeleteEdge && s.From != nil {
		class := schema.EdgeClass
		if s.Target.Kind == ast.TargetClass {
			class = s.Target.Name
		}
		plan.Chain(NewFetchEdgesStep(class, s.From, s.To))
	} else {
		if s.Target.Kind == ast.TargetNone {
			return nil, qerr.Execution("plan delete", nil, "%s without a target", s.StatementKind())
		}
		var err error
		if where, err = p.chainFetch(plan, s.Target, s.Where, true); err != nil {
			return nil, err
		}
	}
	if where != nil {
		plan.Chain(NewFilterStep(where))
	}
	chainSkipLimit(plan, nil, s.Limit)
	switch s.Kind {
	case ast.DeleteVertex:
		plan.Chain(NewCastToVertexStep())
	case ast.DeleteEdge:
		plan.Chain(NewCastToEdgeStep())
	default:
		plan.Chain(NewCheckSafeDeleteStep(s.Unsafe))
	}
	plan.Chain(NewDeleteStep())
	chainReturn(plan, s.Return)
	return plan, nil
}

func (p *Planner) planCreateEdge(s *ast.CreateEdge) (*Plan, error) {
	plan := NewPlan(s.String())
	class := s.Class
	if class == "" {
		class = schema.EdgeClass
	}
	if !schema.IsEdgeClass(p.Schema, class) {
		return nil, qerr.Execution("plan create edge", nil, "class %s is not an edge class", class)
	}
	plan.Chain(NewCreateEdgesStep(class, s.From, s.To, s.Upsert))
	if s.Content != nil {
		plan.Chain(NewUpdateMergeStep(s.Content))
	}
	if len(s.Set) > 0 {
		plan.Chain(NewUpdateSetStep(s.Set))
	}
	plan.Chain(NewSaveElementStep(""))
	return plan, nil
}

func (p *Planner) planMoveVertex(s *ast.MoveVertex) (*Plan, error) {
	plan := NewPlan(s.String())
	if s.ToClass == "" && s.ToCluster == "" {
		return nil, qerr.Execution("plan move vertex", nil, "no destination class or cluster")
	}
	if s.ToClass != "" && !schema.IsVertexClass(p.Schema, s.ToClass) {
		return nil, qerr.Execution("plan move vertex", nil, "class %s is not a vertex class", s.ToClass)
	}
	if _, err := p.chainFetch(plan, s.Source, nil, true); err != nil {
		return nil, err
	}
	plan.Chain(NewCastToVertexStep())
	plan.Chain(NewMoveVertexStep(s.ToClass, s.ToCluster, s.Set))
	return plan, nil
}
