package ast

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/dd0wney/cluso-query/pkg/storage"
	"github.com/dd0wney/cluso-query/pkg/value"
)

// Func is a function callable from within an expression.
type Func func(args []any) (any, error)

var (
	functionRegistry   = make(map[string]Func)
	functionRegistryMu sync.RWMutex
)

// RegisterFunction registers a named function (case-insensitive).
func RegisterFunction(name string, fn Func) {
	functionRegistryMu.Lock()
	defer functionRegistryMu.Unlock()
	functionRegistry[strings.ToLower(name)] = fn
}

// GetFunction retrieves a registered function by name.
func GetFunction(name string) (Func, error) {
	functionRegistryMu.RLock()
	defer functionRegistryMu.RUnlock()
	if fn, ok := functionRegistry[strings.ToLower(name)]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("unknown function: %s", name)
}

// Call is a function or method call. Graph methods (out, in, both and their
// E/V forms) traverse from the receiver, or from the current row's element
// when there is no receiver. Other names resolve in the function registry
// with the receiver, if any, as the first argument.
type Call struct {
	Receiver Expr
	Name     string
	Args     []Expr
}

func (c *Call) Eval(row Row, ctx Context) (any, error) {
	if g, ok := LookupGraphMethod(c.Name); ok {
		return c.evalGraph(g, row, ctx)
	}
	fn, err := GetFunction(c.Name)
	if err != nil {
		return nil, err
	}
	args, err := EvalAll(c.Args, row, ctx)
	if err != nil {
		return nil, err
	}
	if c.Receiver != nil {
		recv, err := c.Receiver.Eval(row, ctx)
		if err != nil {
			return nil, err
		}
		args = append([]any{recv}, args...)
	}
	return fn(args)
}

func (c *Call) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = a.String()
	}
	s := c.Name + "(" + strings.Join(parts, ", ") + ")"
	if c.Receiver != nil {
		return c.Receiver.String() + "." + s
	}
	return s
}

// IsCountStar reports whether e is count(*).
func IsCountStar(e Expr) bool {
	c, ok := e.(*Call)
	if !ok || !strings.EqualFold(c.Name, "count") || len(c.Args) != 1 {
		return false
	}
	_, star := c.Args[0].(Star)
	return star
}

// GraphMethod describes one of the traversal methods.
type GraphMethod struct {
	Name      string
	Direction storage.Direction
	// Edges returns the edge records themselves rather than the vertices at
	// their far end.
	Edges bool
	// Vertex applies to edges: it returns their endpoint vertices.
	Vertex bool
}

var graphMethods = map[string]GraphMethod{
	"out":   {Name: "out", Direction: storage.DirOut},
	"in":    {Name: "in", Direction: storage.DirIn},
	"both":  {Name: "both", Direction: storage.DirBoth},
	"oute":  {Name: "outE", Direction: storage.DirOut, Edges: true},
	"ine":   {Name: "inE", Direction: storage.DirIn, Edges: true},
	"bothe": {Name: "bothE", Direction: storage.DirBoth, Edges: true},
	"outv":  {Name: "outV", Direction: storage.DirOut, Vertex: true},
	"inv":   {Name: "inV", Direction: storage.DirIn, Vertex: true},
	"bothv": {Name: "bothV", Direction: storage.DirBoth, Vertex: true},
}

// LookupGraphMethod returns the traversal method called name.
func LookupGraphMethod(name string) (GraphMethod, bool) {
	g, ok := graphMethods[strings.ToLower(name)]
	return g, ok
}

// Reverse returns the method walking the same hop in the other direction.
// outE reverses to outV (the edge back to its out vertex) and inV to inE.
func (g GraphMethod) Reverse() GraphMethod {
	switch {
	case g.Edges:
		return graphMethods[strings.ToLower(g.Direction.String()+"V")]
	case g.Vertex:
		return graphMethods[strings.ToLower(g.Direction.String()+"E")]
	}
	return graphMethods[strings.ToLower(g.Direction.Reverse().String())]
}

// Targets applies the method to one record.
func (g GraphMethod) Targets(db storage.Database, rec *storage.Record, classes ...string) ([]*storage.Record, error) {
	if rec == nil {
		return nil, nil
	}
	if g.Vertex {
		if !rec.IsEdge() {
			return nil, nil
		}
		var out []*storage.Record
		for _, d := range []storage.Direction{storage.DirOut, storage.DirIn} {
			if g.Direction != storage.DirBoth && g.Direction != d {
				continue
			}
			v, err := db.Load(rec.Endpoint(d))
			if storage.IsNotFound(err) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	if !rec.IsVertex() {
		return nil, nil
	}
	edges, err := db.Edges(rec.Identity(), g.Direction, classes...)
	if err != nil || g.Edges {
		return edges, err
	}
	out := make([]*storage.Record, 0, len(edges))
	for _, e := range edges {
		far := e.In()
		switch g.Direction {
		case storage.DirIn:
			far = e.Out()
		case storage.DirBoth:
			if e.In() == rec.Identity() {
				far = e.Out()
			}
		}
		v, err := db.Load(far)
		if storage.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Call) evalGraph(g GraphMethod, row Row, ctx Context) (any, error) {
	if ctx == nil || ctx.Database() == nil {
		return nil, fmt.Errorf("%s(): no database", g.Name)
	}
	var sources []any
	if c.Receiver == nil {
		rec, err := elementOf(row, ctx)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			sources = []any{rec}
		}
	} else {
		v, err := c.Receiver.Eval(row, ctx)
		if err != nil {
			return nil, err
		}
		sources = value.ToList(v)
	}

	classes, err := stringArgs(c.Args, row, ctx)
	if err != nil {
		return nil, err
	}
	out := []any{}
	for _, src := range sources {
		rec, err := resolveRecord(src, ctx)
		if err != nil {
			return nil, err
		}
		targets, err := g.Targets(ctx.Database(), rec, classes...)
		if err != nil {
			return nil, err
		}
		for _, t := range targets {
			out = append(out, t)
		}
	}
	return out, nil
}

func stringArgs(args []Expr, row Row, ctx Context) ([]string, error) {
	vals, err := EvalAll(args, row, ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		for _, item := range value.ToList(v) {
			out = append(out, fmt.Sprint(item))
		}
	}
	return out, nil
}

func init() {
	RegisterFunction("toLowerCase", fnToLower)
	RegisterFunction("toUpperCase", fnToUpper)
	RegisterFunction("size", fnSize)
	RegisterFunction("abs", fnAbs)
	RegisterFunction("coalesce", fnCoalesce)
	RegisterFunction("ifnull", fnIfNull)
	RegisterFunction("first", fnFirst)
	RegisterFunction("last", fnLast)
	RegisterFunction("asString", fnAsString)
}

func fnToLower(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("toLowerCase requires 1 argument")
	}
	if s, ok := args[0].(string); ok {
		return strings.ToLower(s), nil
	}
	return nil, nil
}

func fnToUpper(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("toUpperCase requires 1 argument")
	}
	if s, ok := args[0].(string); ok {
		return strings.ToUpper(s), nil
	}
	return nil, nil
}

func fnSize(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("size requires 1 argument")
	}
	switch v := value.Normalize(args[0]).(type) {
	case nil:
		return int64(0), nil
	case string:
		return int64(len([]rune(v))), nil
	case map[string]any:
		return int64(len(v)), nil
	case []any:
		return int64(len(v)), nil
	}
	return int64(1), nil
}

func fnAbs(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("abs requires 1 argument")
	}
	switch v := value.Normalize(args[0]).(type) {
	case nil:
		return nil, nil
	case int64:
		if v < 0 {
			return -v, nil
		}
		return v, nil
	case float64:
		return math.Abs(v), nil
	}
	return nil, fmt.Errorf("abs: cannot use %T", args[0])
}

func fnCoalesce(args []any) (any, error) {
	for _, a := range args {
		if a != nil {
			return a, nil
		}
	}
	return nil, nil
}

func fnIfNull(args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("ifnull requires 2 arguments")
	}
	if args[0] == nil {
		return args[1], nil
	}
	return args[0], nil
}

func fnFirst(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("first requires 1 argument")
	}
	if l := value.ToList(args[0]); len(l) > 0 {
		return l[0], nil
	}
	return nil, nil
}

func fnLast(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("last requires 1 argument")
	}
	if l := value.ToList(args[0]); len(l) > 0 {
		return l[len(l)-1], nil
	}
	return nil, nil
}

func fnAsString(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("asString requires 1 argument")
	}
	if args[0] == nil {
		return nil, nil
	}
	return fmt.Sprint(args[0]), nil
}
