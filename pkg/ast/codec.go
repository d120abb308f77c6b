package ast

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-query/pkg/rid"
	"github.com/dd0wney/cluso-query/pkg/value"
)

// Node is the serializable form of an expression tree. It is plain data so
// that any encoder (the plan codec uses YAML) can carry it.
type Node struct {
	Type  string           `yaml:"type"`
	Op    string           `yaml:"op,omitempty"`
	Name  string           `yaml:"name,omitempty"`
	Value any              `yaml:"value"`
	Tag   string           `yaml:"tag,omitempty"`
	Flag  bool             `yaml:"flag,omitempty"`
	Args  []*Node          `yaml:"args,omitempty"`
	Keys  map[string]*Node `yaml:"keys,omitempty"`
}

// Encode converts an expression to its serializable form; nil stays nil.
func Encode(e Expr) (*Node, error) {
	if e == nil {
		return nil, nil
	}
	switch x := e.(type) {
	case *Literal:
		return encodeLiteral(x.Value), nil
	case *Ident:
		return &Node{Type: "ident", Name: x.Name}, nil
	case *Variable:
		return &Node{Type: "var", Name: x.Name}, nil
	case *Param:
		return &Node{Type: "param", Name: x.Name}, nil
	case Star:
		return &Node{Type: "star"}, nil
	case *FieldAccess:
		return encodeArgs(&Node{Type: "field", Name: x.Field}, x.Base)
	case *IndexAccess:
		return encodeArgs(&Node{Type: "index"}, x.Base, x.Index)
	case *ListLit:
		return encodeArgs(&Node{Type: "list"}, x.Items...)
	case *MapLit:
		n := &Node{Type: "map", Keys: make(map[string]*Node, len(x.Entries))}
		for k, v := range x.Entries {
			enc, err := Encode(v)
			if err != nil {
				return nil, err
			}
			n.Keys[k] = enc
		}
		return n, nil
	case *Binary:
		return encodeArgs(&Node{Type: "binary", Op: x.Operator}, x.Left, x.Right)
	case *Comparison:
		return encodeArgs(&Node{Type: "cmp", Op: x.Operator}, x.Left, x.Right)
	case *And:
		return encodeArgs(&Node{Type: "and"}, x.Terms...)
	case *Or:
		return encodeArgs(&Node{Type: "or"}, x.Terms...)
	case *Not:
		return encodeArgs(&Node{Type: "not"}, x.Expr)
	case *Between:
		return encodeArgs(&Node{Type: "between"}, x.Expr, x.Low, x.High)
	case *IsNull:
		return encodeArgs(&Node{Type: "isnull", Flag: x.Negate}, x.Expr)
	case *InstanceOf:
		return encodeArgs(&Node{Type: "instanceof", Name: x.Class}, x.Expr)
	case *In:
		return encodeArgs(&Node{Type: "in"}, x.Left, x.Right)
	case *Contains:
		return encodeArgs(&Node{Type: "contains"}, x.Left, x.Right)
	case *Call:
		n, err := encodeArgs(&Node{Type: "call", Name: x.Name}, x.Args...)
		if err != nil {
			return nil, err
		}
		if x.Receiver != nil {
			recv, err := Encode(x.Receiver)
			if err != nil {
				return nil, err
			}
			n.Keys = map[string]*Node{"receiver": recv}
		}
		return n, nil
	}
	return nil, fmt.Errorf("ast: cannot encode %T", e)
}

func encodeArgs(n *Node, args ...Expr) (*Node, error) {
	for _, a := range args {
		enc, err := Encode(a)
		if err != nil {
			return nil, err
		}
		n.Args = append(n.Args, enc)
	}
	return n, nil
}

func encodeLiteral(v any) *Node {
	switch x := value.Normalize(v).(type) {
	case rid.RID:
		return &Node{Type: "lit", Tag: "rid", Value: x.String()}
	case time.Time:
		return &Node{Type: "lit", Tag: "time", Value: x.Format(time.RFC3339Nano)}
	case []byte:
		return &Node{Type: "lit", Tag: "bytes", Value: base64.StdEncoding.EncodeToString(x)}
	case int64:
		// YAML integers decode as int; the tag restores the width.
		return &Node{Type: "lit", Tag: "int", Value: x}
	case float64:
		return &Node{Type: "lit", Tag: "float", Value: x}
	case []any:
		n := &Node{Type: "lit", Tag: "list"}
		for _, item := range x {
			n.Args = append(n.Args, encodeLiteral(item))
		}
		return n
	case nil:
		return &Node{Type: "lit", Tag: "null"}
	default:
		return &Node{Type: "lit", Value: x}
	}
}

func decodeLiteral(n *Node) (any, error) {
	switch n.Tag {
	case "null":
		return nil, nil
	case "rid":
		return rid.Parse(fmt.Sprint(n.Value))
	case "time":
		return time.Parse(time.RFC3339Nano, fmt.Sprint(n.Value))
	case "bytes":
		return base64.StdEncoding.DecodeString(fmt.Sprint(n.Value))
	case "int":
		if i, ok := value.ToInt(n.Value); ok {
			return i, nil
		}
		return nil, fmt.Errorf("ast: bad int literal %v", n.Value)
	case "float":
		if f, ok := value.ToFloat(n.Value); ok {
			return f, nil
		}
		return nil, fmt.Errorf("ast: bad float literal %v", n.Value)
	case "list":
		out := make([]any, len(n.Args))
		for i, a := range n.Args {
			v, err := decodeLiteral(a)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	return value.Normalize(n.Value), nil
}

// Decode rebuilds an expression from its serializable form.
func Decode(n *Node) (Expr, error) {
	if n == nil {
		return nil, nil
	}
	args := make([]Expr, len(n.Args))
	if n.Type != "lit" {
		for i, a := range n.Args {
			e, err := Decode(a)
			if err != nil {
				return nil, err
			}
			args[i] = e
		}
	}
	arity := func(want int) error {
		if len(args) != want {
			return fmt.Errorf("ast: %s node needs %d arguments, has %d", n.Type, want, len(args))
		}
		return nil
	}

	switch n.Type {
	case "lit":
		v, err := decodeLiteral(n)
		if err != nil {
			return nil, err
		}
		return &Literal{Value: v}, nil
	case "ident":
		return &Ident{Name: n.Name}, nil
	case "var":
		return &Variable{Name: n.Name}, nil
	case "param":
		return &Param{Name: n.Name}, nil
	case "star":
		return Star{}, nil
	case "field":
		if err := arity(1); err != nil {
			return nil, err
		}
		return &FieldAccess{Base: args[0], Field: n.Name}, nil
	case "index":
		if err := arity(2); err != nil {
			return nil, err
		}
		return &IndexAccess{Base: args[0], Index: args[1]}, nil
	case "list":
		return &ListLit{Items: args}, nil
	case "map":
		m := &MapLit{Entries: make(map[string]Expr, len(n.Keys))}
		for k, v := range n.Keys {
			e, err := Decode(v)
			if err != nil {
				return nil, err
			}
			m.Entries[k] = e
		}
		return m, nil
	case "binary", "cmp", "in", "contains":
		if err := arity(2); err != nil {
			return nil, err
		}
		switch n.Type {
		case "binary":
			return &Binary{Left: args[0], Operator: n.Op, Right: args[1]}, nil
		case "cmp":
			return &Comparison{Left: args[0], Operator: n.Op, Right: args[1]}, nil
		case "in":
			return &In{Left: args[0], Right: args[1]}, nil
		}
		return &Contains{Left: args[0], Right: args[1]}, nil
	case "and":
		return &And{Terms: args}, nil
	case "or":
		return &Or{Terms: args}, nil
	case "not":
		if err := arity(1); err != nil {
			return nil, err
		}
		return &Not{Expr: args[0]}, nil
	case "between":
		if err := arity(3); err != nil {
			return nil, err
		}
		return &Between{Expr: args[0], Low: args[1], High: args[2]}, nil
	case "isnull":
		if err := arity(1); err != nil {
			return nil, err
		}
		return &IsNull{Expr: args[0], Negate: n.Flag}, nil
	case "instanceof":
		if err := arity(1); err != nil {
			return nil, err
		}
		return &InstanceOf{Expr: args[0], Class: n.Name}, nil
	case "call":
		c := &Call{Name: n.Name, Args: args}
		if recv, ok := n.Keys["receiver"]; ok {
			e, err := Decode(recv)
			if err != nil {
				return nil, err
			}
			c.Receiver = e
		}
		return c, nil
	}
	return nil, fmt.Errorf("ast: unknown node type %q", n.Type)
}

// FilterNode is the serializable form of a NodeFilter.
type FilterNode struct {
	Alias      string `yaml:"alias,omitempty"`
	Class      string `yaml:"class,omitempty"`
	RID        *Node  `yaml:"rid,omitempty"`
	Where      *Node  `yaml:"where,omitempty"`
	While      *Node  `yaml:"while,omitempty"`
	MaxDepth   *int   `yaml:"maxDepth,omitempty"`
	Optional   bool   `yaml:"optional,omitempty"`
	DepthAlias string `yaml:"depthAlias,omitempty"`
	PathAlias  string `yaml:"pathAlias,omitempty"`
}

// EncodeFilter converts a node filter; nil stays nil.
func EncodeFilter(f *NodeFilter) (*FilterNode, error) {
	if f == nil {
		return nil, nil
	}
	out := &FilterNode{
		Alias: f.Alias, Class: f.Class, MaxDepth: f.MaxDepth, Optional: f.Optional,
		DepthAlias: f.DepthAlias, PathAlias: f.PathAlias,
	}
	var err error
	if out.RID, err = Encode(f.RID); err != nil {
		return nil, err
	}
	if out.Where, err = Encode(f.Where); err != nil {
		return nil, err
	}
	if out.While, err = Encode(f.While); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeFilter rebuilds a node filter.
func DecodeFilter(n *FilterNode) (*NodeFilter, error) {
	if n == nil {
		return nil, nil
	}
	out := &NodeFilter{
		Alias: n.Alias, Class: n.Class, MaxDepth: n.MaxDepth, Optional: n.Optional,
		DepthAlias: n.DepthAlias, PathAlias: n.PathAlias,
	}
	var err error
	if out.RID, err = Decode(n.RID); err != nil {
		return nil, err
	}
	if out.Where, err = Decode(n.Where); err != nil {
		return nil, err
	}
	if out.While, err = Decode(n.While); err != nil {
		return nil, err
	}
	return out, nil
}

// ItemNode is the serializable form of a PathItem.
type ItemNode struct {
	Method *Node       `yaml:"method,omitempty"`
	Field  *Node       `yaml:"field,omitempty"`
	Chain  []*ItemNode `yaml:"chain,omitempty"`
	Filter *FilterNode `yaml:"filter,omitempty"`
}

// EncodePathItem converts a path item.
func EncodePathItem(p *PathItem) (*ItemNode, error) {
	if p == nil {
		return nil, nil
	}
	out := &ItemNode{}
	var err error
	if p.Method != nil {
		if out.Method, err = Encode(p.Method); err != nil {
			return nil, err
		}
	}
	if out.Field, err = Encode(p.Field); err != nil {
		return nil, err
	}
	for _, c := range p.Chain {
		enc, err := EncodePathItem(c)
		if err != nil {
			return nil, err
		}
		out.Chain = append(out.Chain, enc)
	}
	if out.Filter, err = EncodeFilter(p.Filter); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodePathItem rebuilds a path item.
func DecodePathItem(n *ItemNode) (*PathItem, error) {
	if n == nil {
		return nil, nil
	}
	out := &PathItem{}
	if n.Method != nil {
		e, err := Decode(n.Method)
		if err != nil {
			return nil, err
		}
		call, ok := e.(*Call)
		if !ok {
			return nil, fmt.Errorf("ast: path method is %T", e)
		}
		out.Method = call
	}
	var err error
	if out.Field, err = Decode(n.Field); err != nil {
		return nil, err
	}
	for _, c := range n.Chain {
		dec, err := DecodePathItem(c)
		if err != nil {
			return nil, err
		}
		out.Chain = append(out.Chain, dec)
	}
	if out.Filter, err = DecodeFilter(n.Filter); err != nil {
		return nil, err
	}
	return out, nil
}
