package graphql

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"

	"github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/pkg/cache"
)

// queryCacheSize bounds the parsed-document cache. Dashboards and the
// edge poll with a small set of fixed queries, so this rarely fills.
const queryCacheSize = 1024

// Request is one GraphQL request, as posted over HTTP or carried in a
// websocket subscribe message. Decode request bodies with UseNumber so
// millisecond timestamps survive the trip through variables intact.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

// Response is the GraphQL response envelope. Data stays unset on
// request errors so the key is omitted entirely, matching GraphQL's
// distinction between request and field errors.
type Response struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors gqlerror.List   `json:"errors,omitempty"`
}

// Executor parses, validates, and runs operations against the
// resolver. Top-level fields dispatch to resolver methods; the typed
// results are then projected through the request's selection sets.
// Subscriptions are prepared here but driven by the websocket session.
type Executor struct {
	schema   *ast.Schema
	resolver *Resolver
	intro    *introspection
	queries  *cache.LRU[*ast.QueryDocument]
}

// NewExecutor loads the schema and builds the introspection data.
func NewExecutor(resolver *Resolver) (*Executor, error) {
	schema, err := loadSchema()
	if err != nil {
		return nil, err
	}
	return &Executor{
		schema:   schema,
		resolver: resolver,
		intro:    buildIntrospection(schema),
		queries:  cache.NewLRU[*ast.QueryDocument](queryCacheSize),
	}, nil
}

// Execute runs a query or mutation and returns the response envelope.
func (e *Executor) Execute(ctx context.Context, req Request) *Response {
	op, vars, errs := e.prepare(req)
	if len(errs) > 0 {
		return &Response{Errors: errs}
	}
	if op.Operation == ast.Subscription {
		return &Response{Errors: gqlerror.List{
			gqlerror.Errorf("subscriptions are only supported over websocket connections"),
		}}
	}
	return e.executeRoot(ctx, op, vars)
}

// prepare parses and validates the request document, selects the
// operation, and coerces variables against its definitions. Validated
// documents are immutable, so hot queries share one cached parse.
func (e *Executor) prepare(req Request) (*ast.OperationDefinition, map[string]any, gqlerror.List) {
	doc, ok := e.queries.Get(req.Query)
	if !ok {
		var errs gqlerror.List
		doc, errs = gqlparser.LoadQuery(e.schema, req.Query)
		if len(errs) > 0 {
			return nil, nil, errs
		}
		e.queries.Set(req.Query, doc)
	}

	op := doc.Operations.ForName(req.OperationName)
	if op == nil {
		if req.OperationName == "" {
			return nil, nil, gqlerror.List{
				gqlerror.Errorf("operationName is required when a document defines multiple operations"),
			}
		}
		return nil, nil, gqlerror.List{
			gqlerror.Errorf("operation %q is not defined in this document", req.OperationName),
		}
	}

	vars, err := validator.VariableValues(e.schema, op, req.Variables)
	if err != nil {
		var gqlErr *gqlerror.Error
		if errors.As(err, &gqlErr) {
			return nil, nil, gqlerror.List{gqlErr}
		}
		return nil, nil, gqlerror.List{gqlerror.Errorf("%s", err.Error())}
	}
	return op, vars, nil
}

// executeRoot resolves the operation's top-level fields in selection
// order. Mutations therefore run serially. A failed non-null root
// field nulls the entire data value.
func (e *Executor) executeRoot(ctx context.Context, op *ast.OperationDefinition, vars map[string]any) *Response {
	rootType := "Query"
	if op.Operation == ast.Mutation {
		rootType = "Mutation"
	}

	fields := collectFields(op.SelectionSet, vars, rootType)
	out := newOrderedMap(len(fields))
	var errs gqlerror.List
	nullData := false

	for _, f := range fields {
		alias := fieldAlias(f)
		if f.Name == "__typename" {
			out.set(alias, rootType)
			continue
		}

		value, err := e.resolveField(ctx, op.Operation, f, vars)
		if err == nil {
			var untyped any
			if untyped, err = toUntyped(value); err == nil {
				out.set(alias, e.project(untyped, f.SelectionSet, fieldTypeName(f), vars))
				continue
			}
		}

		errs = append(errs, wrapError(err, f.Name))
		out.set(alias, nil)
		if f.Definition != nil && f.Definition.Type.NonNull {
			nullData = true
		}
	}

	var data any = out
	if nullData {
		data = nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return &Response{Errors: gqlerror.List{gqlerror.Errorf("failed to encode response data")}}
	}
	return &Response{Data: raw, Errors: errs}
}

func (e *Executor) resolveField(ctx context.Context, kind ast.Operation, f *ast.Field, vars map[string]any) (any, error) {
	args := f.ArgumentMap(vars)
	if kind == ast.Mutation {
		return e.resolver.resolveMutation(ctx, f.Name, args)
	}
	switch f.Name {
	case "__schema":
		return e.intro.schemaValue, nil
	case "__type":
		return e.intro.typeByName(argString(args, "name")), nil
	default:
		return e.resolver.resolveQuery(ctx, f.Name, args)
	}
}

// project shapes a resolved value by the request's selection set,
// honoring aliases, fragments, and skip/include directives. Values
// arrive JSON-untyped, so field lookups use the schema's JSON names.
func (e *Executor) project(value any, sels ast.SelectionSet, typeName string, vars map[string]any) any {
	if value == nil || len(sels) == 0 {
		return value
	}
	if list, ok := value.([]any); ok {
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = e.project(item, sels, typeName, vars)
		}
		return out
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return value
	}

	fields := collectFields(sels, vars, typeName)
	out := newOrderedMap(len(fields))
	for _, f := range fields {
		alias := fieldAlias(f)
		if f.Name == "__typename" {
			out.set(alias, typeName)
			continue
		}
		out.set(alias, e.project(obj[f.Name], f.SelectionSet, fieldTypeName(f), vars))
	}
	return out
}

// collectFields flattens a selection set into its fields, expanding
// fragments whose type condition matches typeName and merging
// selections that share a response key.
func collectFields(sels ast.SelectionSet, vars map[string]any, typeName string) []*ast.Field {
	var fields []*ast.Field
	index := map[string]int{}

	var walk func(sels ast.SelectionSet)
	walk = func(sels ast.SelectionSet) {
		for _, sel := range sels {
			switch s := sel.(type) {
			case *ast.Field:
				if skipSelection(s.Directives, vars) {
					continue
				}
				alias := fieldAlias(s)
				if i, ok := index[alias]; ok {
					merged := *fields[i]
					merged.SelectionSet = append(append(ast.SelectionSet{}, merged.SelectionSet...), s.SelectionSet...)
					fields[i] = &merged
					continue
				}
				index[alias] = len(fields)
				fields = append(fields, s)
			case *ast.FragmentSpread:
				if skipSelection(s.Directives, vars) || s.Definition == nil {
					continue
				}
				if cond := s.Definition.TypeCondition; cond != "" && cond != typeName {
					continue
				}
				walk(s.Definition.SelectionSet)
			case *ast.InlineFragment:
				if skipSelection(s.Directives, vars) {
					continue
				}
				if s.TypeCondition != "" && s.TypeCondition != typeName {
					continue
				}
				walk(s.SelectionSet)
			}
		}
	}
	walk(sels)
	return fields
}

func skipSelection(directives ast.DirectiveList, vars map[string]any) bool {
	for _, d := range directives {
		if d.Name != "skip" && d.Name != "include" {
			continue
		}
		cond, _ := d.ArgumentMap(vars)["if"].(bool)
		if d.Name == "skip" && cond {
			return true
		}
		if d.Name == "include" && !cond {
			return true
		}
	}
	return false
}

func fieldAlias(f *ast.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

func fieldTypeName(f *ast.Field) string {
	if f.Definition == nil {
		return ""
	}
	return namedType(f.Definition.Type)
}

func namedType(t *ast.Type) string {
	if t == nil {
		return ""
	}
	for t.Elem != nil {
		t = t.Elem
	}
	return t.NamedType
}

// toUntyped round-trips a resolver result through JSON so projection
// sees plain maps and slices keyed by wire names. Numbers decode as
// json.Number to keep 64-bit timestamps exact.
func toUntyped(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// orderedMap preserves response key order, which follows the
// selection order of the request.
type orderedMap struct {
	keys   []string
	values map[string]any
}

func newOrderedMap(capacity int) *orderedMap {
	return &orderedMap{
		keys:   make([]string, 0, capacity),
		values: make(map[string]any, capacity),
	}
}

func (m *orderedMap) set(key string, value any) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

func (m *orderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		value, err := json.Marshal(m.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
