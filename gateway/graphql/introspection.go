package graphql

import (
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

// introspection is the precomputed __schema response value. The schema
// never changes after load, so the full shape is built once and
// projected per request like any other resolved value.
type introspection struct {
	schemaValue map[string]any
	types       map[string]map[string]any
}

func buildIntrospection(s *ast.Schema) *introspection {
	in := &introspection{types: make(map[string]map[string]any, len(s.Types))}

	names := make([]string, 0, len(s.Types))
	for name := range s.Types {
		names = append(names, name)
	}
	sort.Strings(names)

	typeList := make([]any, 0, len(names))
	for _, name := range names {
		t := fullType(s, s.Types[name])
		in.types[name] = t
		typeList = append(typeList, t)
	}

	directiveNames := make([]string, 0, len(s.Directives))
	for name := range s.Directives {
		directiveNames = append(directiveNames, name)
	}
	sort.Strings(directiveNames)

	directives := make([]any, 0, len(directiveNames))
	for _, name := range directiveNames {
		directives = append(directives, directiveValue(s, s.Directives[name]))
	}

	in.schemaValue = map[string]any{
		"description":      nil,
		"types":            typeList,
		"queryType":        in.types[s.Query.Name],
		"mutationType":     nil,
		"subscriptionType": nil,
		"directives":       directives,
	}
	if s.Mutation != nil {
		in.schemaValue["mutationType"] = in.types[s.Mutation.Name]
	}
	if s.Subscription != nil {
		in.schemaValue["subscriptionType"] = in.types[s.Subscription.Name]
	}
	return in
}

func (in *introspection) typeByName(name string) any {
	t, ok := in.types[name]
	if !ok {
		return nil
	}
	return t
}

func fullType(s *ast.Schema, def *ast.Definition) map[string]any {
	t := map[string]any{
		"kind":           string(def.Kind),
		"name":           def.Name,
		"description":    strOrNil(def.Description),
		"fields":         nil,
		"inputFields":    nil,
		"interfaces":     nil,
		"enumValues":     nil,
		"possibleTypes":  nil,
		"specifiedByURL": nil,
	}

	switch def.Kind {
	case ast.Object, ast.Interface:
		fields := make([]any, 0, len(def.Fields))
		for _, f := range def.Fields {
			if strings.HasPrefix(f.Name, "__") {
				continue
			}
			fields = append(fields, map[string]any{
				"name":              f.Name,
				"description":       strOrNil(f.Description),
				"args":              inputValues(s, f.Arguments),
				"type":              typeRef(s, f.Type),
				"isDeprecated":      false,
				"deprecationReason": nil,
			})
		}
		t["fields"] = fields

		interfaces := make([]any, 0, len(def.Interfaces))
		for _, name := range def.Interfaces {
			interfaces = append(interfaces, namedTypeRef(s, name))
		}
		t["interfaces"] = interfaces

	case ast.InputObject:
		inputs := make([]any, 0, len(def.Fields))
		for _, f := range def.Fields {
			var dv any
			if f.DefaultValue != nil {
				dv = f.DefaultValue.String()
			}
			inputs = append(inputs, map[string]any{
				"name":         f.Name,
				"description":  strOrNil(f.Description),
				"type":         typeRef(s, f.Type),
				"defaultValue": dv,
			})
		}
		t["inputFields"] = inputs

	case ast.Enum:
		values := make([]any, 0, len(def.EnumValues))
		for _, v := range def.EnumValues {
			values = append(values, map[string]any{
				"name":              v.Name,
				"description":       strOrNil(v.Description),
				"isDeprecated":      false,
				"deprecationReason": nil,
			})
		}
		t["enumValues"] = values
	}

	if def.Kind == ast.Interface || def.Kind == ast.Union {
		possible := make([]any, 0, len(s.PossibleTypes[def.Name]))
		for _, pd := range s.PossibleTypes[def.Name] {
			possible = append(possible, namedTypeRef(s, pd.Name))
		}
		t["possibleTypes"] = possible
	}
	return t
}

func directiveValue(s *ast.Schema, def *ast.DirectiveDefinition) map[string]any {
	locations := make([]any, 0, len(def.Locations))
	for _, loc := range def.Locations {
		locations = append(locations, string(loc))
	}
	return map[string]any{
		"name":         def.Name,
		"description":  strOrNil(def.Description),
		"locations":    locations,
		"args":         inputValues(s, def.Arguments),
		"isRepeatable": def.IsRepeatable,
	}
}

func inputValues(s *ast.Schema, args ast.ArgumentDefinitionList) []any {
	out := make([]any, 0, len(args))
	for _, a := range args {
		var dv any
		if a.DefaultValue != nil {
			dv = a.DefaultValue.String()
		}
		out = append(out, map[string]any{
			"name":         a.Name,
			"description":  strOrNil(a.Description),
			"type":         typeRef(s, a.Type),
			"defaultValue": dv,
		})
	}
	return out
}

// typeRef renders a __Type reference with NON_NULL and LIST wrappers.
func typeRef(s *ast.Schema, t *ast.Type) map[string]any {
	if t.NonNull {
		elem := *t
		elem.NonNull = false
		return map[string]any{"kind": "NON_NULL", "name": nil, "ofType": typeRef(s, &elem)}
	}
	if t.Elem != nil {
		return map[string]any{"kind": "LIST", "name": nil, "ofType": typeRef(s, t.Elem)}
	}
	return namedTypeRef(s, t.NamedType)
}

func namedTypeRef(s *ast.Schema, name string) map[string]any {
	kind := "SCALAR"
	if def, ok := s.Types[name]; ok {
		kind = string(def.Kind)
	}
	return map[string]any{"kind": kind, "name": name, "ofType": nil}
}

func strOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
