package graphql

import (
	_ "embed"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/joyautomation/mantle/errors"
)

//go:embed schema.graphql
var schemaSDL string

// loadSchema parses the embedded SDL. Called once at construction; a
// parse failure means the binary shipped with a broken schema.
func loadSchema() (*ast.Schema, error) {
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "schema.graphql", Input: schemaSDL})
	if err != nil {
		return nil, errors.WrapFatal(err, "graphql", "loadSchema", "parsing embedded schema")
	}
	return schema, nil
}
