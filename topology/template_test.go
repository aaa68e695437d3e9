package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHost_RegisterTemplate(t *testing.T) {
	h := NewHost()
	h.RegisterTemplate(TemplateDefinition{
		Name:    "MotorType",
		Version: "1.0",
		Members: []TemplateMember{
			{Name: "RPM", Type: "Double"},
			{Name: "Running", Type: "Boolean"},
		},
	})
	h.RegisterTemplate(TemplateDefinition{
		Name:    "ValveType",
		Members: []TemplateMember{{Name: "Open", Type: "Boolean"}},
	})

	defs := h.Templates()
	require.Len(t, defs, 2)
	assert.Equal(t, "MotorType", defs[0].Name)
	assert.Equal(t, "ValveType", defs[1].Name)
	require.Len(t, defs[0].Members, 2)
	assert.Equal(t, "RPM", defs[0].Members[0].Name)
}

func TestHost_RegisterTemplateReplaces(t *testing.T) {
	h := NewHost()
	h.RegisterTemplate(TemplateDefinition{
		Name:    "MotorType",
		Members: []TemplateMember{{Name: "RPM", Type: "Double"}},
	})
	h.RegisterTemplate(TemplateDefinition{
		Name:    "MotorType",
		Version: "2.0",
		Members: []TemplateMember{
			{Name: "RPM", Type: "Double"},
			{Name: "Amps", Type: "Double"},
		},
	})

	defs := h.Templates()
	require.Len(t, defs, 1)
	assert.Equal(t, "2.0", defs[0].Version)
	assert.Len(t, defs[0].Members, 2)
}

func TestHost_RegisterTemplateIgnoresUnnamed(t *testing.T) {
	h := NewHost()
	h.RegisterTemplate(TemplateDefinition{Members: []TemplateMember{{Name: "x", Type: "Int32"}}})
	assert.Empty(t, h.Templates())
}

func TestHost_TemplatesReturnsCopies(t *testing.T) {
	h := NewHost()
	members := []TemplateMember{{Name: "RPM", Type: "Double"}}
	h.RegisterTemplate(TemplateDefinition{Name: "MotorType", Members: members})

	// Neither the caller's slice nor a returned slice aliases the store.
	members[0].Name = "mutated"
	defs := h.Templates()
	require.Len(t, defs, 1)
	assert.Equal(t, "RPM", defs[0].Members[0].Name)

	defs[0].Members[0].Name = "mutated"
	again := h.Templates()
	assert.Equal(t, "RPM", again[0].Members[0].Name)
}
