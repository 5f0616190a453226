package config

import (
	"context"
	"testing"

	"github.com/curator-health/curator/pkg/repository"
)

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry()

	customSchema := `
#CustomType: {
	field1: string
	field2: int
}
`

	if err := sr.RegisterSchema("custom", customSchema); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	schema, ok := sr.GetSchema("custom")
	if !ok {
		t.Fatal("expected to find custom schema")
	}
	if schema.Err() != nil {
		t.Errorf("schema has errors: %v", schema.Err())
	}

	names := sr.ListSchemas()
	if len(names) != 2 || names[0] != "custom" || names[1] != "topology" {
		t.Errorf("unexpected schema list: %v", names)
	}
}

func TestSchemaRegistry_InvalidSchema(t *testing.T) {
	if err := NewSchemaRegistry().RegisterSchema("broken", `#X: {`); err == nil {
		t.Error("expected compile error")
	}
}

func TestSchemaRegistry_Definition(t *testing.T) {
	sr := NewSchemaRegistry()

	for _, def := range []string{"#Topology", "#Repository", "#Policy", "#Publish"} {
		if _, err := sr.Definition("topology", def); err != nil {
			t.Errorf("Definition(%s): %v", def, err)
		}
	}
	if _, err := sr.Definition("topology", "#Missing"); err == nil {
		t.Error("expected error for missing definition")
	}
	if _, err := sr.Definition("missing", "#Topology"); err == nil {
		t.Error("expected error for missing schema")
	}
}

func TestSchemaRegistry_ValidateTopology(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	valid := Topology{
		Repositories: []RepositoryConfig{
			{Name: "local", Kind: KindLocal, Path: "curator.db"},
			{Name: "mirror", Kind: KindProxy, Inner: "local", Rewrites: []repository.Rewrite{{From: "a", To: "b"}}},
		},
		Default: "local",
	}
	if err := sr.ValidateTopology(ctx, valid); err != nil {
		t.Errorf("expected valid topology, got: %v", err)
	}

	invalid := Topology{
		Repositories: []RepositoryConfig{{Name: "bad name!", Kind: KindLocal, Path: "x.db"}},
		Default:      "bad name!",
	}
	if err := sr.ValidateTopology(ctx, invalid); err == nil {
		t.Error("expected validation error for invalid name")
	}
}
