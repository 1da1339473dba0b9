package tools

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
)

type fakeTool struct {
	name string
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake tool " + f.name }
func (f *fakeTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (f *fakeTool) Execute(ctx context.Context, input json.RawMessage, meta Meta) (Result, error) {
	return Result{ToolName: f.name, Payload: map[string]string{"ok": "yes"}}, nil
}

func TestRegistryGet(t *testing.T) {
	reg := NewRegistry(&fakeTool{name: "beta"}, &fakeTool{name: "alpha"})

	tool, ok := reg.Get("alpha")
	if !ok || tool.Name() != "alpha" {
		t.Fatalf("expected alpha, got %v ok=%v", tool, ok)
	}
	if _, ok := reg.Get("missing"); ok {
		t.Fatal("expected missing tool lookup to fail")
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	reg := NewRegistry(&fakeTool{name: "zeta"}, &fakeTool{name: "alpha"}, &fakeTool{name: "mid"})
	names := reg.Names()
	if !sort.StringsAreSorted(names) {
		t.Fatalf("names not sorted: %v", names)
	}
	if len(names) != 3 {
		t.Fatalf("expected 3 names, got %v", names)
	}
}

func TestRegistryReplacesDuplicateName(t *testing.T) {
	first := &fakeTool{name: "dup"}
	second := &fakeTool{name: "dup"}
	reg := NewRegistry(first, second)

	if len(reg.Names()) != 1 {
		t.Fatalf("expected 1 tool, got %v", reg.Names())
	}
	tool, _ := reg.Get("dup")
	if tool != Tool(second) {
		t.Fatal("expected later registration to win")
	}
}

func TestRegistryDescriptors(t *testing.T) {
	reg := NewRegistry(&fakeTool{name: "b"}, &fakeTool{name: "a"})
	defs := reg.Descriptors()
	if len(defs) != 2 || defs[0].Name != "a" || defs[1].Name != "b" {
		t.Fatalf("unexpected descriptors: %+v", defs)
	}
	if defs[0].Description == "" || defs[0].Schema == nil {
		t.Fatalf("descriptor missing fields: %+v", defs[0])
	}
}

func TestRegistryOpenAITools(t *testing.T) {
	reg := NewRegistry(&fakeTool{name: "one"}, &fakeTool{name: "two"})
	defs := reg.OpenAITools()
	if len(defs) != 2 {
		t.Fatalf("expected 2 tool definitions, got %d", len(defs))
	}
	for _, def := range defs {
		if def.OfFunction == nil || def.OfFunction.Function.Name == "" {
			t.Fatalf("malformed tool definition: %+v", def)
		}
	}
}
