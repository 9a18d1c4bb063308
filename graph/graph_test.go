package graph_test

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/xraph/atelier"
	"github.com/xraph/atelier/graph"
)

func TestClone_IsDeep(t *testing.T) {
	g := graph.JobGraph{
		"1": {Kind: "Sampler", Inputs: map[string]any{
			"seed":  float64(42),
			"model": []any{"2", float64(0)},
			"extra": map[string]any{"cfg": float64(7)},
		}},
	}

	cp := g.Clone()
	cp["1"].Inputs["seed"] = float64(99)
	cp["1"].Inputs["extra"].(map[string]any)["cfg"] = float64(1)

	if g["1"].Inputs["seed"] != float64(42) {
		t.Errorf("original seed mutated to %v", g["1"].Inputs["seed"])
	}
	if g["1"].Inputs["extra"].(map[string]any)["cfg"] != float64(7) {
		t.Errorf("original nested cfg mutated to %v", g["1"].Inputs["extra"].(map[string]any)["cfg"])
	}
}

func TestClone_Equal(t *testing.T) {
	g := graph.JobGraph{
		"a": {Kind: "Load", Inputs: map[string]any{"path": "in.png"}},
		"b": {Kind: "Save", Inputs: map[string]any{"src": []any{"a", float64(0)}}},
	}
	if cp := g.Clone(); !reflect.DeepEqual(g, cp) {
		t.Errorf("Clone() = %#v, want %#v", cp, g)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		g       graph.JobGraph
		wantErr bool
	}{
		{"valid", graph.JobGraph{"1": {Kind: "Load"}}, false},
		{"empty graph", graph.JobGraph{}, false},
		{"missing kind", graph.JobGraph{"1": {Inputs: map[string]any{}}}, true},
		{"nil node", graph.JobGraph{"1": nil}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.g.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && atelier.KindOf(err) != atelier.KindValidation {
				t.Errorf("Validate() kind = %v, want validation", atelier.KindOf(err))
			}
		})
	}
}

func TestNodeRef_JSONRoundTrip(t *testing.T) {
	ref := graph.NodeRef{Node: "4", Slot: 1}
	data, err := json.Marshal(ref)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `["4",1]` {
		t.Errorf("Marshal = %s, want [\"4\",1]", data)
	}

	var back graph.NodeRef
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back != ref {
		t.Errorf("round trip = %+v, want %+v", back, ref)
	}
}

func TestIsRef(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want bool
	}{
		{"typed ref", graph.NodeRef{Node: "1", Slot: 0}, true},
		{"decoded wire form", []any{"4", float64(0)}, true},
		{"wrong arity", []any{"4"}, false},
		{"wrong id type", []any{float64(4), float64(0)}, false},
		{"wrong slot type", []any{"4", "0"}, false},
		{"plain string", "hello", false},
		{"number", float64(5), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := graph.IsRef(tt.v); got != tt.want {
				t.Errorf("IsRef(%v) = %v, want %v", tt.v, got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	doc := `{"3":{"class_type":"KSampler","inputs":{"seed":42,"model":["4",0]}}}`
	g, err := graph.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if g["3"].Kind != "KSampler" {
		t.Errorf("kind = %q, want KSampler", g["3"].Kind)
	}
	if !graph.IsRef(g["3"].Inputs["model"]) {
		t.Errorf("model input should parse as a connection")
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := graph.Parse([]byte(`{not json`))
	if err == nil {
		t.Fatal("Parse of malformed document should fail")
	}
	var ae *atelier.Error
	if !errors.As(err, &ae) || ae.Kind != atelier.KindValidation {
		t.Errorf("Parse error = %v, want validation kind", err)
	}
}
