package adapters

import (
	"context"
	"errors"
	"testing"

	"github.com/marigold-ai/concierge"
)

type dummyAction struct {
	name string
	fail bool
}

func (d *dummyAction) Execute(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if d.fail {
		return nil, errors.New("fail")
	}
	return map[string]interface{}{"ok": true}, nil
}

func TestGoActionAdapter_Execute_SuccessAndFailure(t *testing.T) {
	adapter := NewGoActionAdapter("dummy", (&dummyAction{name: "dummy"}).Execute)
	res, err := adapter.Execute(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if res["ok"] != true {
		t.Errorf("expected ok=true, got %v", res["ok"])
	}

	adapterFail := NewGoActionAdapter("dummy", (&dummyAction{name: "dummy", fail: true}).Execute)
	_, err = adapterFail.Execute(context.Background(), map[string]interface{}{})
	if err == nil {
		t.Error("expected error for failing action, got nil")
	}
}

func TestGoActionAdapter_Validate(t *testing.T) {
	adapter := NewGoActionAdapter("dummy", (&dummyAction{name: "dummy"}).Execute,
		WithValidator(func(input map[string]interface{}) error {
			if input["bad"] == true {
				return errors.New("bad input")
			}
			return nil
		}))

	if err := adapter.Validate(map[string]interface{}{"bad": true}); err == nil {
		t.Error("expected error for bad input, got nil")
	}
	if err := adapter.Validate(map[string]interface{}{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	// The default validator rejects nil input.
	plain := NewGoActionAdapter("dummy", (&dummyAction{name: "dummy"}).Execute)
	if err := plain.Validate(nil); err == nil {
		t.Error("expected error for nil input, got nil")
	}
}

func TestGoActionAdapter_Schema(t *testing.T) {
	adapter := NewGoActionAdapter("seo_analysis", (&dummyAction{name: "seo_analysis"}).Execute,
		WithDescription("Analyzes local search visibility"),
		WithCategory("marketing"),
		WithParameters(concierge.ParameterSchema{
			"businessName": {Type: "string", Required: true},
			"industry":     {Type: "string", Required: true},
		}),
		WithReturns("analysis text"),
		WithExamples([]string{"analyze the seo for my bakery"}),
	)

	schema := adapter.Schema()
	if schema.Name != "seo_analysis" {
		t.Errorf("expected name 'seo_analysis', got %q", schema.Name)
	}
	if schema.Description == "" || schema.Category != "marketing" {
		t.Errorf("schema metadata not applied: %+v", schema)
	}
	required := schema.RequiredParameters()
	if len(required) != 2 || required[0] != "businessName" || required[1] != "industry" {
		t.Errorf("unexpected required parameters: %v", required)
	}
}
