package dynamo

import (
	"testing"

	"github.com/ndlib/rstore/kvstore"
)

func TestAttributesRoundTripThroughAttributeValues(t *testing.T) {
	attrs := kvstore.Attributes{
		"id":           "abc",
		"vid":          int64(3),
		"active":       true,
		"tags":         []string{"a", "b"},
		"nested":       map[string]interface{}{"x": int64(1)},
		"nothing":      nil,
	}

	av, err := attributesToAV(attrs)
	if err != nil {
		t.Fatalf("attributesToAV: %v", err)
	}
	got, err := avToAttributes(av)
	if err != nil {
		t.Fatalf("avToAttributes: %v", err)
	}

	if got["id"] != "abc" || got["vid"] != int64(3) || got["active"] != true {
		t.Errorf("round trip mismatch: %+v", got)
	}
	tags, ok := got["tags"].([]interface{})
	if !ok || len(tags) != 2 || tags[0] != "a" {
		t.Errorf("tags round trip = %v", got["tags"])
	}
}
