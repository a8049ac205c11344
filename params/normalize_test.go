package params

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func mustNormalize(t *testing.T, p Params) Normalized {
	t.Helper()
	n, err := Normalize(p)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	return n
}

func TestNormalizeSortsKeysRecursively(t *testing.T) {
	a := mustNormalize(t, Params{
		"limit":        12,
		"resourceKind": []string{"course"},
		"filter":       map[string]any{"z": 1, "a": 2},
	})
	b := mustNormalize(t, Params{
		"filter":       map[string]any{"a": 2, "z": 1},
		"resourceKind": []any{"course"},
		"limit":        12,
	})

	if !a.Equal(b) {
		t.Fatalf("Expected equal normalized params, got %s and %s", a, b)
	}

	want := `{"filter":{"a":2,"z":1},"limit":12,"resourceKind":["course"]}`
	if a.Canonical() != want {
		t.Fatalf("Expected %s, got %s", want, a.Canonical())
	}
}

func TestNormalizeNumberSpellings(t *testing.T) {
	a := mustNormalize(t, Params{"limit": 12})
	b := mustNormalize(t, Params{"limit": 12.0})
	c := mustNormalize(t, Params{"limit": int64(12)})
	d := mustNormalize(t, Params{"limit": json.Number("12")})

	for _, n := range []Normalized{b, c, d} {
		if !a.Equal(n) {
			t.Fatalf("Expected %s to equal %s", n, a)
		}
	}
}

func TestNormalizeOrderRelevantArrays(t *testing.T) {
	a := mustNormalize(t, Params{"sort": []string{"date", "title"}})
	b := mustNormalize(t, Params{"sort": []string{"title", "date"}})

	if a.Equal(b) {
		t.Fatal("Order-relevant arrays must not be reordered")
	}
}

func TestNormalizeOrderIrrelevantSets(t *testing.T) {
	a := mustNormalize(t, Params{"tags": SetOf("go", "cache", "ssr")})
	b := mustNormalize(t, Params{"tags": Set{"ssr", "go", "cache"}})

	if !a.Equal(b) {
		t.Fatalf("Expected sets to normalize equally, got %s and %s", a, b)
	}
	if a.Canonical() != `{"tags":["cache","go","ssr"]}` {
		t.Fatalf("Unexpected canonical set encoding: %s", a.Canonical())
	}
}

func TestNormalizeOmitVersusNull(t *testing.T) {
	unset := mustNormalize(t, Params{"limit": 12, "filter": Omit})
	missing := mustNormalize(t, Params{"limit": 12})
	null := mustNormalize(t, Params{"limit": 12, "filter": nil})

	if !unset.Equal(missing) {
		t.Fatalf("Omitted key should be dropped, got %s", unset)
	}
	if null.Equal(missing) {
		t.Fatal("Explicit null must differ from absence")
	}
	if null.Canonical() != `{"filter":null,"limit":12}` {
		t.Fatalf("Unexpected canonical encoding: %s", null.Canonical())
	}
}

func TestNormalizeRejectsNonSerializable(t *testing.T) {
	tests := []struct {
		name  string
		input Params
		path  string
	}{
		{"func", Params{"cb": func() {}}, "cb"},
		{"chan", Params{"ch": make(chan int)}, "ch"},
		{"nested func", Params{"filter": map[string]any{"fn": func() {}}}, "filter.fn"},
		{"func in list", Params{"list": []any{1, func() {}}}, "list[1]"},
		{"nan", Params{"n": math.NaN()}, "n"},
		{"struct", Params{"s": struct{ A int }{A: 1}}, "s"},
		{"complex", Params{"c": complex(1, 2)}, "c"},
		{"int keys", Params{"m": map[int]string{1: "a"}}, "m"},
		{"omit in list", Params{"l": []any{Omit}}, "l[0]"},
		{"int above 2^53", Params{"id": int64(9007199254740993)}, "id"},
		{"int below -2^53", Params{"id": int64(-9007199254740993)}, "id"},
		{"uint above 2^53", Params{"id": uint64(1<<63 + 1)}, "id"},
		{"number above 2^53", Params{"id": json.Number("9007199254740993")}, "id"},
		{"number beyond int64", Params{"id": json.Number("123456789012345678901234")}, "id"},
		{"raw JSON above 2^53", Params{"f": json.RawMessage(`{"id":9007199254740993}`)}, "f.id"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Normalize(test.input)
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !errors.Is(err, ErrInvalidParam) {
				t.Fatalf("Expected ErrInvalidParam, got %v", err)
			}
			var ipe *InvalidParamError
			if !errors.As(err, &ipe) {
				t.Fatalf("Expected *InvalidParamError, got %T", err)
			}
			if ipe.Path != test.path {
				t.Fatalf("Expected path %q, got %q", test.path, ipe.Path)
			}
		})
	}
}

func TestNormalizePointersAndRawJSON(t *testing.T) {
	limit := 12
	var nilPtr *int

	a := mustNormalize(t, Params{"limit": &limit, "cursor": nilPtr})
	b := mustNormalize(t, Params{"limit": json.RawMessage(`12`), "cursor": nil})

	if !a.Equal(b) {
		t.Fatalf("Expected equal, got %s and %s", a, b)
	}
}

func TestNormalizeNilParams(t *testing.T) {
	n := mustNormalize(t, nil)
	if n.Canonical() != "{}" {
		t.Fatalf("Expected {}, got %s", n.Canonical())
	}
	if n.IsZero() {
		t.Fatal("Normalized empty params should not be zero")
	}
}

func TestNormalizedJSONRoundTrip(t *testing.T) {
	n := mustNormalize(t, Params{
		"certification": true,
		"limit":         12,
		"resourceKind":  []string{"course"},
		"title":         "<b>&</b>",
	})

	data, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var decoded Normalized
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	if !decoded.Equal(n) {
		t.Fatalf("Round trip changed params: %s vs %s", decoded, n)
	}
}

func TestParseRejectsNonObject(t *testing.T) {
	if _, err := Parse([]byte(`[1,2]`)); err == nil {
		t.Fatal("Expected error for array input")
	}
	if _, err := Parse([]byte(`{"a":`)); err == nil {
		t.Fatal("Expected error for malformed input")
	}
}

func TestParseIgnoresFormatting(t *testing.T) {
	n, err := Parse([]byte(`{ "b" : 2.0, "a" : [ 1 ] }`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if n.Canonical() != `{"a":[1],"b":2}` {
		t.Fatalf("Unexpected canonical encoding: %s", n.Canonical())
	}
}

func TestNormalizedValueIsACopy(t *testing.T) {
	n := mustNormalize(t, Params{"limit": 12})
	v := n.Value()
	v["limit"] = 99

	if n.Value()["limit"] != float64(12) {
		t.Fatalf("Mutating Value() leaked into normalized params: %v", n.Value())
	}
}

func TestNormalizeLargeIntegers(t *testing.T) {
	a := mustNormalize(t, Params{"id": int64(9007199254740992)})
	b := mustNormalize(t, Params{"id": json.Number("9007199254740992")})
	if !a.Equal(b) {
		t.Fatalf("Expected equal, got %s and %s", a, b)
	}
	if a.Canonical() != `{"id":9007199254740992}` {
		t.Fatalf("Unexpected encoding: %s", a.Canonical())
	}

	if _, err := Normalize(Params{"id": int64(9007199254740993)}); !errors.Is(err, ErrInvalidParam) {
		t.Fatalf("Integers that would collide with a neighbour must be rejected, got %v", err)
	}
	if _, err := Normalize(Params{"ratio": json.Number("1e300")}); err != nil {
		t.Fatalf("Non-integer numbers are not range checked: %v", err)
	}
}
