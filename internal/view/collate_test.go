package view

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want int
	}{
		{"null equals null", nil, nil, 0},
		{"null before false", nil, false, -1},
		{"false before true", false, true, -1},
		{"bool before number", true, 0.0, -1},
		{"numbers numerically", 2.0, 10.0, -1},
		{"int and float agree", 3, 3.0, 0},
		{"number before string", 99.0, "a", -1},
		{"strings lexically", "b", "a", 1},
		{"string before array", "z", []any{}, -1},
		{"array prefix first", []any{"a"}, []any{"a", 1.0}, -1},
		{"array elementwise", []any{"a", 2.0}, []any{"a", 10.0}, -1},
		{"array before object", []any{"a"}, map[string]any{}, -1},
		{"object sentinel after any date", []any{"m", 1e15}, []any{"m", map[string]any{}}, -1},
		{"objects by key", map[string]any{"a": 1.0}, map[string]any{"b": 1.0}, -1},
		{"objects by value", map[string]any{"a": 2.0}, map[string]any{"a": 1.0}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
			assert.Equal(t, -tt.want, Compare(tt.b, tt.a), "antisymmetric")
		})
	}
}
