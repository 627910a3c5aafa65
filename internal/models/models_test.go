package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummaryLastMessageID(t *testing.T) {
	tests := []struct {
		name string
		meta map[string]any
		want int64
		ok   bool
	}{
		{name: "int64", meta: map[string]any{MetaLastMessageID: int64(42)}, want: 42, ok: true},
		{name: "decoded json", meta: map[string]any{MetaLastMessageID: float64(42)}, want: 42, ok: true},
		{name: "json number", meta: map[string]any{MetaLastMessageID: json.Number("42")}, want: 42, ok: true},
		{name: "missing", meta: map[string]any{MetaKeptRecent: 10}},
		{name: "nil metadata"},
		{name: "wrong type", meta: map[string]any{MetaLastMessageID: "42"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Summary{Metadata: tt.meta}
			got, ok := s.LastMessageID()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
