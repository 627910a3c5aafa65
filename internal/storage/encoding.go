package storage

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/xaenox/memory-service/internal/models"
)

const (
	metaConfidence = "confidence"

	defaultFactLimit = 100
)

func encodeMetadata(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func decodeMetadata(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

func encodeList(items []string) ([]byte, error) {
	if items == nil {
		items = []string{}
	}
	return json.Marshal(items)
}

func decodeList(b []byte) ([]string, error) {
	if len(b) == 0 {
		return []string{}, nil
	}
	var items []string
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// factMetadata folds the confidence score into the persisted metadata blob.
func factMetadata(e *models.CollectiveMemoryEntry) map[string]any {
	m := make(map[string]any, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		m[k] = v
	}
	m[metaConfidence] = e.Confidence
	return m
}

// splitFactMetadata is the inverse of factMetadata.
func splitFactMetadata(e *models.CollectiveMemoryEntry, m map[string]any) {
	if c, ok := m[metaConfidence].(float64); ok {
		e.Confidence = c
	}
	delete(m, metaConfidence)
	if len(m) == 0 {
		m = nil
	}
	e.Metadata = m
}

func containsAnyFold(content string, keywords []string) bool {
	lower := strings.ToLower(content)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func sortFacts(facts []models.CollectiveMemoryEntry) {
	sort.SliceStable(facts, func(i, j int) bool {
		if facts[i].Importance != facts[j].Importance {
			return facts[i].Importance > facts[j].Importance
		}
		return facts[i].Key < facts[j].Key
	})
}

func factLimit(limit int) int {
	if limit <= 0 {
		return defaultFactLimit
	}
	return limit
}
