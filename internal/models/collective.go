package models

import "time"

// Well-known collective memory types.
const (
	MemoryTypeClientPreference = "client_preference"
	MemoryTypeVisaRule         = "visa_rule"
	MemoryTypeLegalRequirement = "legal_requirement"
	MemoryTypeBusinessProcess  = "business_process"
	MemoryTypeDecision         = "decision"
	MemoryTypeGeneral          = "general"
)

// CollectiveMemoryEntry is a team-wide fact promoted out of conversations.
// Key is unique; storing the same key again bumps AccessCount.
type CollectiveMemoryEntry struct {
	Key          string         `json:"memory_key"`
	Type         string         `json:"memory_type"`
	Content      string         `json:"content"`
	Importance   float64        `json:"importance_score"`
	Confidence   float64        `json:"confidence"`
	Tags         []string       `json:"tags"`
	CreatedBy    string         `json:"created_by"`
	AccessCount  int            `json:"access_count"`
	LastAccessed time.Time      `json:"last_accessed"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// FactFilter narrows administrative fact listings.
type FactFilter struct {
	Type          string
	MinImportance float64
	Limit         int
}

// KnownMemoryType reports whether t is one of the well-known memory types.
func KnownMemoryType(t string) bool {
	switch t {
	case MemoryTypeClientPreference, MemoryTypeVisaRule, MemoryTypeLegalRequirement,
		MemoryTypeBusinessProcess, MemoryTypeDecision, MemoryTypeGeneral:
		return true
	}
	return false
}
