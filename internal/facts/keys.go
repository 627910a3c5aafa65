package facts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/xaenox/memory-service/internal/models"
)

const (
	similarLimit         = 5
	similarMinImportance = 0.5
	minTokenLength       = 4
)

// DeriveKey builds the storage key of a fact. The same type and normalized
// content under the same salt always give the same key; a new salt gives a
// new key, so keys are only stable within one extraction run.
func DeriveKey(memType, content string, salt time.Time) string {
	sum := sha256.Sum256([]byte(normalize(content)))
	return memType + "_" + hex.EncodeToString(sum[:])[:16] + "_" + strconv.FormatInt(salt.UnixMilli(), 36)
}

// tokenize returns the distinct lower-cased words longer than three characters.
func tokenize(content string) []string {
	words := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(words))
	var tokens []string
	for _, w := range words {
		if utf8.RuneCountInString(w) < minTokenLength {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		tokens = append(tokens, w)
	}
	return tokens
}

// FindSimilar returns up to five stored facts sharing the most words with
// content. It is a keyword pre-filter, not a semantic match; callers only
// record the result.
func (e *Extractor) FindSimilar(ctx context.Context, content string) ([]models.CollectiveMemoryEntry, error) {
	tokens := tokenize(content)
	if len(tokens) == 0 {
		return nil, nil
	}

	entries, err := e.store.SearchFacts(ctx, tokens, similarMinImportance)
	if err != nil {
		return nil, err
	}

	overlap := make(map[string]int, len(entries))
	for _, entry := range entries {
		lower := strings.ToLower(entry.Content)
		for _, tok := range tokens {
			if strings.Contains(lower, tok) {
				overlap[entry.Key]++
			}
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if overlap[a.Key] != overlap[b.Key] {
			return overlap[a.Key] > overlap[b.Key]
		}
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		return a.Key < b.Key
	})

	if len(entries) > similarLimit {
		entries = entries[:similarLimit]
	}
	return entries, nil
}
