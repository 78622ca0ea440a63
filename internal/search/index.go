package search

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

// Document is the index-only projection of an email. It is not durably
// identified beyond the index itself and is rebuilt whenever the index
// is restored from its serialized blob.
type Document struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	From       string    `json:"from"`
	To         []string  `json:"to"`
	SentAt     string    `json:"sentAt"`
	ThreadID   string    `json:"threadId"`
	Embeddings []float32 `json:"embeddings,omitempty"`
}

// Hit is one scored search result.
type Hit struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// Index is an in-memory hybrid lexical+vector index over Documents.
// Insertion order is preserved so equal scores rank in stable input
// order. The zero value is not usable; use NewIndex or Restore.
type Index struct {
	docs []Document
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{docs: []Document{}}
}

type persistedIndex struct {
	Docs []Document `json:"docs"`
}

// Restore deserializes an index from the blob produced by Persist.
func Restore(blob []byte) (*Index, error) {
	var p persistedIndex
	if err := json.Unmarshal(blob, &p); err != nil {
		return nil, fmt.Errorf("restoring index: %w", err)
	}
	if p.Docs == nil {
		p.Docs = []Document{}
	}
	return &Index{docs: p.Docs}, nil
}

// Persist serializes the whole index into one opaque blob.
func (ix *Index) Persist() ([]byte, error) {
	blob, err := json.Marshal(persistedIndex{Docs: ix.docs})
	if err != nil {
		return nil, fmt.Errorf("persisting index: %w", err)
	}
	return blob, nil
}

// Len reports the number of indexed documents.
func (ix *Index) Len() int { return len(ix.docs) }

// Insert adds one document. A document with an id already present is
// replaced in place, keeping its original rank position.
func (ix *Index) Insert(doc Document) {
	for i := range ix.docs {
		if ix.docs[i].ID == doc.ID {
			ix.docs[i] = doc
			return
		}
	}
	ix.docs = append(ix.docs, doc)
}

// Remove deletes a document by its index-internal id.
func (ix *Index) Remove(id string) {
	for i := range ix.docs {
		if ix.docs[i].ID == id {
			ix.docs = append(ix.docs[:i], ix.docs[i+1:]...)
			return
		}
	}
}

// Search runs a lexical query with the given fuzzy tolerance (maximum
// edit distance per term). When properties are given only those fields
// are matched; the threadId property is compared as an exact value.
func (ix *Index) Search(term string, tolerance int, properties ...string) []Hit {
	queryTokens := tokenize(term)
	if len(queryTokens) == 0 && term == "" {
		return nil
	}

	var hits []Hit
	for _, doc := range ix.docs {
		score := lexicalScore(doc, term, queryTokens, tolerance, properties)
		if score > 0 {
			hits = append(hits, Hit{Document: doc, Score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits
}

// Hybrid blends lexical term matching with vector cosine similarity.
// Vector contribution is admitted only at or above the similarity
// floor; documents lacking a comparable embedding score lexically only.
// Results are ordered by blended score descending, capped at limit.
func (ix *Index) Hybrid(term string, vector []float32, similarity float64, limit int) []Hit {
	queryTokens := tokenize(term)

	lexical := make([]float64, len(ix.docs))
	maxLexical := 0.0
	for i, doc := range ix.docs {
		lexical[i] = lexicalScore(doc, term, queryTokens, 1, nil)
		if lexical[i] > maxLexical {
			maxLexical = lexical[i]
		}
	}

	var hits []Hit
	for i, doc := range ix.docs {
		lex := 0.0
		if maxLexical > 0 {
			lex = lexical[i] / maxLexical
		}

		vec := 0.0
		if sim, ok := cosine(vector, doc.Embeddings); ok && sim >= similarity {
			vec = sim
		}

		if lexical[i] <= 0 && vec <= 0 {
			continue
		}
		hits = append(hits, Hit{Document: doc, Score: 0.5*lex + 0.5*vec})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func lexicalScore(doc Document, term string, queryTokens []string, tolerance int, properties []string) float64 {
	fields := map[string][]string{
		"subject": tokenize(doc.Subject),
		"body":    tokenize(doc.Body),
		"from":    tokenize(doc.From),
		"to":      tokenize(strings.Join(doc.To, " ")),
		// threadId is matched as a whole value, not tokenized.
		"threadId": {strings.ToLower(doc.ThreadID)},
	}

	selected := properties
	if len(selected) == 0 {
		selected = []string{"subject", "body", "from", "to"}
	}

	score := 0.0
	for _, name := range selected {
		fieldTokens, ok := fields[name]
		if !ok {
			continue
		}
		probes := queryTokens
		if name == "threadId" {
			probes = []string{strings.ToLower(term)}
		}
		for _, q := range probes {
			best := -1
			for _, t := range fieldTokens {
				d := boundedEditDistance(q, t, tolerance)
				if d >= 0 && (best < 0 || d < best) {
					best = d
				}
			}
			if best >= 0 {
				score += 1.0 / float64(1+best)
			}
		}
	}
	return score
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// boundedEditDistance returns the Levenshtein distance between a and b
// when it does not exceed maxDist, and -1 otherwise.
func boundedEditDistance(a, b string, maxDist int) int {
	if a == b {
		return 0
	}
	la, lb := len(a), len(b)
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	if diff > maxDist {
		return -1
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			if curr[j] < rowMin {
				rowMin = curr[j]
			}
		}
		if rowMin > maxDist {
			return -1
		}
		prev, curr = curr, prev
	}

	if prev[lb] > maxDist {
		return -1
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// cosine reports the cosine similarity of two vectors, or ok=false when
// either is empty or their lengths differ.
func cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
