package qdrant

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"
)

// sparseVector is qdrant's wire form for sparse (lexical) vectors.
type sparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

func (v sparseVector) Empty() bool { return len(v.Indices) == 0 }

const (
	bm25K          = 1.2
	filenameBoost  = 1.5
	maxSparseTerms = 256
)

// encodeSparseDocument builds a BM25-weighted sparse vector for one chunk.
// Filename tokens are boosted so "what does lesson3.pdf say" style queries
// still land on the right document.
func encodeSparseDocument(text, filename string) sparseVector {
	termFreq := make(map[uint32]float64, 64)
	accumulateTerms(termFreq, text, 1.0)
	accumulateTerms(termFreq, filename, filenameBoost)
	return weighTerms(termFreq)
}

func encodeSparseQuery(query string) sparseVector {
	termFreq := make(map[uint32]float64, 32)
	accumulateTerms(termFreq, query, 1.0)
	return weighTerms(termFreq)
}

func accumulateTerms(dst map[uint32]float64, text string, weight float64) {
	for _, token := range tokenizeAlphaNum(text) {
		dst[hashToken(token)] += weight
	}
}

// weighTerms applies BM25 term saturation: tf*(k+1)/(tf+k). Without document
// length stats this is the standard self-contained approximation.
func weighTerms(tf map[uint32]float64) sparseVector {
	if len(tf) == 0 {
		return sparseVector{}
	}
	indices := make([]uint32, 0, len(tf))
	for idx := range tf {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	if len(indices) > maxSparseTerms {
		indices = indices[:maxSparseTerms]
	}

	values := make([]float32, 0, len(indices))
	for _, idx := range indices {
		freq := tf[idx]
		weight := (freq * (bm25K + 1.0)) / (freq + bm25K)
		if math.IsNaN(weight) || math.IsInf(weight, 0) {
			weight = 0
		}
		values = append(values, float32(weight))
	}
	return sparseVector{Indices: indices, Values: values}
}

// hashToken maps a token to a sparse dimension. Index 0 is avoided because
// some qdrant versions treat it as unset.
func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum32()
	if sum == 0 {
		return 1
	}
	return sum
}

func tokenizeAlphaNum(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 24)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
