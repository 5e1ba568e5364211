// Package mlfallback implements MLFallback: a character n-gram,
// cosine-distance nearest-neighbor similarity lookup used by
// NameCanonicalizer when the virtual-provide rewrite table does not match a
// dependency token.
//
// Persistence follows distri's pb package (pb.ReadBuildFile,
// pb.builder/generate.go): the trained artifact and the prediction cache
// are both textproto, read and written through github.com/golang/protobuf's
// proto.UnmarshalText/MarshalTextString, atomically via
// github.com/google/renameio. github.com/lithammer/fuzzysearch/fuzzy backs
// a cheap pre-filter for large training sets (training names that
// fuzzy-match the query are moved to the front before the set is cut down)
// ahead of the more expensive cosine scoring.
package mlfallback

import (
	"math"
	"sort"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"go.rpmhub.dev/build/canon/mlfallback/pb"
)

// MinN and MaxN are the inclusive character n-gram span used for
// vectorization, per spec.md's MLFallback definition.
const (
	MinN = 2
	MaxN = 5
)

// prefilterWidth bounds how many fuzzy-ranked candidates the cosine scorer
// considers, so Predict stays roughly linear in the training-set size
// rather than quadratic in n-gram dimensionality.
const prefilterWidth = 64

// Prediction is one resolved token-to-binary-name guess, the source/srpm
// name training paired with that binary name, and its cosine distance from
// the nearest training vector (0 = identical, 1 = no shared n-grams).
type Prediction struct {
	BinaryName string
	SourceName string
	Distance   float64
}

// TrainingExample is one observed (provideToken -> binaryName, sourceName)
// pair used to build a Model, matching the {provide, rpm_name, srpm_name}
// training-data format.
type TrainingExample struct {
	BinaryName string
	SourceName string
}

// vector is a parsed, in-memory n-gram count vector, the decoded form of a
// pb.NgramVector.
type vector struct {
	binaryName string
	sourceName string
	counts     map[string]int32
	norm       float64
}

// Model is a loaded (or trained-in-memory) MLFallback instance. The zero
// value is not usable; construct one with Load or Train.
type Model struct {
	vectors []vector

	cachePath string
	cacheMu   sync.Mutex
	cache     map[string]Prediction
	cacheDirty bool
}

// Load reads a trained model from modelPath and, if cachePath is non-empty,
// an existing prediction cache from cachePath. A missing or unreadable
// model file yields an unavailable Model (Available returns false) rather
// than an error, matching NameCanonicalizer's "degrade to rules-only"
// contract.
func Load(modelPath, cachePath string) *Model {
	m := &Model{cachePath: cachePath, cache: make(map[string]Prediction)}

	trained, err := readTrainedModel(modelPath)
	if err == nil {
		m.vectors = decodeVectors(trained)
	}

	if cachePath != "" {
		c := readPredictionCache(cachePath)
		for _, e := range c.GetEntries() {
			m.cache[e.GetToken()] = Prediction{BinaryName: e.GetBinaryName(), SourceName: e.GetSourceName(), Distance: e.GetDistance()}
		}
	}
	return m
}

// Train builds a new Model in memory from known (binaryName, sourceName)
// pairs (e.g. every package currently resolvable against the hub, paired
// with its source RPM name), so that Predict can find the training example
// nearest to an unresolved token and report both halves of the match.
func Train(examples []TrainingExample) *Model {
	vectors := make([]vector, 0, len(examples))
	for _, ex := range examples {
		vectors = append(vectors, newVector(ex.BinaryName, ex.SourceName))
	}
	return &Model{vectors: vectors, cache: make(map[string]Prediction)}
}

// Available reports whether the model has any trained vectors to predict
// against.
func (m *Model) Available() bool {
	return m != nil && len(m.vectors) > 0
}

// Save persists the model's trained vectors to modelPath as textproto.
func (m *Model) Save(modelPath string) error {
	pbm := &pb.TrainedModel{MinN: MinN, MaxN: MaxN}
	for _, v := range m.vectors {
		counts := make(map[string]int32, len(v.counts))
		for k, c := range v.counts {
			counts[k] = c
		}
		pbm.Vectors = append(pbm.Vectors, &pb.NgramVector{BinaryName: v.binaryName, SourceName: v.sourceName, Counts: counts})
	}
	return writeTrainedModel(modelPath, pbm)
}

// FlushCache persists accumulated predictions to the cache path given to
// Load, if any. It is a no-op if nothing new was predicted since Load.
func (m *Model) FlushCache() error {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	if m.cachePath == "" || !m.cacheDirty {
		return nil
	}
	c := &pb.PredictionCache{}
	for tok, p := range m.cache {
		c.Entries = append(c.Entries, &pb.Prediction{Token: tok, BinaryName: p.BinaryName, SourceName: p.SourceName, Distance: p.Distance})
	}
	if err := writePredictionCache(m.cachePath, c); err != nil {
		return err
	}
	m.cacheDirty = false
	return nil
}

// Predict returns the nearest training name to token by cosine distance
// over character n-gram vectors, accepting it only if the distance is at
// most threshold. ok is false if the model is unavailable or nothing meets
// the threshold.
func (m *Model) Predict(token string, threshold float64) (Prediction, bool) {
	if !m.Available() {
		return Prediction{}, false
	}

	m.cacheMu.Lock()
	if p, ok := m.cache[token]; ok {
		m.cacheMu.Unlock()
		if p.Distance <= threshold {
			return p, true
		}
		return Prediction{}, false
	}
	m.cacheMu.Unlock()

	candidates := m.vectors
	if len(candidates) > prefilterWidth {
		candidates = prefilter(token, candidates)
	}

	query := newVector(token, "")
	best := Prediction{Distance: math.MaxFloat64}
	for _, v := range candidates {
		d := cosineDistance(query, v)
		if d < best.Distance {
			best = Prediction{BinaryName: v.binaryName, SourceName: v.sourceName, Distance: d}
		}
	}

	m.cacheMu.Lock()
	m.cache[token] = best
	m.cacheDirty = true
	m.cacheMu.Unlock()

	if best.Distance <= threshold {
		return best, true
	}
	return Prediction{}, false
}

// prefilter keeps at most prefilterWidth training vectors: first those
// whose binary name and token fuzzy-match (either one's characters appear
// in order within the other), then the rest, each group in training order.
// Matching is yes/no; no closeness score is computed.
func prefilter(token string, vectors []vector) []vector {
	type scored struct {
		v   vector
		hit bool
	}
	scores := make([]scored, len(vectors))
	for i, v := range vectors {
		scores[i] = scored{v: v, hit: fuzzy.Match(token, v.binaryName) || fuzzy.Match(v.binaryName, token)}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].hit && !scores[j].hit
	})
	n := prefilterWidth
	if n > len(scores) {
		n = len(scores)
	}
	out := make([]vector, n)
	for i := 0; i < n; i++ {
		out[i] = scores[i].v
	}
	return out
}

func newVector(name, sourceName string) vector {
	counts := make(map[string]int32)
	runes := []rune(name)
	for n := MinN; n <= MaxN; n++ {
		if n > len(runes) {
			continue
		}
		for i := 0; i+n <= len(runes); i++ {
			counts[string(runes[i:i+n])]++
		}
	}
	var sumSq float64
	for _, c := range counts {
		sumSq += float64(c) * float64(c)
	}
	return vector{binaryName: name, sourceName: sourceName, counts: counts, norm: math.Sqrt(sumSq)}
}

func decodeVectors(m *pb.TrainedModel) []vector {
	out := make([]vector, 0, len(m.GetVectors()))
	for _, pv := range m.GetVectors() {
		counts := make(map[string]int32, len(pv.GetCounts()))
		var sumSq float64
		for k, c := range pv.GetCounts() {
			counts[k] = c
			sumSq += float64(c) * float64(c)
		}
		out = append(out, vector{binaryName: pv.GetBinaryName(), sourceName: pv.GetSourceName(), counts: counts, norm: math.Sqrt(sumSq)})
	}
	return out
}

// cosineDistance returns 1 - cosine_similarity(a, b), so 0 means identical
// and larger values mean less similar. Disjoint or all-zero vectors yield
// the maximal distance of 1.
func cosineDistance(a, b vector) float64 {
	if a.norm == 0 || b.norm == 0 {
		return 1
	}
	small, large := a.counts, b.counts
	if len(b.counts) < len(a.counts) {
		small, large = b.counts, a.counts
	}
	var dot float64
	for k, c := range small {
		if oc, ok := large[k]; ok {
			dot += float64(c) * float64(oc)
		}
	}
	return 1 - dot/(a.norm*b.norm)
}
