package memory

import "sort"

// Ranker orders memories by how well they fit the current message.
type Ranker struct{}

// NewRanker creates a new Ranker.
func NewRanker() *Ranker { return &Ranker{} }

// RankedMemory pairs a Memory with a retrieval score.
type RankedMemory struct {
	Memory
	FinalScore float64
}

// RankMemories scores and sorts memories by similarity × importance, highest
// first. A memory with no similarity entry scores as if unrelated but still
// sorts by importance among equals.
func (r *Ranker) RankMemories(memories []Memory, similarityByID map[string]float64) []RankedMemory {
	ranked := make([]RankedMemory, 0, len(memories))
	for _, m := range memories {
		sim := similarityByID[m.ID]
		// Importance is 0-10; use it as a 0-1 multiplier.
		importance := float64(m.Importance) / 10
		if importance == 0 {
			importance = 0.05
		}
		ranked = append(ranked, RankedMemory{
			Memory:     m,
			FinalScore: sim * importance,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].FinalScore != ranked[j].FinalScore {
			return ranked[i].FinalScore > ranked[j].FinalScore
		}
		return ranked[i].Importance > ranked[j].Importance
	})
	return ranked
}

// Order returns memories in ranked order. With no similarities it falls back
// to importance order.
func (r *Ranker) Order(memories []Memory, similarityByID map[string]float64) []Memory {
	if len(similarityByID) == 0 {
		return ByImportance(memories)
	}
	ranked := r.RankMemories(memories, similarityByID)
	out := make([]Memory, len(ranked))
	for i, rm := range ranked {
		out[i] = rm.Memory
	}
	return out
}
