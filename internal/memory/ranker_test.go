package memory

import (
	"math"
	"testing"
)

func TestRankMemories_SortsBySimilarityTimesImportance(t *testing.T) {
	memories := []Memory{
		{ID: "m1", Topic: "your trip", Importance: 8},
		{ID: "m2", Topic: "the new baby", Importance: 10},
		{ID: "m3", Topic: "your hobbies", Importance: 5},
	}
	simMap := map[string]float64{"m1": 0.9, "m2": 0.5, "m3": 0.8}

	ranker := NewRanker()
	ranked := ranker.RankMemories(memories, simMap)

	// m1: 0.9*0.8=0.72, m2: 0.5*1.0=0.5, m3: 0.8*0.5=0.4
	if ranked[0].ID != "m1" {
		t.Errorf("expected m1 first, got %q (score=%f)", ranked[0].ID, ranked[0].FinalScore)
	}
	if ranked[2].ID != "m3" {
		t.Errorf("expected m3 last, got %q", ranked[2].ID)
	}
}

func TestRankMemories_ZeroImportanceStillRanks(t *testing.T) {
	memories := []Memory{{ID: "m1", Importance: 0}}
	ranked := NewRanker().RankMemories(memories, map[string]float64{"m1": 0.8})

	if math.Abs(ranked[0].FinalScore-0.04) > 1e-9 {
		t.Errorf("expected score 0.04, got %f", ranked[0].FinalScore)
	}
}

func TestRankMemories_UnmatchedFallBackToImportance(t *testing.T) {
	memories := []Memory{
		{ID: "low", Importance: 6},
		{ID: "high", Importance: 9},
		{ID: "hit", Importance: 6},
	}
	ranked := NewRanker().RankMemories(memories, map[string]float64{"hit": 0.7})

	got := []string{ranked[0].ID, ranked[1].ID, ranked[2].ID}
	want := []string{"hit", "high", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestOrder_NoSimilaritiesUsesImportance(t *testing.T) {
	memories := []Memory{
		{ID: "a", Importance: 6},
		{ID: "b", Importance: 10},
		{ID: "c", Importance: 6},
	}
	out := NewRanker().Order(memories, nil)
	if out[0].ID != "b" || out[1].ID != "a" || out[2].ID != "c" {
		t.Errorf("unexpected order: %v", []string{out[0].ID, out[1].ID, out[2].ID})
	}
}

func TestOrder_Empty(t *testing.T) {
	if out := NewRanker().Order(nil, nil); len(out) != 0 {
		t.Errorf("expected empty result, got %d", len(out))
	}
}
