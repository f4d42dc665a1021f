package memory

import (
	"math"
	"testing"
)

func rr(id string, rank int) RankedRecord {
	return RankedRecord{Record: Record{ID: id}, Rank: rank}
}

func TestFuseRRFSingleList(t *testing.T) {
	hits := FuseRRF([]RankedRecord{rr("a", 1), rr("b", 2)}, nil)

	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Record.ID != "a" {
		t.Errorf("expected a first, got %s", hits[0].Record.ID)
	}
	want := 1.0 / (rrfK + 1)
	if math.Abs(hits[0].Score-want) > 1e-12 {
		t.Errorf("score = %v, want %v", hits[0].Score, want)
	}
	if hits[0].DenseRank != 1 || hits[0].SparseRank != 0 {
		t.Errorf("ranks = (%d, %d), want (1, 0)", hits[0].DenseRank, hits[0].SparseRank)
	}
}

func TestFuseRRFBothListsBoost(t *testing.T) {
	// "b" is rank 2 in both lists; "a" and "c" each lead one list. The
	// doubly-ranked record must win.
	dense := []RankedRecord{rr("a", 1), rr("b", 2)}
	sparse := []RankedRecord{rr("c", 1), rr("b", 2)}

	hits := FuseRRF(dense, sparse)
	if hits[0].Record.ID != "b" {
		t.Fatalf("expected b first, got %s", hits[0].Record.ID)
	}
	want := 2.0 / (rrfK + 2)
	if math.Abs(hits[0].Score-want) > 1e-12 {
		t.Errorf("score = %v, want %v", hits[0].Score, want)
	}
	if hits[0].DenseRank != 2 || hits[0].SparseRank != 2 {
		t.Errorf("ranks = (%d, %d), want (2, 2)", hits[0].DenseRank, hits[0].SparseRank)
	}
}

func TestFuseRRFCommutative(t *testing.T) {
	dense := []RankedRecord{rr("a", 1), rr("b", 2), rr("c", 3)}
	sparse := []RankedRecord{rr("b", 1), rr("d", 2)}

	fwd := FuseRRF(dense, sparse)
	rev := FuseRRF(sparse, dense)

	if len(fwd) != len(rev) {
		t.Fatalf("length mismatch: %d vs %d", len(fwd), len(rev))
	}
	for i := range fwd {
		if fwd[i].Record.ID != rev[i].Record.ID {
			t.Errorf("position %d: %s vs %s", i, fwd[i].Record.ID, rev[i].Record.ID)
		}
		if math.Abs(fwd[i].Score-rev[i].Score) > 1e-12 {
			t.Errorf("position %d score: %v vs %v", i, fwd[i].Score, rev[i].Score)
		}
	}
}

func TestFuseRRFEmpty(t *testing.T) {
	if hits := FuseRRF(nil, nil); len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}
