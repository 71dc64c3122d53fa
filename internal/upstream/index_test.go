package upstream

import (
	"testing"

	"github.com/xela07ax/aibot-search-gateway/internal/domain"
)

func TestDedupeHits(t *testing.T) {
	hits := []domain.SearchHit{
		{Channel: "CA", TS: "1.0", Distance: 0.1},
		{Channel: "CB", TS: "2.0", Distance: 0.2},
		{Channel: "CA", TS: "1.0", Distance: 0.3}, // дубликат
		{Channel: "CA", TS: "3.0", Distance: 0.4},
	}

	got := dedupeHits(hits)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Порядок выдачи сохранен, выживает первое вхождение
	if got[0].Channel != "CA" || got[0].TS != "1.0" || got[0].Distance != 0.1 {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[2].TS != "3.0" {
		t.Errorf("got[2] = %+v", got[2])
	}
}

func TestDedupeHits_Empty(t *testing.T) {
	if got := dedupeHits(nil); len(got) != 0 {
		t.Errorf("dedupeHits(nil) = %v, want empty", got)
	}
}
