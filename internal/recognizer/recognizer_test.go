package recognizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alexgrimes/featmem/config"
	"github.com/alexgrimes/featmem/pattern"
)

func newTestRecognizer(t *testing.T, mutate func(*config.Config)) *Recognizer {
	t.Helper()

	cfg := config.Default()
	cfg.Recognizer.MaxPatterns = 100
	cfg.Recognizer.Threshold = 0.8
	if mutate != nil {
		mutate(cfg)
	}
	cfg.Normalize()

	ctx, cancel := context.WithCancel(context.Background())
	r, err := New(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		cancel()
		_ = r.Close()
	})
	return r
}

func testPattern(id string, freq int, features map[string]pattern.Value) *pattern.Pattern {
	return &pattern.Pattern{
		ID:         id,
		Features:   features,
		Confidence: 0.9,
		Timestamp:  time.Now(),
		Metadata: pattern.Metadata{
			Source:      "test",
			Category:    "audio",
			Frequency:   freq,
			LastUpdated: time.Now(),
		},
	}
}

func TestRecognizeRejectsInvalidFeatures(t *testing.T) {
	r := newTestRecognizer(t, nil)

	cases := map[string]map[string]pattern.Value{
		"empty map":     {},
		"nil map":       nil,
		"invalid value": {"type": {}},
		"empty key":     {"": pattern.String("x")},
	}
	for name, features := range cases {
		if _, err := r.Recognize(context.Background(), features); !errors.Is(err, ErrInvalidFeatures) {
			t.Errorf("%s: error = %v, want ErrInvalidFeatures", name, err)
		}
	}
}

func TestRecognizeEmptyPatternSet(t *testing.T) {
	r := newTestRecognizer(t, nil)

	res, err := r.Recognize(context.Background(), map[string]pattern.Value{
		"type": pattern.String("x"),
	})
	if err != nil {
		t.Fatalf("empty pattern set must be a success, got %v", err)
	}
	if len(res.Matches) != 0 || res.Confidence != 0 {
		t.Fatalf("matches = %v, confidence = %v; want none, 0", res.Matches, res.Confidence)
	}
}

func TestRecognizeExactMatch(t *testing.T) {
	r := newTestRecognizer(t, nil)

	features := map[string]pattern.Value{
		"type": pattern.String("drum"),
		"name": pattern.String("kick"),
	}
	if err := r.AddPattern(testPattern("p1", 0, features)); err != nil {
		t.Fatal(err)
	}

	res, err := r.Recognize(context.Background(), features)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(res.Matches))
	}
	if res.Matches[0].Pattern.ID != "p1" {
		t.Fatalf("matched %s, want p1", res.Matches[0].Pattern.ID)
	}
	if res.Confidence != 1 {
		t.Fatalf("confidence = %v, want 1 for identical features", res.Confidence)
	}
}

func TestRecognizeReturnsAtMostFive(t *testing.T) {
	r := newTestRecognizer(t, func(cfg *config.Config) {
		cfg.Recognizer.Threshold = 0.1
	})

	shared := pattern.String("drum")
	ids := []string{"a", "b", "c", "d", "e", "f", "g"}
	for _, id := range ids {
		feats := map[string]pattern.Value{
			"type": shared,
			"name": pattern.String("sample-" + id),
		}
		if err := r.AddPattern(testPattern(id, 0, feats)); err != nil {
			t.Fatal(err)
		}
	}

	res, err := r.Recognize(context.Background(), map[string]pattern.Value{"type": shared})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) > maxMatches {
		t.Fatalf("matches = %d, want at most %d", len(res.Matches), maxMatches)
	}
	for i := 1; i < len(res.Matches); i++ {
		if res.Matches[i].Similarity > res.Matches[i-1].Similarity {
			t.Fatal("matches not ranked by descending similarity")
		}
	}
}

func TestRecognizeCachesBestMatch(t *testing.T) {
	r := newTestRecognizer(t, nil)

	features := map[string]pattern.Value{"type": pattern.String("drum")}
	if err := r.AddPattern(testPattern("p1", 0, features)); err != nil {
		t.Fatal(err)
	}

	first, err := r.Recognize(context.Background(), features)
	if err != nil {
		t.Fatal(err)
	}
	if first.CacheHit {
		t.Fatal("first query reported a cache hit")
	}

	second, err := r.Recognize(context.Background(), features)
	if err != nil {
		t.Fatal(err)
	}
	if !second.CacheHit {
		t.Fatal("second identical query missed the result cache")
	}
	if len(second.Matches) != 1 || second.Matches[0].Pattern.ID != "p1" {
		t.Fatalf("cached result = %+v, want the best match p1", second.Matches)
	}
}

func TestRecognizeDeadlinePartialResult(t *testing.T) {
	r := newTestRecognizer(t, func(cfg *config.Config) {
		cfg.Recognizer.Threshold = 0.1
	})

	shared := pattern.String("drum")
	for _, id := range []string{"a", "b", "c"} {
		feats := map[string]pattern.Value{"type": shared}
		if err := r.AddPattern(testPattern(id, 0, feats)); err != nil {
			t.Fatal(err)
		}
	}

	// Freeze the clock past the deadline before any candidate is scored.
	base := time.Now()
	calls := 0
	r.nowFn = func() time.Time {
		calls++
		if calls == 1 {
			return base
		}
		return base.Add(time.Second)
	}

	res, err := r.Recognize(context.Background(), map[string]pattern.Value{"type": shared})
	if err != nil {
		t.Fatalf("deadline overrun must stay a success, got %v", err)
	}
	if !res.Partial {
		t.Fatal("result not marked partial after deadline overrun")
	}
}

func TestAddPatternEvictsLowestValue(t *testing.T) {
	r := newTestRecognizer(t, func(cfg *config.Config) {
		cfg.Recognizer.MaxPatterns = 2
	})

	mk := func(id string, freq int) *pattern.Pattern {
		return testPattern(id, freq, map[string]pattern.Value{"name": pattern.String(id)})
	}
	if err := r.AddPattern(mk("busy", 5)); err != nil {
		t.Fatal(err)
	}
	if err := r.AddPattern(mk("idle", 1)); err != nil {
		t.Fatal(err)
	}
	if err := r.AddPattern(mk("new", 0)); err != nil {
		t.Fatal(err)
	}

	if _, ok := r.Get("idle"); ok {
		t.Fatal("lowest-frequency pattern survived eviction")
	}
	if _, ok := r.Get("busy"); !ok {
		t.Fatal("high-frequency pattern evicted")
	}
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
}

func TestAddPatternRejectsInvalid(t *testing.T) {
	r := newTestRecognizer(t, nil)

	p := testPattern("p1", 0, map[string]pattern.Value{"type": pattern.String("x")})
	p.Confidence = 1.5
	if err := r.AddPattern(p); !errors.Is(err, ErrInvalidPattern) {
		t.Fatalf("error = %v, want ErrInvalidPattern", err)
	}
	if r.Len() != 0 {
		t.Fatal("invalid pattern was stored")
	}
}

func TestRemovePatternDropsFromResults(t *testing.T) {
	r := newTestRecognizer(t, nil)

	features := map[string]pattern.Value{"type": pattern.String("drum")}
	if err := r.AddPattern(testPattern("p1", 0, features)); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Recognize(context.Background(), features); err != nil {
		t.Fatal(err)
	}

	if err := r.RemovePattern("p1"); err != nil {
		t.Fatal(err)
	}

	res, err := r.Recognize(context.Background(), features)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 0 {
		t.Fatal("removed pattern still recognized; result cache not invalidated")
	}
}

func TestCloseRejectsFurtherWork(t *testing.T) {
	r := newTestRecognizer(t, nil)

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close() = %v, want nil", err)
	}

	_, err := r.Recognize(context.Background(), map[string]pattern.Value{"type": pattern.String("x")})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("Recognize after Close = %v, want ErrClosed", err)
	}
	if err := r.AddPattern(testPattern("p1", 0, map[string]pattern.Value{"a": pattern.String("b")})); !errors.Is(err, ErrClosed) {
		t.Fatalf("AddPattern after Close = %v, want ErrClosed", err)
	}
}
