package internaldefs

import (
	"strings"
	"testing"

	goAdmin "github.com/MrEthical07/goAdmin"
)

func TestDefsCoverEveryMetricOnce(t *testing.T) {
	seenID := map[goAdmin.MetricID]string{}
	seenName := map[string]bool{}

	for _, def := range CounterDefs {
		if prev, ok := seenID[def.ID]; ok {
			t.Fatalf("metric %d defined twice (%s, %s)", def.ID, prev, def.Name)
		}
		if seenName[def.Name] {
			t.Fatalf("duplicate name %s", def.Name)
		}
		if !strings.HasPrefix(def.Name, "goadmin_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("unexpected counter name %s", def.Name)
		}
		seenID[def.ID] = def.Name
		seenName[def.Name] = true
	}
	for _, def := range HistogramDefs {
		if _, ok := seenID[def.ID]; ok {
			t.Fatalf("histogram %s reuses a counter id", def.Name)
		}
		seenID[def.ID] = def.Name
	}

	// Every MetricID the engine can record, counters and histograms alike.
	if len(seenID) != int(goAdmin.MetricValidateLatency)+1 {
		t.Fatalf("expected %d definitions, got %d", int(goAdmin.MetricValidateLatency)+1, len(seenID))
	}
}

func TestBucketTablesAgree(t *testing.T) {
	if len(HistogramBounds) != len(HistogramBoundSuffix) || len(HistogramUpperBounds) != len(HistogramBounds)-1 {
		t.Fatal("bucket tables out of step")
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestCounterFamilies(t *testing.T) {
	families := map[string]int{}
	for _, f := range FamilyDefs {
		if _, ok := families[f.Name]; ok {
			t.Fatalf("family %s declared twice", f.Name)
		}
		families[f.Name] = 0
	}

	seen := map[string]bool{}
	for _, def := range CounterDefs {
		if _, ok := families[def.Family]; !ok {
			t.Fatalf("%s uses undeclared family %q", def.Name, def.Family)
		}
		if def.Outcome == "" {
			t.Fatalf("%s has no outcome", def.Name)
		}
		pair := def.Family + "/" + def.Outcome
		if seen[pair] {
			t.Fatalf("outcome %s used twice", pair)
		}
		seen[pair] = true
		families[def.Family]++
	}
	for name, n := range families {
		if n == 0 {
			t.Fatalf("family %s has no counters", name)
		}
	}

	for _, def := range HistogramDefs {
		if def.Family == "" {
			t.Fatalf("histogram %s has no family", def.Name)
		}
	}
}
