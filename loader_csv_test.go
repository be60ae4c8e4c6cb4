package enviz

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeCSVFixture(t *testing.T, dir string) {
	t.Helper()
	files := map[string]string{
		"welltype.csv": "p1,p2,i1\nP,P,I\n",
		"rate/r1.csv":  "time,p1,p2,i1\n0,10,20,5\n30,11,,6\n60,12,22,7\n",
		"rate/r2.csv":  "time,p1,p2,i1\n0,13,23,8\n30,14,24,9\n60,15,25,10\n",
		"observed/producers/rate.csv": "time,value\n0,31\n30,33\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCSVSourceRead(t *testing.T) {
	dir := t.TempDir()
	writeCSVFixture(t, dir)

	en, err := BuildEnsemble(context.Background(), &CSVSource{Dir: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ids := en.RealizationIDs(); len(ids) != 2 || ids[0] != "r1" || ids[1] != "r2" {
		t.Fatalf("realizations = %v", ids)
	}

	ts, err := en.EntityQuery("r1", "p1", "rate")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.Len() != 3 || ts.At(1).Value != 11 {
		t.Errorf("unexpected p1 series: %v", ts.Samples())
	}

	// An empty cell is an absent value: p2 in r1 has no sample at t=30.
	ts, err = en.EntityQuery("r1", "p2", "rate")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.Len() != 2 {
		t.Errorf("expected 2 samples for sparse p2, got %d", ts.Len())
	}

	// Types drive the built-in groups.
	prods, err := en.GroupEntities(GroupProducers)
	if err != nil || len(prods) != 2 {
		t.Errorf("producers = %v (%v)", prods, err)
	}
	injs, err := en.GroupEntities(GroupInjectors)
	if err != nil || len(injs) != 1 || injs[0] != "i1" {
		t.Errorf("injectors = %v (%v)", injs, err)
	}

	obs, ok, err := en.Observed(GroupProducers, "rate")
	if err != nil || !ok {
		t.Fatalf("observed: ok=%v err=%v", ok, err)
	}
	if obs[0] != 31 {
		t.Errorf("observed[0] = %v, want 31", obs[0])
	}
}

func TestCSVSourcePropertyFilter(t *testing.T) {
	dir := t.TempDir()
	writeCSVFixture(t, dir)
	// A second property directory that the filter should skip.
	if err := os.MkdirAll(filepath.Join(dir, "pressure"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pressure", "r1.csv"),
		[]byte("time,p1,p2,i1\n0,1,2,3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	en, err := BuildEnsemble(context.Background(), &CSVSource{Dir: dir, Properties: []string{"rate"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := en.EntityQuery("r1", "p1", "pressure"); err == nil {
		t.Error("filtered property must not be loaded")
	}
}

func TestCSVSourceUndeclaredWell(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "welltype.csv"), []byte("p1\nP\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "rate"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "rate", "r1.csv"),
		[]byte("time,p1,mystery\n0,1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := (&CSVSource{Dir: dir}).Read(context.Background()); err == nil {
		t.Fatal("expected error for a well missing from the type file")
	}
}

func TestCSVSourceBadHeader(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "welltype.csv"), []byte("p1\nP\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "rate"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "rate", "r1.csv"),
		[]byte("date,p1\n0,1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := (&CSVSource{Dir: dir}).Read(context.Background()); err == nil {
		t.Fatal("expected error for a header not starting with time")
	}
}
