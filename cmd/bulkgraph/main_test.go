package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"generated", []string{"-generate-nodes", "10", "-generate-rels", "20"}, false},
		{"files", []string{"-relationships", "r.parquet"}, false},
		{"no input", nil, true},
		{"both", []string{"-generate-nodes", "10", "-nodes", "n.parquet"}, true},
		{"fixture without graph", []string{"-nodes", "n.parquet", "-write-fixture", "out"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	g := graphSpec{Nodes: 5000, Relationships: 20000, DenseFraction: 0.5, Types: 4, Labels: 8, Seed: 42}
	rels, nodes := generate(g)
	again, _ := generate(g)
	if len(rels) != 20000 || len(nodes) != 5000 {
		t.Fatalf("generate() sizes = %d/%d", len(rels), len(nodes))
	}

	hubDegree := make(map[int64]int)
	for i, r := range rels {
		if r != again[i] {
			t.Fatalf("relationship %d differs between runs", i)
		}
		if r.Start < 0 || r.Start >= g.Nodes || r.End < 0 || r.End >= g.Nodes || r.Type >= g.Types {
			t.Fatalf("relationship %d out of range: %+v", i, r)
		}
		if r.Start < g.hubs() {
			hubDegree[r.Start]++
		}
	}
	// About half the relationships land on 5 hubs.
	for hub, degree := range hubDegree {
		if degree < 1000 {
			t.Errorf("hub %d has degree %d", hub, degree)
		}
	}
	for _, n := range nodes {
		if len(n.Labels) > 3 {
			t.Errorf("node %d has %d labels", n.ID, len(n.Labels))
		}
	}
}

func TestRun_GeneratedAndFixture(t *testing.T) {
	t.Setenv("BULKGRAPH_LOG_LEVEL", "error")
	t.Setenv("BULKGRAPH_DENSE_NODE_THRESHOLD", "20")
	t.Setenv("BULKGRAPH_BATCH_SIZE", "100")
	envFile := filepath.Join(t.TempDir(), "absent.env")
	graph := []string{"-generate-nodes", "300", "-generate-rels", "3000", "-env-file", envFile}

	if err := run(context.Background(), graph); err != nil {
		t.Fatalf("run() generated error = %v", err)
	}

	dir := t.TempDir()
	if err := run(context.Background(), append(graph, "-write-fixture", dir)); err != nil {
		t.Fatalf("run() write fixture error = %v", err)
	}
	for _, name := range []string{"relationships.parquet", "nodes.parquet"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("fixture %s missing: %v", name, err)
		}
	}

	err := run(context.Background(), []string{
		"-relationships", filepath.Join(dir, "relationships.parquet"),
		"-nodes", filepath.Join(dir, "nodes.parquet"),
		"-env-file", envFile,
	})
	if err != nil {
		t.Fatalf("run() parquet error = %v", err)
	}
}
