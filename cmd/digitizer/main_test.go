package main

import (
	"testing"
)

func TestRootRegistersStageCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"extract", "enrich", "synthesize", "run", "report"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered: %v", name, err)
		}
	}
}

func TestStageFlags(t *testing.T) {
	root := newRootCmd()
	cases := map[string][]string{
		"extract":    {"pdf-dir", "md-dir", "asset-dir", "recursive"},
		"enrich":     {"source-md-dir", "asset-dir", "output-dir"},
		"synthesize": {"source-dir", "output-dir"},
		"run":        {"pdf-dir", "md-dir", "asset-dir", "enriched-dir", "output-dir", "report"},
		"report":     {"run-id", "out"},
	}
	for name, flags := range cases {
		cmd, _, err := root.Find([]string{name})
		if err != nil {
			t.Fatalf("find %s: %v", name, err)
		}
		for _, f := range flags {
			if cmd.Flags().Lookup(f) == nil {
				t.Errorf("%s: missing --%s", name, f)
			}
		}
	}
	for _, f := range []string{"config", "log-level", "force", "reanalyze"} {
		if root.PersistentFlags().Lookup(f) == nil {
			t.Errorf("missing persistent --%s", f)
		}
	}
}

func TestSetIf(t *testing.T) {
	dst := "default"
	setIf(&dst, "")
	if dst != "default" {
		t.Fatalf("empty value overrode: %q", dst)
	}
	setIf(&dst, "custom")
	if dst != "custom" {
		t.Fatalf("value not applied: %q", dst)
	}
}
