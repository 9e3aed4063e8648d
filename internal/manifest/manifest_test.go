package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/joseph-ayodele/doc-digitizer/constants"
)

func TestLoadMissingStartsEmpty(t *testing.T) {
	m, err := NewStore().Load(t.TempDir(), "doc")
	if err != nil {
		t.Fatal(err)
	}
	if m.Len() != 0 {
		t.Fatalf("len = %d", m.Len())
	}
}

func TestPutPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	s := NewStore()
	m, _ := s.Load(dir, "doc")
	e := Entry{Category: constants.Diagram, Description: "A flow of requests", Entities: []string{"API"}, MD5: "abc"}
	if err := m.Put("page_001_img_00.png", e); err != nil {
		t.Fatalf("Put: %v", err)
	}

	again, err := NewStore().Load(dir, "doc")
	if err != nil {
		t.Fatal(err)
	}
	got, ok := again.Get("page_001_img_00.png", "abc")
	if !ok || got.Category != constants.Diagram || got.Entities[0] != "API" {
		t.Fatalf("reloaded entry = %+v ok=%v", got, ok)
	}
	if _, ok := again.Get("page_001_img_00.png", "different"); ok {
		t.Fatal("changed image should miss")
	}
	if _, ok := again.Get("page_001_img_00.png", ""); !ok {
		t.Fatal("empty md5 should match by filename")
	}

	// no temp files left behind
	files, _ := os.ReadDir(dir)
	if len(files) != 1 || files[0].Name() != constants.ManifestFile {
		t.Fatalf("dir contents = %v", files)
	}
}

func TestLoadLegacyFlatMap(t *testing.T) {
	dir := t.TempDir()
	legacy := map[string]any{
		"page_001_img_00.png": map[string]any{"category": "Table", "description": "quarterly numbers", "entities": []string{"Q1"}},
	}
	b, _ := json.Marshal(legacy)
	if err := os.WriteFile(filepath.Join(dir, constants.ManifestFile), b, 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := NewStore().Load(dir, "doc")
	if err != nil {
		t.Fatal(err)
	}
	e, ok := m.Get("page_001_img_00.png", "whatever")
	if !ok || e.Category != constants.Table {
		t.Fatalf("legacy entry = %+v ok=%v", e, ok)
	}
}

func TestLoadCorruptFails(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, constants.ManifestFile), []byte("{not json"), 0o644)
	if _, err := NewStore().Load(dir, "doc"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConcurrentPutsAreSerialized(t *testing.T) {
	dir := t.TempDir()
	s := NewStore()
	m, _ := s.Load(dir, "doc")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("page_001_img_%02d.png", i)
			if err := m.Put(name, Entry{Category: constants.Other, Description: "desc " + name}); err != nil {
				t.Errorf("Put %s: %v", name, err)
			}
		}(i)
	}
	wg.Wait()

	again, err := NewStore().Load(dir, "doc")
	if err != nil {
		t.Fatal(err)
	}
	if again.Len() != 20 {
		t.Fatalf("persisted %d entries, want 20", again.Len())
	}
	entries := again.Entries()
	if entries[0].Filename != "page_001_img_00.png" || entries[19].Filename != "page_001_img_19.png" {
		t.Fatalf("entries not sorted: %s..%s", entries[0].Filename, entries[19].Filename)
	}
}

func TestTwoManifestsSameDirShareLock(t *testing.T) {
	dir := t.TempDir()
	s := NewStore()
	a, _ := s.Load(dir, "doc")
	b, _ := s.Load(dir, "doc")
	if a.lock != b.lock {
		t.Fatal("expected the same per-directory lock")
	}

	if err := a.Put("img-1.png", Entry{Category: constants.Diagram, Description: "first"}); err != nil {
		t.Fatal(err)
	}
	if err := b.Put("img-2.png", Entry{Category: constants.Screenshot, Description: "second"}); err != nil {
		t.Fatal(err)
	}
	if b.Len() != 2 {
		t.Fatalf("b sees %d entries, want 2", b.Len())
	}

	again, err := NewStore().Load(dir, "doc")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"img-1.png", "img-2.png"} {
		if _, ok := again.Get(name, ""); !ok {
			t.Fatalf("%s lost after interleaved puts", name)
		}
	}
}
