package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/joseph-ayodele/doc-digitizer/constants"
	"github.com/joseph-ayodele/doc-digitizer/internal/ingest"
	"github.com/joseph-ayodele/doc-digitizer/internal/pipeline"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProc scores every document it sees; names in fail end in extraction_failed.
type fakeProc struct {
	mu    sync.Mutex
	docs  []string
	texts map[string]string
	fail  map[string]bool
}

func newFakeProc() *fakeProc {
	return &fakeProc{texts: map[string]string{}, fail: map[string]bool{}}
}

func (f *fakeProc) ProcessDocument(_ context.Context, doc pipeline.Document) pipeline.DocumentResult {
	f.mu.Lock()
	f.docs = append(f.docs, doc.Name)
	fail := f.fail[doc.Name]
	f.mu.Unlock()
	if fail {
		return pipeline.DocumentResult{
			Document:   doc,
			State:      constants.StateExtractionFailed,
			Extraction: &pipeline.ExtractionResult{Status: constants.StageFailed},
			Err:        errors.New("no text"),
		}
	}
	return scored(doc)
}

func (f *fakeProc) ProcessText(_ context.Context, doc pipeline.Document, text string) pipeline.DocumentResult {
	f.mu.Lock()
	f.docs = append(f.docs, doc.Name)
	f.texts[doc.Name] = text
	f.mu.Unlock()
	res := scored(doc)
	res.Extraction = nil
	return res
}

func (f *fakeProc) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.docs...)
}

func scored(doc pipeline.Document) pipeline.DocumentResult {
	return pipeline.DocumentResult{
		Document:   doc,
		State:      constants.StateScored,
		Extraction: &pipeline.ExtractionResult{Status: constants.StageSucceeded},
		Synthesis:  &pipeline.SynthesisResult{Document: doc.Name, Status: constants.StageSucceeded, Score: 92, Passed: true},
	}
}

func newTestService(t *testing.T, proc DocumentProcessor, ledger pipeline.Ledger) *PipelineService {
	t.Helper()
	svc := NewPipelineService(proc, ingest.NewFSIngestor(quietLogger()), ledger, ServiceConfig{
		UploadDir:  filepath.Join(t.TempDir(), "uploads"),
		Workers:    2,
		QueueSize:  8,
		DocTimeout: 10 * time.Second,
	}, quietLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})
	return svc
}

// waitTask polls until the task leaves queued/processing.
func waitTask(t *testing.T, svc *PipelineService, id string) Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, ok := svc.Tasks().Get(id)
		if !ok {
			t.Fatalf("task %s not registered", id)
		}
		if task.Status == TaskCompleted || task.Status == TaskFailed {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not finish", id)
	return Task{}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}
