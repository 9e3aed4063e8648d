package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joseph-ayodele/doc-digitizer/internal/llm"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAnalyzeImageSendsDataURLAndJSONMode(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":" {\"category\":\"Diagram\"} "}}],"usage":{"prompt_tokens":120,"completion_tokens":30}}`)
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Model: "m"}, quietLogger())
	out, usage, err := c.AnalyzeImage(context.Background(), llm.ImageRequest{
		Filename: "page_001_img_00.png", Data: []byte{1, 2, 3}, System: "sys", Prompt: "p",
	})
	if err != nil {
		t.Fatalf("AnalyzeImage: %v", err)
	}
	if out != `{"category":"Diagram"}` {
		t.Fatalf("content = %q", out)
	}
	if !usage.Reported || usage.InputTokens != 120 || usage.OutputTokens != 30 {
		t.Fatalf("usage = %+v", usage)
	}
	rf, _ := got["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Fatalf("response_format = %v", got["response_format"])
	}
	msgs := got["messages"].([]any)
	user := msgs[1].(map[string]any)["content"].([]any)
	img := user[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	if !strings.HasPrefix(img, "data:image/png;base64,") {
		t.Fatalf("image url = %q", img)
	}
}

func TestStatusErrorsClassify(t *testing.T) {
	cases := []struct {
		code int
		want llm.Outcome
	}{
		{http.StatusTooManyRequests, llm.TransientOutcome},
		{http.StatusBadGateway, llm.TransientOutcome},
		{http.StatusBadRequest, llm.PermanentOutcome},
		{http.StatusUnauthorized, llm.PermanentOutcome},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.code)
		}))
		c := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, quietLogger())
		_, _, err := c.Complete(context.Background(), llm.TextRequest{System: "s", Prompt: "p"})
		srv.Close()
		if err == nil {
			t.Fatalf("%d: expected error", tc.code)
		}
		if got := llm.Classify(err); got != tc.want {
			t.Errorf("%d: outcome = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestCompleteWithoutUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"# Title\n\nclean"}}]}`)
	}))
	defer srv.Close()
	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, quietLogger())
	out, usage, err := c.Complete(context.Background(), llm.TextRequest{System: "s", Prompt: "p"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "# Title\n\nclean" || usage.Reported {
		t.Fatalf("out=%q usage=%+v", out, usage)
	}
}

func TestMissingKeyIsPermanent(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, quietLogger())
	_, _, err := c.Complete(context.Background(), llm.TextRequest{})
	if llm.Classify(err) != llm.PermanentOutcome {
		t.Fatalf("err = %v", err)
	}
}
