package assets

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/joseph-ayodele/doc-digitizer/internal/hashing"
)

type fakeDoc struct {
	pages   [][]RawImage
	pageErr map[int]error
}

func (d *fakeDoc) PageCount() int { return len(d.pages) }

func (d *fakeDoc) PageImages(_ context.Context, page int) ([]RawImage, error) {
	if err := d.pageErr[page]; err != nil {
		return nil, err
	}
	return d.pages[page-1], nil
}

type fakeSource struct {
	doc *fakeDoc
	err error
}

func (s fakeSource) Open(string) (Document, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.doc, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestExtractDeterministicNames(t *testing.T) {
	p1 := pngBytes(t, 4, 3)
	doc := &fakeDoc{pages: [][]RawImage{
		{{Format: "png", Data: p1}},
		{{Format: "png", Data: pngBytes(t, 2, 2)}, {Format: "jpg", Data: jpegBytes(t, 8, 5)}},
	}}
	dir := filepath.Join(t.TempDir(), "doc")
	x := NewExtractor(fakeSource{doc: doc}, quiet())

	res, err := x.Extract(context.Background(), "doc.pdf", dir)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := []string{"page_001_img_00.png", "page_002_img_00.png", "page_002_img_01.png"}
	if len(res.Assets) != len(want) {
		t.Fatalf("assets = %+v", res.Assets)
	}
	for i, a := range res.Assets {
		if a.Filename != want[i] {
			t.Errorf("asset %d = %q, want %q", i, a.Filename, want[i])
		}
		if _, err := os.Stat(filepath.Join(dir, a.Filename)); err != nil {
			t.Errorf("missing file %s", a.Filename)
		}
	}
	first := res.Assets[0]
	if first.Width != 4 || first.Height != 3 || first.MD5 != hashing.BytesMD5(p1) || first.ByteSize != int64(len(p1)) {
		t.Fatalf("png metadata = %+v", first)
	}
	third := res.Assets[2]
	if third.SourceFormat != "jpg" || third.Width != 8 || third.Height != 5 {
		t.Fatalf("jpeg metadata = %+v", third)
	}
	written, _ := os.ReadFile(filepath.Join(dir, third.Filename))
	if _, err := png.Decode(bytes.NewReader(written)); err != nil {
		t.Fatalf("jpeg not re-encoded as png: %v", err)
	}

	names, err := List(dir)
	if err != nil || len(names) != 3 || names[0] != want[0] {
		t.Fatalf("List = %v, %v", names, err)
	}

	// second run is byte-identical
	res2, err := x.Extract(context.Background(), "doc.pdf", dir)
	if err != nil {
		t.Fatal(err)
	}
	for i := range res.Assets {
		if res.Assets[i] != res2.Assets[i] {
			t.Fatalf("rerun differs: %+v vs %+v", res.Assets[i], res2.Assets[i])
		}
	}
}

func TestExtractIsolatesBadImages(t *testing.T) {
	doc := &fakeDoc{
		pages: [][]RawImage{
			{{Format: "jpg", Data: []byte("not a jpeg")}, {Format: "png", Data: pngBytes(t, 1, 1)}},
			{{Format: "png", Data: pngBytes(t, 1, 1)}},
			{},
		},
		pageErr: map[int]error{3: errors.New("broken xobject")},
	}
	dir := t.TempDir()
	res, err := NewExtractor(fakeSource{doc: doc}, quiet()).Extract(context.Background(), "doc.pdf", dir)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Assets) != 2 {
		t.Fatalf("assets = %+v", res.Assets)
	}
	// index keeps its slot: the bad image was index 0
	if res.Assets[0].Filename != "page_001_img_01.png" {
		t.Fatalf("first asset = %s", res.Assets[0].Filename)
	}
	if len(res.Errors) != 2 {
		t.Fatalf("errors = %+v", res.Errors)
	}
	if res.Errors[0].Filename != "page_001_img_00.png" || res.Errors[1].Page != 3 {
		t.Fatalf("errors = %+v", res.Errors)
	}
}

func TestExtractOpenFailureStillCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "doc")
	_, err := NewExtractor(fakeSource{err: errors.New("corrupt")}, quiet()).Extract(context.Background(), "doc.pdf", dir)
	if err == nil {
		t.Fatal("expected open error")
	}
	if st, statErr := os.Stat(dir); statErr != nil || !st.IsDir() {
		t.Fatal("asset dir should exist")
	}
}

func TestExtractRemovesStaleImages(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "page_009_img_00.png")
	manifest := filepath.Join(dir, "_manifest.json")
	_ = os.WriteFile(stale, []byte("x"), 0o644)
	_ = os.WriteFile(manifest, []byte("{}"), 0o644)
	doc := &fakeDoc{pages: [][]RawImage{{}}}
	if _, err := NewExtractor(fakeSource{doc: doc}, quiet()).Extract(context.Background(), "doc.pdf", dir); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("stale image kept")
	}
	if _, err := os.Stat(manifest); err != nil {
		t.Fatal("manifest removed")
	}
}
