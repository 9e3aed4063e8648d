package assets

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// RawImage is an embedded image as stored in the document.
type RawImage struct {
	Page   int
	ObjNr  int
	Format string // png | jpg | tif | jp2 ...
	Width  int
	Height int
	Data   []byte
}

// Document gives page-ordered access to embedded images.
type Document interface {
	PageCount() int
	PageImages(ctx context.Context, page int) ([]RawImage, error)
}

// Source opens documents for image extraction.
type Source interface {
	Open(path string) (Document, error)
}

// PDFCPUSource reads embedded image XObjects with pdfcpu.
type PDFCPUSource struct{}

func (PDFCPUSource) Open(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	return &pdfcpuDoc{ctx: ctx}, nil
}

type pdfcpuDoc struct {
	ctx *model.Context
}

func (d *pdfcpuDoc) PageCount() int { return d.ctx.PageCount }

func (d *pdfcpuDoc) PageImages(ctx context.Context, page int) ([]RawImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	imgs, err := pdfcpu.ExtractPageImages(d.ctx, page, false)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page, err)
	}
	// object numbers give a stable in-page order across runs
	objNrs := make([]int, 0, len(imgs))
	for nr := range imgs {
		objNrs = append(objNrs, nr)
	}
	sort.Ints(objNrs)

	out := make([]RawImage, 0, len(imgs))
	for _, nr := range objNrs {
		img := imgs[nr]
		if img.Reader == nil {
			continue
		}
		data, err := io.ReadAll(img)
		if err != nil {
			return out, fmt.Errorf("page %d obj %d: %w", page, nr, err)
		}
		out = append(out, RawImage{
			Page:   page,
			ObjNr:  nr,
			Format: img.FileType,
			Width:  img.Width,
			Height: img.Height,
			Data:   data,
		})
	}
	return out, nil
}
