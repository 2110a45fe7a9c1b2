package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os"

	"github.com/gen2brain/go-fitz"

	"github.com/deckcritic/api/internal/model"
)

const (
	// maxRenderDimension bounds the longer edge of a rendered page. Vision
	// endpoints downscale anything larger anyway, so rendering bigger only
	// inflates upload time.
	maxRenderDimension = 1600

	baseDPI     = 72
	maxDPI      = 300
	jpegQuality = 80
)

// Extractor renders the pages of a PDF deck into JPEG images.
type Extractor struct {
	maxPages int
}

func NewExtractor(maxPages int) *Extractor {
	return &Extractor{maxPages: maxPages}
}

// PageCount opens the document just long enough to count its pages, so the
// job can be registered before the expensive render starts.
func (e *Extractor) PageCount(pdfPath string) (int, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	count := doc.NumPage()
	if count == 0 {
		return 0, fmt.Errorf("PDF has no pages")
	}
	if e.maxPages > 0 && count > e.maxPages {
		return 0, fmt.Errorf("PDF has %d pages, limit is %d", count, e.maxPages)
	}
	return count, nil
}

// Extract renders every page. Any page failing to render aborts the whole
// extraction; a deck with holes in it is not worth analyzing. The progress
// callback, when non-nil, is invoked after each rendered page.
func (e *Extractor) Extract(ctx context.Context, pdfPath string, progress func(page, total int)) ([]model.PageImage, error) {
	if _, err := os.Stat(pdfPath); err != nil {
		return nil, fmt.Errorf("cannot access PDF: %w", err)
	}

	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}
	if e.maxPages > 0 && pageCount > e.maxPages {
		return nil, fmt.Errorf("PDF has %d pages, limit is %d", pageCount, e.maxPages)
	}

	pages := make([]model.PageImage, 0, pageCount)

	for pageNum := 0; pageNum < pageCount; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := doc.ImageDPI(pageNum, e.renderDPI(doc, pageNum))
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", pageNum+1, err)
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, fmt.Errorf("failed to encode page %d: %w", pageNum+1, err)
		}

		bounds := img.Bounds()
		pages = append(pages, model.PageImage{
			PageNumber: pageNum + 1,
			Data:       buf.Bytes(),
			Width:      bounds.Dx(),
			Height:     bounds.Dy(),
		})

		if progress != nil {
			progress(pageNum+1, pageCount)
		}
	}

	return pages, nil
}

// renderDPI picks a DPI so the longer edge of the rendered page lands near
// maxRenderDimension. Falls back to the base DPI when the page bound cannot
// be read.
func (e *Extractor) renderDPI(doc *fitz.Document, pageNum int) float64 {
	bound, err := doc.Bound(pageNum)
	if err != nil {
		return baseDPI
	}
	longest := bound.Dx()
	if bound.Dy() > longest {
		longest = bound.Dy()
	}
	return dpiForEdge(longest)
}

// dpiForEdge scales the base DPI so longestPt points render to at most
// maxRenderDimension pixels. Oversized pages go below the base DPI; a 72 DPI
// floor here would let wide deck exports blow past the bound.
func dpiForEdge(longestPt int) float64 {
	if longestPt <= 0 {
		return baseDPI
	}

	dpi := float64(baseDPI) * float64(maxRenderDimension) / float64(longestPt)
	if dpi > maxDPI {
		return maxDPI
	}
	return dpi
}
