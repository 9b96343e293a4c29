package pdfrenderer

import (
	"fmt"
	"image"
)

// Renderer defines the interface for PDF to image conversion
type Renderer interface {
	// Render converts all pages of a PDF document to images, in page order.
	// Returns one image per page; an error means the engine rejected the input.
	Render(pdf []byte) ([]image.Image, error)

	// Close cleans up any resources used by the renderer
	Close() error
}

// New creates a renderer for the configured backend. The pdfium backend is
// pure Go (WebAssembly); fitz requires CGo and MuPDF.
func New(backend string) (Renderer, error) {
	switch backend {
	case "", "pdfium":
		return NewPDFiumRenderer()
	case "fitz":
		return NewFitzRenderer()
	default:
		return nil, fmt.Errorf("unknown PDF renderer backend: %q", backend)
	}
}
