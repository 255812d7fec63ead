package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/otiai10/gosseract/v2"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rotisserie/eris"
)

// Recognizer converts one rendered page image into text.
type Recognizer interface {
	RecognizeImage(ctx context.Context, imagePath string) (string, error)
}

// Tesseract recognizes text locally via the tesseract engine.
type Tesseract struct {
	tessdataPath string
}

// NewTesseract creates a local recognizer. tessdataPath may be empty to use
// the engine's default data directory.
func NewTesseract(tessdataPath string) *Tesseract {
	return &Tesseract{tessdataPath: tessdataPath}
}

// RecognizeImage runs OCR over a single image file.
func (t *Tesseract) RecognizeImage(_ context.Context, imagePath string) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if t.tessdataPath != "" {
		client.SetTessdataPrefix(t.tessdataPath)
	}
	if err := client.SetLanguage("eng"); err != nil {
		return "", eris.Wrap(err, "extract: set tesseract language")
	}
	if err := client.SetImage(imagePath); err != nil {
		return "", eris.Wrapf(err, "extract: set image %s", imagePath)
	}

	text, err := client.Text()
	if err != nil {
		return "", eris.Wrapf(err, "extract: tesseract failed for %s", imagePath)
	}
	return text, nil
}

// renderPageImages extracts the embedded page images of the first pageBudget
// pages into a temp dir and returns their paths in page order. The caller
// must invoke cleanup when done.
func renderPageImages(path string, pageBudget int) ([]string, func(), error) {
	tempDir, err := os.MkdirTemp("", "invoice_pages")
	if err != nil {
		return nil, func() {}, eris.Wrap(err, "extract: create temp dir")
	}
	cleanup := func() { _ = os.RemoveAll(tempDir) }

	conf := model.NewDefaultConfiguration()
	selected := []string{fmt.Sprintf("1-%d", pageBudget)}
	if err := api.ExtractImagesFile(path, tempDir, selected, conf); err != nil {
		cleanup()
		return nil, func() {}, eris.Wrapf(err, "extract: render pages of %s", path)
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		cleanup()
		return nil, func() {}, eris.Wrap(err, "extract: read rendered pages")
	}

	var images []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		images = append(images, filepath.Join(tempDir, entry.Name()))
	}
	// pdfcpu names files by page number; lexical order tracks page order.
	sort.Strings(images)

	return images, cleanup, nil
}
