// Package extract recovers machine-readable text from scanned invoices.
//
// Extraction never fails hard: callers always receive a Result describing
// what was recovered, how, and what went wrong along the way.
package extract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/meridian-tax/refund-cli/internal/config"
	"github.com/meridian-tax/refund-cli/internal/model"
)

// Result is the outcome of one document extraction.
type Result struct {
	Text     string
	Pages    int
	Method   model.ExtractionMethod
	Warnings []string
}

// Extractor runs the direct-then-recognition extraction policy.
type Extractor struct {
	recognizer  Recognizer // nil when no recognition tool is configured
	renderPages func(path string, budget int) ([]string, func(), error)
	pageBudget  int
	minChars    int
}

// New builds an Extractor from config. An unknown or "none" recognizer
// leaves the fallback pass disabled rather than failing construction.
func New(cfg config.ExtractConfig) *Extractor {
	e := &Extractor{
		renderPages: renderPageImages,
		pageBudget:  cfg.PageBudget,
		minChars:    cfg.MinChars,
	}
	if e.pageBudget <= 0 {
		e.pageBudget = 5
	}
	if e.minChars <= 0 {
		e.minChars = 120
	}

	switch cfg.Recognizer {
	case "tesseract":
		e.recognizer = NewTesseract(cfg.TessdataPath)
	case "mistral":
		if cfg.MistralKey == "" {
			zap.L().Warn("extract: mistral recognizer requires mistral_api_key, recognition disabled")
		} else {
			e.recognizer = NewMistralRecognizer(cfg.MistralKey, cfg.MistralModel)
		}
	case "none", "":
		// recognition fallback disabled
	default:
		zap.L().Warn("extract: unknown recognizer, recognition disabled",
			zap.String("recognizer", cfg.Recognizer))
	}
	return e
}

// Extract recovers text from the document at path, bounded by the page
// budget. Direct text extraction runs first; when the normalized result is
// shorter than the minimum-character threshold, a recognition pass over
// rendered page images supplements it. All failures degrade to warnings.
func (e *Extractor) Extract(ctx context.Context, path string) Result {
	res := Result{Method: model.MethodMissing}

	if _, err := os.Stat(path); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("document not found: %s", path))
		return res
	}

	text, pages, err := directText(path, e.pageBudget)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("direct extraction failed: %v", err))
	}
	res.Text = text
	res.Pages = pages

	if len(normalize(text)) >= e.minChars {
		res.Method = model.MethodDirectText
		return res
	}

	if e.recognizer == nil {
		res.Warnings = append(res.Warnings, "direct text sparse and no recognition tool available")
		if strings.TrimSpace(text) == "" {
			res.Method = model.MethodMissing
		} else {
			res.Method = model.MethodSparse
		}
		return res
	}

	recovered, recWarnings := e.recognizePages(ctx, path)
	res.Warnings = append(res.Warnings, recWarnings...)

	if strings.TrimSpace(recovered) != "" {
		if strings.TrimSpace(res.Text) != "" {
			res.Text += "\n\n" + recovered
		} else {
			res.Text = recovered
		}
		res.Method = model.MethodRecognitionFallback
		return res
	}

	if strings.TrimSpace(res.Text) == "" {
		res.Method = model.MethodMissing
	} else {
		res.Method = model.MethodSparse
	}
	return res
}

// recognizePages renders page images within the budget and feeds each to the
// recognizer, concatenating whatever comes back.
func (e *Extractor) recognizePages(ctx context.Context, path string) (string, []string) {
	var warnings []string

	images, cleanup, err := e.renderPages(path, e.pageBudget)
	if err != nil {
		return "", append(warnings, fmt.Sprintf("page rendering failed: %v", err))
	}
	defer cleanup()

	if len(images) == 0 {
		return "", append(warnings, "no page images could be rendered")
	}

	var sb strings.Builder
	for _, img := range images {
		if ctx.Err() != nil {
			warnings = append(warnings, "recognition cancelled")
			break
		}
		text, err := e.recognizer.RecognizeImage(ctx, img)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("recognition failed for %s: %v", img, err))
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
	}
	return sb.String(), warnings
}

// normalize collapses whitespace so the sparseness threshold measures real
// content, not layout artifacts.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
