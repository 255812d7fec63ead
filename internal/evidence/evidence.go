// Package evidence assembles the full per-row context handed to the
// reasoning service: row fields, invoice text, vendor history, and
// retrieved legal context.
package evidence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-tax/refund-cli/internal/dataset"
	"github.com/meridian-tax/refund-cli/internal/extract"
	"github.com/meridian-tax/refund-cli/internal/model"
	"github.com/meridian-tax/refund-cli/internal/store"
	"github.com/meridian-tax/refund-cli/pkg/retrieval"
)

// maxInvoices caps how many invoice files attach to one row.
const maxInvoices = 2

// Builder assembles RowEvidence. Degraded inputs become warnings on the
// evidence, never errors.
type Builder struct {
	extractor    *extract.Extractor
	retrieval    retrieval.Client
	store        store.Store
	invoiceDir   string
	previewChars int
	topK         int

	profileMu    sync.Mutex
	profileCache map[string]*model.VendorProfile
}

// NewBuilder creates a Builder. retrieval and store may be nil; the
// corresponding evidence degrades with a warning.
func NewBuilder(extractor *extract.Extractor, rc retrieval.Client, st store.Store, invoiceDir string, previewChars, topK int) *Builder {
	if previewChars <= 0 {
		previewChars = 6000
	}
	if topK <= 0 {
		topK = 5
	}
	return &Builder{
		extractor:    extractor,
		retrieval:    rc,
		store:        st,
		invoiceDir:   invoiceDir,
		previewChars: previewChars,
		topK:         topK,
		profileCache: make(map[string]*model.VendorProfile),
	}
}

// Build assembles the evidence bundle for one row. Invoice extraction and
// context retrieval run concurrently; neither can fail the build.
func (b *Builder) Build(ctx context.Context, datasetName string, row dataset.Row) *model.RowEvidence {
	ev := &model.RowEvidence{
		Dataset:       datasetName,
		RowIndex:      row.Index,
		Vendor:        row.Vendor,
		Description:   row.Description,
		TaxAmount:     row.TaxAmount,
		TaxBase:       row.TaxBase,
		InvoiceNumber: row.InvoiceNumber,
		PONumber:      row.PONumber,
		Rate:          row.Rate,
		Jurisdiction:  row.Jurisdiction,
	}

	var (
		invoices []model.InvoiceEvidence
		chunks   []model.RetrievedChunk
		retrWarn string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		invoices = b.extractInvoices(gctx, datasetName, row)
		return nil
	})
	g.Go(func() error {
		chunks, retrWarn = b.retrieveContext(gctx, row)
		return nil
	})
	_ = g.Wait()

	ev.Invoices = invoices
	ev.LegalContext = chunks
	if retrWarn != "" {
		ev.Warnings = append(ev.Warnings, retrWarn)
	}
	for _, inv := range invoices {
		ev.Warnings = append(ev.Warnings, inv.Warnings...)
	}

	ev.Profile = b.vendorProfile(ctx, row.Vendor)

	return ev
}

// extractInvoices resolves up to maxInvoices files by invoice or PO number
// and extracts their text.
func (b *Builder) extractInvoices(ctx context.Context, datasetName string, row dataset.Row) []model.InvoiceEvidence {
	paths := b.resolveInvoiceFiles(datasetName, row)

	var out []model.InvoiceEvidence
	for _, path := range paths {
		res := b.extractor.Extract(ctx, path)

		preview := res.Text
		if len(preview) > b.previewChars {
			preview = preview[:b.previewChars]
		}

		out = append(out, model.InvoiceEvidence{
			Filename:    filepath.Base(path),
			Path:        path,
			Method:      res.Method,
			TextPreview: preview,
			Warnings:    res.Warnings,
		})
	}
	return out
}

// resolveInvoiceFiles finds files in the dataset's invoice directory whose
// name contains the row's invoice or PO number.
func (b *Builder) resolveInvoiceFiles(datasetName string, row dataset.Row) []string {
	var keys []string
	if row.InvoiceNumber != "" {
		keys = append(keys, row.InvoiceNumber)
	}
	if row.PONumber != "" {
		keys = append(keys, row.PONumber)
	}
	if len(keys) == 0 {
		return nil
	}

	dir := filepath.Join(b.invoiceDir, datasetName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		zap.L().Debug("evidence: invoice dir unreadable",
			zap.String("dir", dir), zap.Error(err))
		return nil
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if len(paths) >= maxInvoices {
			break
		}
		name := strings.ToLower(e.Name())
		for _, key := range keys {
			if strings.Contains(name, strings.ToLower(key)) {
				paths = append(paths, filepath.Join(dir, e.Name()))
				break
			}
		}
	}
	return paths
}

// retrieveContext queries the retrieval service for legal and vendor
// context. Errors and empty results degrade to a warning.
func (b *Builder) retrieveContext(ctx context.Context, row dataset.Row) ([]model.RetrievedChunk, string) {
	if b.retrieval == nil {
		return nil, "no legal context: retrieval service not configured"
	}

	query := fmt.Sprintf("%s %s Texas sales tax exemption", row.Vendor, row.Description)
	resp, err := b.retrieval.Search(ctx, query, b.topK)
	if err != nil {
		zap.L().Warn("evidence: retrieval failed",
			zap.String("vendor", row.Vendor), zap.Error(err))
		return nil, fmt.Sprintf("no legal context: retrieval failed: %v", err)
	}
	if len(resp.Chunks) == 0 {
		return nil, "no legal context: retrieval returned no results"
	}

	chunks := make([]model.RetrievedChunk, 0, len(resp.Chunks))
	for _, c := range resp.Chunks {
		chunks = append(chunks, model.RetrievedChunk{
			Text:     c.Text,
			Score:    c.Score,
			Citation: c.Citation,
			Source:   c.Source,
		})
	}
	return chunks, ""
}

// vendorProfile loads a vendor's history from the store once per process
// and caches it, hit or miss.
func (b *Builder) vendorProfile(ctx context.Context, vendor string) *model.VendorProfile {
	if b.store == nil || vendor == "" {
		return nil
	}

	b.profileMu.Lock()
	defer b.profileMu.Unlock()

	if p, ok := b.profileCache[vendor]; ok {
		return p
	}

	p, err := b.store.GetVendorProfile(ctx, vendor)
	if err != nil {
		zap.L().Warn("evidence: vendor profile lookup failed",
			zap.String("vendor", vendor), zap.Error(err))
		return nil
	}
	b.profileCache[vendor] = p
	return p
}
