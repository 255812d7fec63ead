// Package analyze drives the per-row pipeline: evidence, reasoning call,
// validation, one feedback retry, then acceptance or a review fallback.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/time/rate"

	"github.com/meridian-tax/refund-cli/internal/allocation"
	"github.com/meridian-tax/refund-cli/internal/config"
	"github.com/meridian-tax/refund-cli/internal/dataset"
	"github.com/meridian-tax/refund-cli/internal/evidence"
	"github.com/meridian-tax/refund-cli/internal/model"
	"github.com/meridian-tax/refund-cli/internal/rates"
	"github.com/meridian-tax/refund-cli/internal/resilience"
	"github.com/meridian-tax/refund-cli/internal/rules"
	"github.com/meridian-tax/refund-cli/internal/store"
	"github.com/meridian-tax/refund-cli/pkg/anthropic"
)

// maxAttempts bounds the reasoning calls per row: the first attempt plus
// one feedback retry.
const maxAttempts = 2

// RunOptions narrows which rows an analysis run processes.
type RunOptions struct {
	Limit   int
	Row     *int
	Vendor  string
	DryRun  bool
	NoWrite bool
}

// RowResult is the terminal outcome of one row's state machine.
type RowResult struct {
	Decision *model.DecisionRecord
	Event    model.RowEvent
}

// Orchestrator runs the analysis pipeline row by row.
type Orchestrator struct {
	cfg     *config.Config
	builder *evidence.Builder
	llm     anthropic.Client
	rates   *rates.Table
	alloc   *allocation.Table
	store   store.Store // nil disables persistence
	limiter *rate.Limiter

	usage anthropic.TokenUsage
}

// NewOrchestrator wires the pipeline together.
func NewOrchestrator(cfg *config.Config, builder *evidence.Builder, llm anthropic.Client, rt *rates.Table, at *allocation.Table, st store.Store) *Orchestrator {
	rps := cfg.Anthropic.RPS
	if rps <= 0 {
		rps = 1
	}
	return &Orchestrator{
		cfg:     cfg,
		builder: builder,
		llm:     llm,
		rates:   rt,
		alloc:   at,
		store:   st,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Run analyzes every unanalyzed row of a dataset that matches opts, writes
// accepted and fallback decisions to the spreadsheet, and records one event
// per row in the run log and store.
func (o *Orchestrator) Run(ctx context.Context, datasetName string, opts RunOptions) (*model.RunSummary, error) {
	registry := dataset.NewRegistry(o.cfg.Datasets)
	rows, err := registry.Read(datasetName)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	if o.store != nil {
		run, err := o.store.CreateRun(ctx, datasetName)
		if err != nil {
			return nil, err
		}
		runID = run.ID
	}

	runLog, err := NewRunLog(o.cfg.Datasets.RunLogDir, runID)
	if err != nil {
		return nil, err
	}
	defer runLog.Close() //nolint:errcheck

	var writer *dataset.Writer
	if !opts.DryRun && !opts.NoWrite {
		writer, err = dataset.NewWriter(registry.Path(datasetName), o.cfg.Datasets.SheetName)
		if err != nil {
			return nil, err
		}
	}

	summary := &model.RunSummary{
		RunID:     runID,
		Dataset:   datasetName,
		StartedAt: time.Now().UTC(),
	}

	zap.L().Info("starting analysis run",
		zap.String("run_id", runID),
		zap.String("dataset", datasetName),
		zap.Int("rows", len(rows)),
		zap.Bool("dry_run", opts.DryRun),
	)

	profiles := make(map[string]*vendorTally)

	processed := 0
	for _, row := range rows {
		if !o.rowSelected(row, opts) {
			continue
		}
		if opts.Limit > 0 && processed >= opts.Limit {
			break
		}
		if ctx.Err() != nil {
			break
		}
		processed++
		summary.RowsTotal++

		res := o.AnalyzeRow(ctx, runID, datasetName, row)

		if res.Decision != nil && writer != nil {
			if werr := writer.WriteDecision(row.Index, res.Decision); werr != nil {
				if !errors.Is(werr, dataset.ErrRowOutOfBounds) {
					return summary, werr
				}
				res.Event.Status = model.RowSkipped
				res.Event.Violations = append(res.Event.Violations, "output row out of bounds")
				zap.L().Warn("row skipped: out of output bounds",
					zap.String("run_id", runID),
					zap.Int("row", row.Index),
				)
			}
		}

		o.recordEvent(ctx, runLog, &res.Event)

		switch res.Event.Status {
		case model.RowAccepted:
			summary.Accepted++
		case model.RowFallback:
			summary.Fallbacks++
		case model.RowSkipped:
			summary.Skipped++
		}
		if res.Event.Status == model.RowAccepted &&
			res.Decision.FinalDecision == model.DecisionRefund &&
			res.Decision.EstimatedRefund != nil {
			summary.RefundTotal += *res.Decision.EstimatedRefund
		}

		if res.Event.Status == model.RowAccepted && row.Vendor != "" {
			tally := profiles[row.Vendor]
			if tally == nil {
				tally = &vendorTally{}
				profiles[row.Vendor] = tally
			}
			tally.rows++
			if res.Decision.FinalDecision == model.DecisionRefund {
				tally.refunds++
			}
			if tally.product == "" {
				tally.product = res.Decision.ProductType
			}
		}
	}

	o.updateVendorProfiles(ctx, profiles)

	if writer != nil {
		if err := writer.Save(); err != nil {
			return summary, err
		}
	}

	summary.FinishedAt = time.Now().UTC()
	summary.InputTokens = o.usage.InputTokens
	summary.OutputTokens = o.usage.OutputTokens

	if err := runLog.WriteSummary(summary); err != nil {
		return summary, err
	}
	if o.store != nil {
		if err := o.store.CompleteRun(ctx, runID, summary); err != nil {
			return summary, err
		}
	}

	p := message.NewPrinter(language.AmericanEnglish)
	zap.L().Info("analysis run complete",
		zap.String("run_id", runID),
		zap.Int("rows", summary.RowsTotal),
		zap.Int("accepted", summary.Accepted),
		zap.Int("fallbacks", summary.Fallbacks),
		zap.Int("skipped", summary.Skipped),
		zap.String("refund_total", p.Sprintf("$%.2f", summary.RefundTotal)),
	)
	return summary, nil
}

// vendorTally accumulates one run's accepted decisions per vendor.
type vendorTally struct {
	rows    int
	refunds int
	product string
}

// updateVendorProfiles folds a run's accepted decisions into the stored
// per-vendor history. Failures are logged and do not affect the run.
func (o *Orchestrator) updateVendorProfiles(ctx context.Context, tallies map[string]*vendorTally) {
	if o.store == nil {
		return
	}

	for vendor, tally := range tallies {
		existing, err := o.store.GetVendorProfile(ctx, vendor)
		if err != nil {
			zap.L().Warn("vendor profile lookup failed", zap.String("vendor", vendor), zap.Error(err))
			continue
		}

		profile := &model.VendorProfile{Vendor: vendor, CommonProduct: tally.product}
		priorRefunds := 0.0
		if existing != nil {
			profile.RowsAnalyzed = existing.RowsAnalyzed
			priorRefunds = existing.RefundRate * float64(existing.RowsAnalyzed)
			if existing.CommonProduct != "" {
				profile.CommonProduct = existing.CommonProduct
			}
			profile.Notes = existing.Notes
		}
		profile.RowsAnalyzed += tally.rows
		if profile.RowsAnalyzed > 0 {
			profile.RefundRate = (priorRefunds + float64(tally.refunds)) / float64(profile.RowsAnalyzed)
		}

		if err := o.store.UpsertVendorProfile(ctx, profile); err != nil {
			zap.L().Warn("vendor profile update failed", zap.String("vendor", vendor), zap.Error(err))
		}
	}
}

func (o *Orchestrator) rowSelected(row dataset.Row, opts RunOptions) bool {
	if row.Analyzed {
		return false
	}
	if opts.Row != nil && row.Index != *opts.Row {
		return false
	}
	if opts.Vendor != "" && !strings.Contains(strings.ToLower(row.Vendor), strings.ToLower(opts.Vendor)) {
		return false
	}
	return true
}

func (o *Orchestrator) recordEvent(ctx context.Context, runLog *RunLog, event *model.RowEvent) {
	if err := runLog.Append(event); err != nil {
		zap.L().Error("run log append failed", zap.Error(err))
	}
	if o.store != nil {
		if err := o.store.AppendRowEvent(ctx, event); err != nil {
			zap.L().Error("store row event failed", zap.Error(err))
		}
	}
}

// AnalyzeRow runs the bounded per-row state machine. It never returns an
// error: failures become a fallback decision, and cancellation leaves the
// row skipped and unanalyzed.
func (o *Orchestrator) AnalyzeRow(ctx context.Context, runID, datasetName string, row dataset.Row) RowResult {
	start := time.Now()

	ev := o.builder.Build(ctx, datasetName, row)

	event := model.RowEvent{
		RunID:             runID,
		Dataset:           datasetName,
		RowIndex:          row.Index,
		Vendor:            row.Vendor,
		ExtractionMethods: ev.ExtractionMethods(),
		Timestamp:         time.Now().UTC(),
	}

	rec, violations, attempts, err := o.decide(ctx, ev)
	event.Attempts = attempts

	switch {
	case err != nil && ctx.Err() != nil:
		// Cancelled mid-flight: no partial record, row stays eligible.
		event.Status = model.RowSkipped
		event.Decision = nil
	case err != nil:
		event.Status = model.RowFallback
		event.Decision = fallbackRecord(fmt.Sprintf("reasoning call failed: %v", err))
	case len(violations) > 0:
		event.Status = model.RowFallback
		event.Violations = rules.Strings(violations)
		event.Decision = fallbackRecord("validation failed after retry: " + strings.Join(rules.Strings(violations), "; "))
	default:
		event.Status = model.RowAccepted
		event.Decision = rec
	}

	event.DurationMS = time.Since(start).Milliseconds()

	zap.L().Info("row analyzed",
		zap.String("run_id", runID),
		zap.Int("row", row.Index),
		zap.String("vendor", row.Vendor),
		zap.String("status", string(event.Status)),
		zap.Int("attempts", attempts),
	)
	return RowResult{Decision: event.Decision, Event: event}
}

// decide runs the call-parse-normalize-validate loop with at most one
// feedback retry. It returns the accepted record, or the last violations
// when both attempts failed validation, or an error when the service call
// itself failed.
func (o *Orchestrator) decide(ctx context.Context, ev *model.RowEvidence) (*model.DecisionRecord, []rules.Violation, int, error) {
	prompt := buildPrompt(ev)

	var lastViolations []rules.Violation
	attempts := 0

	for attempt := 0; attempt < maxAttempts; attempt++ {
		attempts = attempt + 1

		raw, err := o.callReasoner(ctx, prompt)
		if err != nil {
			return nil, nil, attempts, err
		}

		rec, cleaned, perr := parseDecision(raw)
		if perr != nil {
			lastViolations = []rules.Violation{{
				Rule:    "json_format",
				Message: "response was not a single valid JSON object",
			}}
			prompt = buildRetryPrompt(ev, truncate(raw, 2000), lastViolations)
			continue
		}

		o.normalize(rec, ev)

		violations := rules.Validate(rec)
		if len(violations) == 0 {
			return rec, nil, attempts, nil
		}
		lastViolations = violations
		prompt = buildRetryPrompt(ev, cleaned, violations)
	}

	return nil, lastViolations, attempts, nil
}

// callReasoner makes one rate-limited reasoning call, retrying transient
// API failures.
func (o *Orchestrator) callReasoner(ctx context.Context, prompt string) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", err
	}

	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("anthropic", "create_message")

	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return o.llm.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       o.cfg.Anthropic.Model,
			MaxTokens:   o.cfg.Anthropic.MaxTokens,
			System:      systemPrompt,
			Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
			Temperature: &o.cfg.Anthropic.Temperature,
		})
	})
	if err != nil {
		return "", err
	}

	o.usage.Add(resp.Usage)
	resp.Usage.LogCost(o.cfg.Anthropic.Model, "analyze_row")

	return extractText(resp), nil
}

// normalize applies the deterministic transforms to a parsed record: the
// refund calculator and the rate-validation review flags.
func (o *Orchestrator) normalize(rec *model.DecisionRecord, ev *model.RowEvidence) {
	estimate := 0.0
	if rec.EstimatedRefund != nil {
		estimate = *rec.EstimatedRefund
	}

	if rec.FinalDecision == model.DecisionRefund {
		amount, source := o.alloc.Calculate(ev.TaxAmount, rec.Methodology, estimate)
		rec.EstimatedRefund = &amount
		rec.RefundSource = source
	} else if rec.EstimatedRefund != nil && estimate < 0 {
		zero := 0.0
		rec.EstimatedRefund = &zero
	}

	if ev.Rate != nil && o.rates != nil {
		rv := o.rates.Validate(*ev.Rate, ev.Jurisdiction, ev.TaxBase, ev.TaxAmount)
		if !rv.RateOK || !rv.TaxCalcOK {
			rec.ReviewFlags = append(rec.ReviewFlags, rv.Message)
		}
	}

	for _, method := range ev.ExtractionMethods() {
		if method == model.MethodSparse || method == model.MethodMissing {
			rec.ReviewFlags = append(rec.ReviewFlags, "invoice text sparse or missing")
			break
		}
	}
}

// fallbackRecord synthesizes the manual-review decision emitted when
// automated analysis cannot produce a valid result.
func fallbackRecord(reason string) *model.DecisionRecord {
	zero := 0.0
	return &model.DecisionRecord{
		FinalDecision: model.DecisionReview,
		Confidence:    &zero,
		Explanation:   "Automated analysis could not produce a valid result: " + reason,
		ReviewFlags:   []string{"manual review required"},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
