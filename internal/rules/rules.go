// Package rules enforces the structural and business schema every candidate
// decision must pass before it may reach the output artifact.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/meridian-tax/refund-cli/internal/model"
)

// Reasoning section markers a decision must carry.
const (
	MarkerInvoiceVerified = "INVOICE VERIFIED:"
	MarkerShipTo          = "SHIP-TO:"
	MarkerLineItem        = "LINE ITEM:"
)

// Violation is one failed check, reported back to the reasoning service on
// retry.
type Violation struct {
	Rule    string
	Message string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Rule, v.Message)
}

// Strings renders violations for prompts and row events.
func Strings(violations []Violation) []string {
	out := make([]string, 0, len(violations))
	for _, v := range violations {
		out = append(out, v.String())
	}
	return out
}

// statuteSections is the closed set of Tax Code chapter 151 sections that
// refund determinations may cite. Citations outside this list and the
// comptroller-rule pattern are rejected outright.
var statuteSections = map[string]bool{
	"151.006":  true, // sale for resale
	"151.009":  true, // tangible personal property
	"151.011":  true, // use defined
	"151.056":  true, // contractors
	"151.302":  true, // sales for resale
	"151.309":  true, // governmental entities
	"151.310":  true, // religious, educational, charitable
	"151.311":  true, // items used in exempt contracts
	"151.313":  true, // health care supplies
	"151.314":  true, // food and food products
	"151.316":  true, // agricultural items
	"151.317":  true, // gas and electricity
	"151.318":  true, // manufacturing machinery and equipment
	"151.3182": true, // divergent use of exempt property
	"151.319":  true, // newspapers
	"151.320":  true, // magazines
	"151.328":  true, // aircraft
	"151.329":  true, // certain ships
	"151.330":  true, // interstate shipments
	"151.331":  true, // rolling stock
	"151.350":  true, // labor to restore certain property
	"151.355":  true, // water-related exemptions
	"151.429":  true, // enterprise projects
}

var (
	statuteRe = regexp.MustCompile(`^(?:Tex(?:as|\.)? Tax Code(?: Ann\.)?) §\s*(151\.\d{3,4})(?:\([0-9a-zA-Z]+\))*$`)
	ruleRe    = regexp.MustCompile(`^(?:34 TAC §\s*|Rule )3\.\d{3}(?:\([0-9a-zA-Z]+\))*$`)
)

// CitationOK reports whether a citation belongs to one of the two accepted
// families: an allowlisted Tax Code section or a comptroller rule.
func CitationOK(citation string) bool {
	c := strings.TrimSpace(citation)
	if m := statuteRe.FindStringSubmatch(c); m != nil {
		return statuteSections[m[1]]
	}
	return ruleRe.MatchString(c)
}

// Validate returns the violations of a candidate decision. An empty slice
// means the record may be written. Pure function, no side effects.
func Validate(rec *model.DecisionRecord) []Violation {
	violations := make([]Violation, 0)

	for _, m := range missingMarkers(rec.Reasoning) {
		violations = append(violations, Violation{
			Rule:    "reasoning_markers",
			Message: fmt.Sprintf("reasoning block missing required section %q", m),
		})
	}

	return append(violations, validateWritten(rec)...)
}

// ValidateWritten checks the fields that survive the round trip through the
// spreadsheet. The reasoning block is not persisted, so its markers are not
// re-checked here.
func ValidateWritten(rec *model.DecisionRecord) []Violation {
	return validateWritten(rec)
}

func validateWritten(rec *model.DecisionRecord) []Violation {
	var violations []Violation

	if !model.ValidDecisions[rec.FinalDecision] {
		violations = append(violations, Violation{
			Rule:    "decision_enum",
			Message: fmt.Sprintf("final_decision %q is not one of REFUND, NO REFUND, REVIEW, PASS", rec.FinalDecision),
		})
	}

	citation := strings.TrimSpace(rec.Citation)
	if rec.FinalDecision == model.DecisionRefund && citation == "" {
		violations = append(violations, Violation{
			Rule:    "refund_citation",
			Message: "REFUND decision requires a citation",
		})
	}
	if citation != "" && !CitationOK(citation) {
		violations = append(violations, Violation{
			Rule:    "citation_format",
			Message: fmt.Sprintf("citation %q matches neither an allowed Tax Code section nor a comptroller rule", citation),
		})
	}

	if rec.Confidence != nil && (*rec.Confidence < 0 || *rec.Confidence > 1) {
		violations = append(violations, Violation{
			Rule:    "confidence_range",
			Message: fmt.Sprintf("confidence %.3f outside [0, 1]", *rec.Confidence),
		})
	}

	if rec.EstimatedRefund != nil && *rec.EstimatedRefund < 0 {
		violations = append(violations, Violation{
			Rule:    "refund_nonnegative",
			Message: fmt.Sprintf("estimated_refund %.2f is negative", *rec.EstimatedRefund),
		})
	}

	if (rec.FinalDecision == model.DecisionRefund || rec.FinalDecision == model.DecisionNoRefund) &&
		strings.TrimSpace(rec.ProductDescription) == "" {
		violations = append(violations, Violation{
			Rule:    "product_description",
			Message: fmt.Sprintf("%s decision requires a product description", rec.FinalDecision),
		})
	}

	return violations
}

func missingMarkers(rb *model.ReasoningBlock) []string {
	if rb == nil {
		return []string{MarkerInvoiceVerified, MarkerShipTo, MarkerLineItem}
	}
	var missing []string
	if strings.TrimSpace(rb.InvoiceVerified) == "" {
		missing = append(missing, MarkerInvoiceVerified)
	}
	if strings.TrimSpace(rb.ShipTo) == "" {
		missing = append(missing, MarkerShipTo)
	}
	if strings.TrimSpace(rb.LineItem) == "" {
		missing = append(missing, MarkerLineItem)
	}
	return missing
}
