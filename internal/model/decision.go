package model

// FinalDecision is the controlled outcome vocabulary for a row.
type FinalDecision string

const (
	DecisionRefund   FinalDecision = "REFUND"
	DecisionNoRefund FinalDecision = "NO REFUND"
	DecisionReview   FinalDecision = "REVIEW"
	DecisionPass     FinalDecision = "PASS"
)

// ValidDecisions is the closed set of accepted final decisions.
var ValidDecisions = map[FinalDecision]bool{
	DecisionRefund:   true,
	DecisionNoRefund: true,
	DecisionReview:   true,
	DecisionPass:     true,
}

// RefundSource records whether the refund amount came from the allocation
// table or from the reasoning service's own estimate.
type RefundSource string

const (
	RefundCalculated RefundSource = "calculated"
	RefundEstimated  RefundSource = "estimated"
)

// ReasoningBlock is the structured audit trail a decision must carry: which
// invoice was verified, where the goods shipped, and which line item matched.
type ReasoningBlock struct {
	InvoiceVerified string `json:"invoice_verified"`
	ShipTo          string `json:"ship_to"`
	LineItem        string `json:"line_item"`
}

// DecisionRecord is the candidate output for one row. Produced by the
// reasoning service, mutated only by the orchestrator's normalization step,
// terminal once accepted or replaced by a fallback record.
type DecisionRecord struct {
	ProductDescription string          `json:"product_description"`
	ProductType        string          `json:"product_type,omitempty"`
	RefundBasis        string          `json:"refund_basis,omitempty"`
	Citation           string          `json:"citation,omitempty"`
	CitationSource     string          `json:"citation_source,omitempty"`
	Confidence         *float64        `json:"confidence,omitempty"`
	EstimatedRefund    *float64        `json:"estimated_refund,omitempty"`
	RefundSource       RefundSource    `json:"refund_source,omitempty"`
	FinalDecision      FinalDecision   `json:"final_decision"`
	Explanation        string          `json:"explanation,omitempty"`
	Methodology        string          `json:"methodology,omitempty"`
	Reasoning          *ReasoningBlock `json:"reasoning,omitempty"`
	ReviewFlags        []string        `json:"review_flags,omitempty"`
}

// RateValidation is the outcome of checking a row's charged rate and tax
// arithmetic. Computed fresh per row, carried only inside the row event and
// the decision's review flags.
type RateValidation struct {
	Jurisdiction    string   `json:"jurisdiction"`
	ChargedRate     float64  `json:"charged_rate"`
	NearestRate     *float64 `json:"nearest_rate,omitempty"`
	NearestLocation string   `json:"nearest_location,omitempty"`
	Variance        *float64 `json:"variance,omitempty"`
	RateOK          bool     `json:"rate_ok"`
	TaxCalcOK       bool     `json:"tax_calc_ok"`
	Message         string   `json:"message"`
}
