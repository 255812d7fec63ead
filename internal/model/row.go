// Package model defines the record types exchanged between pipeline stages.
package model

// ExtractionMethod identifies how invoice text was recovered.
type ExtractionMethod string

const (
	MethodDirectText          ExtractionMethod = "direct_text"
	MethodRecognitionFallback ExtractionMethod = "recognition_fallback"
	MethodSparse              ExtractionMethod = "sparse"
	MethodMissing             ExtractionMethod = "missing"
)

// InvoiceEvidence is what was recovered from one scanned invoice. Derived
// once from the filesystem and read-only afterwards.
type InvoiceEvidence struct {
	Filename    string           `json:"filename"`
	Path        string           `json:"path"`
	Method      ExtractionMethod `json:"method"`
	TextPreview string           `json:"text_preview"`
	Warnings    []string         `json:"warnings,omitempty"`
}

// RetrievedChunk is one ranked passage of legal or vendor context.
type RetrievedChunk struct {
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
	Citation string  `json:"citation,omitempty"`
	Source   string  `json:"source,omitempty"`
}

// VendorProfile summarizes a vendor's analysis history.
type VendorProfile struct {
	Vendor        string  `json:"vendor"`
	RowsAnalyzed  int     `json:"rows_analyzed"`
	RefundRate    float64 `json:"refund_rate"`
	CommonProduct string  `json:"common_product,omitempty"`
	Notes         string  `json:"notes,omitempty"`
}

// RowEvidence is the full context assembled for one transaction row before
// the reasoning call. Immutable after Build.
type RowEvidence struct {
	Dataset       string            `json:"dataset"`
	RowIndex      int               `json:"row_index"`
	Vendor        string            `json:"vendor"`
	Description   string            `json:"description"`
	TaxAmount     float64           `json:"tax_amount"`
	TaxBase       *float64          `json:"tax_base,omitempty"`
	InvoiceNumber string            `json:"invoice_number,omitempty"`
	PONumber      string            `json:"po_number,omitempty"`
	Invoices      []InvoiceEvidence `json:"invoices,omitempty"`
	Rate          *float64          `json:"rate,omitempty"`
	Jurisdiction  string            `json:"jurisdiction,omitempty"`
	LegalContext  []RetrievedChunk  `json:"legal_context,omitempty"`
	Profile       *VendorProfile    `json:"vendor_profile,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
}

// ExtractionMethods lists the method used for each attached invoice, in
// attachment order.
func (r *RowEvidence) ExtractionMethods() []ExtractionMethod {
	methods := make([]ExtractionMethod, 0, len(r.Invoices))
	for _, inv := range r.Invoices {
		methods = append(methods, inv.Method)
	}
	return methods
}
