package analyze

import (
	"fmt"
	"strings"

	"github.com/meridian-tax/refund-cli/internal/model"
	"github.com/meridian-tax/refund-cli/internal/rules"
)

// systemPrompt frames every reasoning call.
const systemPrompt = `You are a Texas sales and use tax analyst. You review one purchase
transaction at a time, together with extracted invoice text and retrieved
legal authority, and decide whether the tax paid is refundable.

You respond with a single JSON object and nothing else. Decisions must be
grounded in the provided evidence; if the evidence does not support a
determination, use "REVIEW". Cite only Texas Tax Code chapter 151 sections
or Comptroller rules (34 TAC chapter 3); never invent authority.`

// responseSchema describes the JSON object the service must return.
const responseSchema = `Respond with exactly one JSON object:
{
  "product_description": "what was purchased, from the invoice line item",
  "product_type": "category, e.g. manufacturing equipment",
  "refund_basis": "why tax is or is not refundable",
  "citation": "Tex. Tax Code §151.NNN or 34 TAC §3.NNN, empty if none applies",
  "citation_source": "where the citation came from",
  "confidence": 0.0 to 1.0,
  "estimated_refund": dollar amount, 0 if none,
  "final_decision": "REFUND" | "NO REFUND" | "REVIEW" | "PASS",
  "explanation": "plain-language rationale",
  "methodology": "allocation methodology name, empty if not applicable",
  "reasoning": {
    "invoice_verified": "INVOICE VERIFIED: which invoice you matched",
    "ship_to": "SHIP-TO: destination shown on the invoice",
    "line_item": "LINE ITEM: the line item you analyzed"
  }
}`

// buildPrompt renders the evidence bundle into the reasoning request.
func buildPrompt(ev *model.RowEvidence) string {
	var sb strings.Builder

	sb.WriteString("Analyze this transaction for sales tax refund eligibility.\n\n")
	sb.WriteString("## Transaction\n")
	fmt.Fprintf(&sb, "Vendor: %s\n", ev.Vendor)
	fmt.Fprintf(&sb, "Description: %s\n", ev.Description)
	fmt.Fprintf(&sb, "Tax amount: $%.2f\n", ev.TaxAmount)
	if ev.TaxBase != nil {
		fmt.Fprintf(&sb, "Tax base: $%.2f\n", *ev.TaxBase)
	}
	if ev.Rate != nil {
		fmt.Fprintf(&sb, "Charged rate: %.4f\n", *ev.Rate)
	}
	if ev.Jurisdiction != "" {
		fmt.Fprintf(&sb, "Jurisdiction: %s\n", ev.Jurisdiction)
	}
	if ev.InvoiceNumber != "" {
		fmt.Fprintf(&sb, "Invoice number: %s\n", ev.InvoiceNumber)
	}
	if ev.PONumber != "" {
		fmt.Fprintf(&sb, "PO number: %s\n", ev.PONumber)
	}

	if len(ev.Invoices) > 0 {
		sb.WriteString("\n## Invoice text\n")
		for _, inv := range ev.Invoices {
			fmt.Fprintf(&sb, "### %s (extraction: %s)\n", inv.Filename, inv.Method)
			if inv.TextPreview != "" {
				sb.WriteString(inv.TextPreview)
				sb.WriteString("\n")
			} else {
				sb.WriteString("(no text recovered)\n")
			}
		}
	} else {
		sb.WriteString("\n## Invoice text\nNo invoice documents were found for this row.\n")
	}

	if len(ev.LegalContext) > 0 {
		sb.WriteString("\n## Retrieved legal context\n")
		for _, chunk := range ev.LegalContext {
			if chunk.Citation != "" {
				fmt.Fprintf(&sb, "- [%s] (%.2f) %s\n", chunk.Citation, chunk.Score, chunk.Text)
			} else {
				fmt.Fprintf(&sb, "- (%.2f) %s\n", chunk.Score, chunk.Text)
			}
		}
	}

	if ev.Profile != nil {
		sb.WriteString("\n## Vendor history\n")
		fmt.Fprintf(&sb, "%d prior rows analyzed, refund rate %.0f%%",
			ev.Profile.RowsAnalyzed, ev.Profile.RefundRate*100)
		if ev.Profile.CommonProduct != "" {
			fmt.Fprintf(&sb, ", typically %s", ev.Profile.CommonProduct)
		}
		sb.WriteString("\n")
	}

	if len(ev.Warnings) > 0 {
		sb.WriteString("\n## Evidence warnings\n")
		for _, w := range ev.Warnings {
			fmt.Fprintf(&sb, "- %s\n", w)
		}
	}

	sb.WriteString("\n")
	sb.WriteString(responseSchema)
	return sb.String()
}

// buildRetryPrompt extends the original prompt with the rejected output and
// its violations as explicit guidance.
func buildRetryPrompt(ev *model.RowEvidence, rejectedJSON string, violations []rules.Violation) string {
	var sb strings.Builder

	sb.WriteString(buildPrompt(ev))
	sb.WriteString("\n\n## Your previous response was rejected\n")
	sb.WriteString("Rejected output:\n")
	sb.WriteString(rejectedJSON)
	sb.WriteString("\n\nViolations to fix:\n")
	for _, v := range violations {
		fmt.Fprintf(&sb, "- %s\n", v)
	}
	sb.WriteString("\nProduce a corrected JSON object that fixes every violation.")
	return sb.String()
}
