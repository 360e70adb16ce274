package extract

import (
	"fmt"
	"strings"
)

// System prompt for structured credit agreement extraction.
const systemPrompt = `You are a credit agreement extraction system. Extract a structured record from the provided agreement text.

RULES:
1. Extract ONLY facts explicitly stated in the text - never infer or assume
2. Omit any field the text does not state (use null or leave it out)
3. Dates must be formatted as YYYY-MM-DD
4. Currency codes must be 3-letter ISO codes (USD, EUR, GBP)
5. Return ONLY the JSON object, no additional text

JSON SCHEMA:
{
  "agreement_title": "full title of the agreement",
  "agreement_date": "YYYY-MM-DD",
  "effective_date": "YYYY-MM-DD",
  "maturity_date": "YYYY-MM-DD",
  "governing_law": "governing jurisdiction",
  "currency": "ISO currency code",
  "total_commitments": {"amount": 500000000, "currency": "USD"},
  "purpose": "stated purpose of the credit",
  "parties": [
    {"name": "legal entity name", "role": "Borrower|Lender|Agent|Arranger|Guarantor", "lei": "LEI if stated", "jurisdiction": "place of incorporation", "address": "notice address"}
  ],
  "facilities": [
    {"name": "facility name as defined", "type": "term loan|revolving|letter of credit", "commitment": {"amount": 250000000, "currency": "USD"}, "currency": "ISO code", "maturity_date": "YYYY-MM-DD", "margin": 2.25}
  ]
}`

// buildChunkPrompt renders the per-chunk extraction prompt. The model sees
// the section label when the chunker captured one, and is told the text is
// an excerpt so missing fields are expected.
func buildChunkPrompt(text, section, feedback string) string {
	var sb strings.Builder
	sb.WriteString("The following is an excerpt from a larger credit agreement.")
	if section != "" {
		fmt.Fprintf(&sb, " It comes from the section %q.", section)
	}
	sb.WriteString(" Extract every field the excerpt states and omit the rest.\n\n---\n")
	sb.WriteString(text)
	sb.WriteString("\n---\n\nReturn JSON matching the schema.")
	appendFeedback(&sb, feedback)
	return sb.String()
}

// buildDocumentPrompt renders the single-pass whole-document prompt.
func buildDocumentPrompt(text, feedback string) string {
	var sb strings.Builder
	sb.WriteString("Extract the structured record from this credit agreement:\n\n---\n")
	sb.WriteString(text)
	sb.WriteString("\n---\n\nReturn JSON matching the schema.")
	appendFeedback(&sb, feedback)
	return sb.String()
}

func appendFeedback(sb *strings.Builder, feedback string) {
	if feedback == "" {
		return
	}
	sb.WriteString("\n\n")
	sb.WriteString(feedback)
}
