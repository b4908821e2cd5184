package generator

import "strings"

// Prompt templates use {placeholder} substitution. Values are injected
// in a single pass, so placeholder-shaped text inside document content
// is never re-expanded.

const basePrompt = `
You are an AI assistant that generates responses from the **numbered context** below. As you respond, cite [line_number] to show where you're drawing information from. You must select all the lines that are relevant to the response.

For multiple citations use [56][12] (e.g. separate brackets). Ranges like [56-58] are only allowed for purely numeric line citations. Never use ranges for Excel citations like [57K].

1. CONTEXT INFORMATION
    • Date: {context_date}
    • Project: {project_description}
    • Template: {template_description}

2. SECTION TO ANSWER
    • Name: {section_name}
    • Description: {section_description}

    • Follow any instructions in the description.

3. HOW TO USE THE CONTEXT
    • The context is numbered sentences from source documents.
    • You may
        ▸ Summarize facts. Combine facts. Perform calculations. Sequence events or infer simple causality when every piece is present.
        ▸ **Formula calculations:**
            • When the section requires an answer that is computed from a formula, calculate it yourself using values from the context. Show your calculation explicitly with all components and their values.
        ▸ **Temporal validation:**
            • When computing financial ratios, make sure all numerator/denominator components come from the **same reporting period**.
        ▸ **Ambiguity handling:**
            • Always note conflicts when values materially differ. Rounding differences do NOT count as conflicts.
    • Do **not** fabricate or guess beyond what the context provides. **CRITICAL**: A partial answer is ALWAYS better than "No data available".
`

const previousSectionsBlock = `
**PREVIOUS SECTIONS**
{previous_sections}

    • **CRITICAL**: Only cite the numbered context below. NEVER cite previous sections.
`

const textPrompt = `
4. FORMAT THE ANSWER
    • Show calculations step-by-step when applicable (e.g., "($15.2B - $12.1B) / $12.1B = 25.6%").
    • **Cite after each statement**:
      ✓ CORRECT: YouTube had 12.8% share. [340] Meta had lower share. [341]
      ✗ WRONG: YouTube had 12.8% share, surpassing Meta. [340][341]

5. CONTEXT
{numbered_context}
`

const tablePrompt = `
4. OUTPUT FORMAT: STRUCTURED JSON TABLE
    • **ALWAYS** return a structured JSON object with rows and cells.

5. JSON STRUCTURE
    • Use descriptive headers based on actual data (e.g., "Q2 2024", "Revenue", "YoY Change (%)").
    • Include units in headers when relevant (e.g., "Revenue ($ millions)").

    Return **exactly** this schema:

{
  "rows": [
    {
      "cells": [
        { "text": "Metric", "tags": [] },
        { "text": "Q2 2024", "tags": [] },
        { "text": "Q2 2023", "tags": [] }
      ]
    },
    {
      "cells": [
        { "text": "Revenue", "tags": [] },
        { "text": "$47.5B", "tags": ["122", "124"] },
        { "text": "$39.1B", "tags": ["308"] }
      ]
    }
  ]
}

6. CITATION GUIDELINES
    • Headers and labels: empty "tags": []
    • Data cells: include citation tags "tags": ["122", "208"]
    • Use ranges only for consecutive numeric lines.
    • No inline citations in text content.

7. NO DATA FORMAT
    Only if ZERO relevant data exists:

{
  "rows": [
    { "cells": [{ "text": "Item", "tags": [] }, { "text": "Value", "tags": [] }] },
    { "cells": [{ "text": "No data available", "tags": [] }, { "text": "No data available", "tags": [] }] }
  ]
}

8. CONSTRAINTS
    • Do **not** add commentary or mention reasoning.
    • Ensure valid JSON.

9. CONTEXT
{numbered_context}
`

const chartPrompt = `
4. OUTPUT FORMAT: JSON TABLE + CHART TYPE
    • **ALWAYS** return a structured JSON object with rows, cells, and "suggested_chart_type".

5. JSON STRUCTURE
    • Row 0 = headers, Row 1+ = data
    • **Column 0** → X-axis (category labels like "Revenue", "Q1 2024", "North America")
    • **Columns 1+** → Y-axis series (numeric values, each column = one bar/line in legend)
    • Numbers can include symbols ($, %, B, M) - they will be parsed automatically.

    Return **exactly** this schema:

{
  "rows": [
    {
      "cells": [
        { "text": "Metric", "tags": [] },
        { "text": "Q2 2024", "tags": [] },
        { "text": "Q2 2023", "tags": [] }
      ]
    },
    {
      "cells": [
        { "text": "Revenue", "tags": [] },
        { "text": "$47.5B", "tags": ["122", "124"] },
        { "text": "$39.1B", "tags": ["308"] }
      ]
    }
  ],
  "suggested_chart_type": "bar"
}

6. CHART TYPE (required)
    Choose ONE: **"bar"** | **"line"** | **"pie"** | **"area"**

    • **bar** - comparisons, market share, discrete categories
    • **line** - trends over time, time series
    • **pie** - percentage breakdowns (2-7 categories)
    • **area** - cumulative values, stacked comparisons

7. CITATION GUIDELINES
    • Headers and labels: empty "tags": []
    • Data cells: include citation tags "tags": ["122", "208"]

8. NO DATA FORMAT
    Only if ZERO relevant data exists:

{
  "rows": [
    { "cells": [{ "text": "Item", "tags": [] }, { "text": "Value", "tags": [] }] },
    { "cells": [{ "text": "No data available", "tags": [] }, { "text": "No data available", "tags": [] }] }
  ],
  "suggested_chart_type": "bar"
}

9. CONSTRAINTS
    • Do **not** add commentary or mention reasoning.
    • Ensure valid JSON.

10. CONTEXT
{numbered_context}
`

const analysisPrompt = `
You are an evidence auditor predicting whether an AI can answer a section from the given context.

1. THE TASK
An AI will answer the section below using ONLY the numbered context - no external knowledge, no assumptions.
Your job: Predict if it can answer, or will have to say "Cannot be answered".

2. SECTION TO ANSWER
• Name: {section_name}
• Description: {section_description}

3. PROJECT CONTEXT
• Date: {context_date}
• Project: {project_description}
• Template: {template_description}

4. NUMBERED CONTEXT
{numbered_context}

5. DRAFT RESPONSE
The answer produced from this context, shown for reference:
{response}

6. IDENTIFY REQUIRED DATA POINTS
Based on the section description, list the SPECIFIC data points needed:
- For financial metrics: exact numbers, time periods, company names
- For breakdowns: each component with its value
- For comparisons: values for each item being compared
- For trends: at least 2 data points across time

7. CHECK EACH DATA POINT
For each required data point, check if it is EXPLICITLY stated in the context with a citable line number.
- Present = the exact value appears in the context
- Missing = the value is not stated, or only vaguely referenced

8. SCORE BASED ON WHAT THE AI CAN ACTUALLY EXTRACT

SCORING (be strict):
• 90-100: ALL data points present with citable line numbers → complete answer
• 70-89: MOST present (>75%) → answer with minor gaps
• 40-69: SOME present (<75%) → partial answer with gaps
• 0-39: NONE present → "No data available"

**CRITICAL**: Missing specific numbers (revenue, costs, percentages) = score below 40. Topic relevance alone is NOT sufficient.

9. SEARCH QUERIES (if score < 90)
Propose specific searches for missing data points. Include company names, metrics, time periods.

10. OUTPUT FORMAT
Return ONLY this JSON:

{
  "sufficiency_score": <0-100>,
  "search_queries": [
    {
      "query": "<precise search query targeting missing data>",
      "reason": "<what specific data point this should find>",
      "priority": "high" | "medium" | "low"
    }
  ],
  "summary": "<1-2 sentences: what can vs cannot be answered>"
}

If score >= 90, return empty search_queries.
`

const intakePrompt = `Extract metadata as JSON:

{
  "company": "company name or null",
  "ticker": "stock symbol or null",
  "doc_type": "10-K, 10-Q, 8-K, earnings_release, earnings_call, investor_presentation, equity_research, financial_model, merger_agreement, press_release, industry_report, website_content, cim, pitch_deck, other, or null",
  "period_label": "time period (Q1 2025, FY 2024, etc.) or null",
  "blurb": "2-3 sentence summary with key metrics"
}

DOCUMENT:
{document_text}
`

// expand substitutes {name} placeholders in one pass.
func expand(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
