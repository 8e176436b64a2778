package llm

import "strings"

// buildExtractionPrompt wraps statement text in extraction instructions.
func buildExtractionPrompt(text string) string {
	var b strings.Builder
	b.WriteString("You are a financial statement parser.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Find ALL transactions in the bank statement text below.\n")
	b.WriteString("- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n")
	b.WriteString("- Output a JSON array of objects.\n\n")
	b.WriteString("Each object must have these fields:\n")
	b.WriteString("- \"date\": string, ISO format \"YYYY-MM-DD\"\n")
	b.WriteString("- \"description\": string\n")
	b.WriteString("- \"amount\": number (positive for money IN, negative for money OUT)\n")
	b.WriteString("- \"category\": string or null (a short spending category such as \"Groceries\")\n")
	b.WriteString("- \"currency\": string or null (ISO 4217 code when shown)\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- If the statement has separate \"paid out\" / \"paid in\" columns, convert to a single signed \"amount\".\n")
	b.WriteString("- Skip opening and closing balance lines; they are not transactions.\n")
	b.WriteString("- Return ONLY valid raw JSON. Do NOT wrap the response in code fences.\n")
	b.WriteString("- Output must begin with \"[\" and end with \"]\".\n\n")
	b.WriteString("Statement text:\n")
	b.WriteString(text)
	return b.String()
}
