package logger

// RedactHandle masks a platform username for safe logging.
// "thecoffeeguy" → "th***"
// Short handles (≤2 chars) are fully masked: "ab" → "***"
func RedactHandle(handle string) string {
	if len(handle) > 2 {
		return handle[:2] + "***"
	}
	return "***"
}

// RedactText truncates free-form user text so log lines never carry
// full comment or message bodies.
func RedactText(text string) string {
	const keep = 12
	if len(text) <= keep {
		return text
	}
	return text[:keep] + "…[truncated]"
}
