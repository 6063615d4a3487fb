// Package gemini implements script analysis and prompt refinement against
// the Gemini generateContent API. Multiple API keys rotate round-robin, and
// quota errors advance to the next key before the backoff retry.
package gemini
