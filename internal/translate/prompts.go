package translate

import "fmt"

// Placeholder values the model sometimes echoes back from the prompt template.
const (
	placeholderEtymology = "brief origin"
	placeholderNote      = "brief usage note"
)

const translationPromptTemplate = `Translate %[2]s word "%[1]s" to %[3]s.

IMPORTANT: Respond with ONLY the JSON object, no markdown formatting, no code blocks, no explanations.

{"word":"%[1]s","translation":"%[3]s translation","partOfSpeech":"noun/verb/adj","difficulty":"beginner/intermediate/advanced","examples":["example1","example2"],"etymology":"brief origin"}`

const analysisPromptTemplate = `Analyze %[2]s "%[1]s".

IMPORTANT: Respond with ONLY the JSON object, no markdown formatting, no code blocks, no explanations.

{"partOfSpeech":"noun/verb/adj","case":"nom/part/gen/null","difficulty":"beginner/intermediate/advanced","note":"brief usage note","examples":["example1","example2"],"etymology":"brief origin"}`

func translationPrompt(word, source, target string) string {
	return fmt.Sprintf(translationPromptTemplate, word, source, target)
}

func analysisPrompt(word, source string) string {
	return fmt.Sprintf(analysisPromptTemplate, word, source)
}
