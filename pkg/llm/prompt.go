package llm

import "fmt"

// systemPrompt instructs the model to reply with a single JSON decision
// object. Conservative by construction: insufficient data means no
// trigger.
const systemPrompt = `You are a professional event analysis assistant. Your task is to analyze events and determine whether they match user-defined rules.

You will receive:
1. A user-defined rule description
2. Historical context (recent events in a time window)
3. Current event data

Based on this information, you need to:
1. Analyze whether the current event (combined with historical context) satisfies the user's rule
2. Provide a confidence score (0.0 to 1.0)
3. Explain your reasoning

Always respond in JSON format with the following structure:
{
  "should_trigger": true/false,
  "confidence": 0.0-1.0,
  "reason": "Detailed explanation of your decision"
}

Important guidelines:
- Be conservative: only trigger when you are reasonably confident (confidence >= 0.7)
- Consider temporal patterns when the rule involves sequences or trends
- Use specific data from the events to support your reasoning
- If the data is insufficient to make a determination, set should_trigger to false
`

const userPromptTemplate = `
## User Rule
%s

## Historical Context
%s

## Current Event
Type: %s
Time: %s
Data: %s

Please analyze whether this event satisfies the user's rule. Respond in JSON format.
`

// BuildPrompt renders the system and user messages for one evaluation.
func BuildPrompt(ruleDescription, contextSummary, eventType, eventTimestamp, eventData string) (string, string) {
	if contextSummary == "" {
		contextSummary = "No historical events in context window."
	}
	user := fmt.Sprintf(userPromptTemplate,
		ruleDescription, contextSummary, eventType, eventTimestamp, eventData)
	return systemPrompt, user
}
