package llm

import "fmt"

func locatePrompt(scriptWindow, recentSpeech string) string {
	return fmt.Sprintf(`You are a teleprompter sync assistant. A speaker is reading from a script but may paraphrase, skip words, or add extra details. Given the script excerpt and what they actually said, identify where in the script they currently are.

Script excerpt:
"""%s"""

What the speaker said recently (may be paraphrased):
"""%s"""

Respond with ONLY a verbatim quote of 3-5 consecutive words from the script excerpt that represents the furthest point the speaker has reached. The words must appear exactly as written in the script. Output nothing else.`, scriptWindow, recentSpeech)
}

func refinePrompt(transcript string) string {
	return fmt.Sprintf(`You are a professional script editor for a teleprompter app. The user spoke freely and the following is a raw speech-to-text transcript. Please refine it into a polished, teleprompter-ready script.

Rules:
- Remove filler words (um, uh, like, you know, so, basically, actually, right)
- Fix grammar and add proper punctuation
- Break into natural paragraphs (one idea per paragraph)
- Improve clarity and flow while preserving the speaker's original meaning, tone, and style
- Keep it conversational and natural, since it will be read aloud from a teleprompter
- Do NOT add content the speaker didn't say; only clean up what's there
- Output ONLY the refined script, nothing else

Raw transcript:
"""%s"""`, transcript)
}
