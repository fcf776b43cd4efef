// Package extract isolates one speaker's messages from a raw chat export.
//
// The expected line shape is the WhatsApp text-export format:
//
//	12/04/2023, 5:22 pm - Raykay: message text
//
// Lines that don't carry both the timestamp separator and the speaker
// separator are skipped silently; a chat export is noisy by nature and
// individual unparsable lines are not worth surfacing.
package extract

import "strings"

// minTokens is the smallest number of whitespace-separated tokens a line
// must have to be kept. Single-word utterances ("ok", "lol") carry almost
// no persona signal and drown out the useful lines.
const minTokens = 2

// SpeakerLines scans a raw export and returns the messages attributed to
// speakerName, compared case-insensitively. If attribution yields nothing
// (wrong name, unknown export format), it falls back to every multi-token
// line in the export so bot creation still has something to work with,
// at lower fidelity. The result is empty only when the export itself has
// no multi-token line at all.
func SpeakerLines(rawText, speakerName string) []string {
	want := strings.ToLower(strings.TrimSpace(speakerName))

	var lines []string
	for _, line := range strings.Split(rawText, "\n") {
		_, rest, ok := strings.Cut(line, "-")
		if !ok {
			continue
		}
		speaker, content, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		speaker = strings.ToLower(strings.TrimSpace(speaker))
		content = strings.TrimSpace(content)
		if speaker == want && len(strings.Fields(content)) >= minTokens {
			lines = append(lines, content)
		}
	}

	if len(lines) == 0 {
		lines = AllMultiTokenLines(rawText)
	}
	return lines
}

// AllMultiTokenLines collects every line of the export with more than one
// token, regardless of who said it. Used as the degraded fallback when
// speaker attribution finds nothing.
func AllMultiTokenLines(rawText string) []string {
	var lines []string
	for _, line := range strings.Split(rawText, "\n") {
		if len(strings.Fields(line)) >= minTokens {
			lines = append(lines, strings.TrimSpace(line))
		}
	}
	return lines
}
