package voice

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Command is a spoken control word recognised by the voice loop.
type Command int

const (
	// CommandNone means the utterance is a problem description, not a command.
	CommandNone Command = iota
	CommandQuit
	CommandScreenshot
	CommandWebcam
)

// String implements fmt.Stringer.
func (c Command) String() string {
	switch c {
	case CommandQuit:
		return "quit"
	case CommandScreenshot:
		return "screenshot"
	case CommandWebcam:
		return "webcam"
	default:
		return "none"
	}
}

// commandThreshold is the minimum Jaro-Winkler similarity for a fuzzy
// command match. Transcription regularly mangles short words ("quit" comes
// back as "quid", "screenshot" as "screen shot"), so exact matching alone
// misses too often.
const commandThreshold = 0.88

var commandWords = map[Command][]string{
	CommandQuit:       {"quit", "exit", "goodbye", "stop"},
	CommandScreenshot: {"screenshot", "screen shot", "capture screen"},
	CommandWebcam:     {"webcam", "web cam", "camera"},
}

// MatchCommand classifies an utterance. Only short utterances are considered
// command candidates; a full sentence that happens to contain "camera" is a
// problem description.
func MatchCommand(utterance string) Command {
	text := strings.ToLower(strings.TrimSpace(utterance))
	text = strings.Trim(text, ".,!?")
	if text == "" || len(strings.Fields(text)) > 3 {
		return CommandNone
	}

	best := CommandNone
	bestScore := 0.0
	for cmd, words := range commandWords {
		for _, w := range words {
			if score := similarity(text, w); score > bestScore {
				best, bestScore = cmd, score
			}
		}
	}
	if bestScore >= commandThreshold {
		return best
	}
	return CommandNone
}

// similarity compares full strings and their space-stripped forms, keeping
// the best Jaro-Winkler score. Transcripts often split or join compounds.
func similarity(a, b string) float64 {
	score := matchr.JaroWinkler(a, b, false)
	ca := strings.ReplaceAll(a, " ", "")
	cb := strings.ReplaceAll(b, " ", "")
	if s := matchr.JaroWinkler(ca, cb, false); s > score {
		score = s
	}
	return score
}
