package orchestrator

import (
	"fmt"
	"strings"

	"waveq/internal/audio"
	"waveq/internal/queue"
	"waveq/internal/services"
)

// Intent names the kind of workflow a request asks for.
type Intent string

const (
	IntentPodcastProduction Intent = "podcast_production"
	IntentVoiceEnhancement  Intent = "voice_enhancement"
	IntentMusicProduction   Intent = "music_production"
	IntentTranscriptionOnly Intent = "transcription_only"
	IntentVoiceCloning      Intent = "voice_cloning"
	IntentCustom            Intent = "custom"
)

var allIntents = []Intent{
	IntentPodcastProduction,
	IntentVoiceEnhancement,
	IntentMusicProduction,
	IntentTranscriptionOnly,
	IntentVoiceCloning,
	IntentCustom,
}

// podcastMinSeconds is the duration above which speech is treated as a podcast.
const podcastMinSeconds = 300

// Intents returns the closed set of intents.
func Intents() []Intent {
	return append([]Intent(nil), allIntents...)
}

// ParseIntent converts a string into an Intent.
func ParseIntent(value string) (Intent, error) {
	candidate := Intent(strings.ToLower(strings.TrimSpace(value)))
	for _, intent := range allIntents {
		if intent == candidate {
			return intent, nil
		}
	}
	return "", services.Wrap(services.ErrValidation, "orchestrator", "parse intent", fmt.Sprintf("unknown intent %q", value), nil)
}

// AudioMetadata is the probed description of an input.
type AudioMetadata = audio.Metadata

// UserHints carries optional caller guidance for classification.
type UserHints struct {
	Operation string `json:"operation,omitempty"`
}

// Classify picks the workflow intent for an input. An operation hint wins
// over metadata when it names an operation exactly; hints are case sensitive.
// Otherwise long inputs are podcasts and everything else is voice
// enhancement.
func Classify(meta AudioMetadata, hints *UserHints) Intent {
	if hints != nil {
		switch queue.Operation(hints.Operation) {
		case queue.OperationTranscribe:
			return IntentTranscriptionOnly
		case queue.OperationSeparate:
			return IntentMusicProduction
		case queue.OperationTTS:
			return IntentVoiceCloning
		}
	}
	if meta.Duration > podcastMinSeconds {
		return IntentPodcastProduction
	}
	return IntentVoiceEnhancement
}
