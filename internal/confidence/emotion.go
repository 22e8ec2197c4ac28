package confidence

import "strings"

// Emotion is the detected emotional coloring of one text.
type Emotion struct {
	Primary   string // joy, excitement, anger, fear, sadness, surprise or neutral
	Intensity string // low, medium or high
}

// EmotionAnalyzer detects the dominant emotion of a text. Implementations
// must be deterministic: the scorer is a pure function over its inputs.
type EmotionAnalyzer interface {
	Analyze(text string) (Emotion, error)
}

// Neutral is returned when no emotional signal is found.
const Neutral = "neutral"

// emotionOrder fixes the tie-break sequence so equal lexicon scores always
// resolve the same way.
var emotionOrder = []string{"joy", "excitement", "anger", "fear", "sadness", "surprise"}

var emotionLexicon = map[string][]string{
	"joy":        {"happy", "joy", "glad", "wonderful", "love", "smile", "laugh", "celebrate", "delight"},
	"excitement": {"excited", "amazing", "awesome", "incredible", "finally", "adventure", "legendary"},
	"anger":      {"angry", "furious", "rage", "hate", "damn", "revenge", "destroy", "traitor"},
	"fear":       {"afraid", "fear", "scared", "terrified", "danger", "beware", "monster", "doom"},
	"sadness":    {"sad", "sorrow", "crying", "tears", "grief", "farewell", "alone", "mourn"},
	"surprise":   {"surprise", "unexpected", "suddenly", "unbelievable", "impossible", "behold"},
}

var intensifierWords = []string{"very", "so ", "extremely", "absolutely", "utterly", "completely", "truly"}

// LexiconAnalyzer scores a small keyword lexicon against the lower-cased
// text. Intensity comes from exclamation density plus intensifier words.
type LexiconAnalyzer struct{}

func NewLexiconAnalyzer() *LexiconAnalyzer {
	return &LexiconAnalyzer{}
}

func (a *LexiconAnalyzer) Analyze(text string) (Emotion, error) {
	lower := strings.ToLower(text)

	scores := make(map[string]int, len(emotionLexicon))
	for emotion, words := range emotionLexicon {
		for _, word := range words {
			if strings.Contains(lower, word) {
				scores[emotion]++
			}
		}
	}

	primary := Neutral
	best := 0
	for _, emotion := range emotionOrder {
		if scores[emotion] > best {
			primary, best = emotion, scores[emotion]
		}
	}

	return Emotion{Primary: primary, Intensity: intensityOf(lower)}, nil
}

func intensityOf(lower string) string {
	signal := strings.Count(lower, "!")
	for _, word := range intensifierWords {
		if strings.Contains(lower, word) {
			signal++
		}
	}

	switch {
	case signal == 0:
		return "low"
	case signal <= 2:
		return "medium"
	default:
		return "high"
	}
}

// relatedEmotions pairs emotions that translations commonly drift between
// without losing the scene's meaning.
var relatedEmotions = map[[2]string]bool{
	{"joy", "excitement"}:      true,
	{"excitement", "joy"}:      true,
	{"anger", "fear"}:          true,
	{"fear", "anger"}:          true,
	{"sadness", "fear"}:        true,
	{"fear", "sadness"}:        true,
	{"surprise", "excitement"}: true,
	{"excitement", "surprise"}: true,
}

func emotionsRelated(a, b string) bool {
	return relatedEmotions[[2]string{a, b}]
}
