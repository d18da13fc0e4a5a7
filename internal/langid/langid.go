// Package langid provides language detection behind a small Detector
// interface. The builtin detector scores languages by stop-word frequency;
// external model backends (e.g. a FastText binding) register a loader and
// are resolved by name.
package langid

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Prediction is a ranked list of language codes with confidence scores.
type Prediction struct {
	Names  []string
	Scores []float64
}

// Detector identifies the language of a piece of text, returning up to k
// predictions ordered by descending confidence.
type Detector interface {
	Detect(text string, k int) (Prediction, error)
}

// Unknown is the prediction emitted for empty or undetectable input.
func Unknown() Prediction {
	return Prediction{Names: []string{"unknown"}, Scores: []float64{0.0}}
}

// EnglishStopWords is the English function-word set used for stop-word
// counting and detection.
var EnglishStopWords = map[string]struct{}{
	"the": {}, "be": {}, "to": {}, "of": {}, "and": {}, "that": {}, "have": {}, "with": {},
}

// GermanStopWords covers articles, pronouns, prepositions, modal and
// auxiliary verbs, common adverbs, and discourse particles.
var GermanStopWords = map[string]struct{}{
	"der": {}, "die": {}, "das": {}, "den": {}, "dem": {}, "des": {},
	"ein": {}, "eine": {}, "einen": {}, "einem": {}, "einer": {},
	"und": {}, "oder": {}, "aber": {},
	"ist": {}, "sind": {}, "hat": {}, "haben": {}, "wird": {}, "werden": {},
	"von": {}, "zu": {}, "mit": {}, "in": {}, "auf": {}, "für": {}, "bei": {},
	"nach": {}, "vor": {}, "über": {}, "unter": {}, "durch": {}, "gegen": {},
	"ohne": {}, "um": {},
	"ich": {}, "du": {}, "er": {}, "sie": {}, "es": {}, "wir": {}, "ihr": {},
	"sich": {}, "sein": {}, "seine": {}, "ihrer": {}, "ihren": {}, "mich": {}, "dich": {},
	"nicht": {}, "auch": {}, "nur": {}, "noch": {}, "schon": {},
	"dass": {}, "wenn": {}, "als": {}, "wie": {},
	"an": {}, "am": {}, "im": {}, "ins": {}, "zum": {}, "zur": {}, "vom": {}, "beim": {},
	"was": {}, "wer": {}, "wo": {}, "wann": {}, "warum": {}, "welche": {}, "welcher": {},
	"alle": {}, "viele": {}, "einige": {}, "andere": {}, "jede": {}, "jeden": {}, "jeder": {},
	"kann": {}, "könnte": {}, "muss": {}, "soll": {}, "will": {}, "würde": {},
	"hier": {}, "dort": {}, "da": {}, "dann": {}, "jetzt": {}, "heute": {},
	"sehr": {}, "mehr": {}, "weniger": {}, "ganz": {}, "gar": {}, "etwa": {},
	"ja": {}, "nein": {}, "doch": {}, "so": {}, "also": {}, "nun": {}, "mal": {},
}

// StopWords returns the stop-word set for a supported language code.
func StopWords(language string) (map[string]struct{}, bool) {
	switch language {
	case "en":
		return EnglishStopWords, true
	case "de":
		return GermanStopWords, true
	default:
		return nil, false
	}
}

// StopWordDetector scores languages by the fraction of words found in each
// language's stop-word set.
type StopWordDetector struct{}

// Detect implements Detector.
func (StopWordDetector) Detect(text string, k int) (Prediction, error) {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return Unknown(), nil
	}

	type score struct {
		lang string
		hits int
	}
	scores := []score{{lang: "en"}, {lang: "de"}}
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if _, ok := EnglishStopWords[w]; ok {
			scores[0].hits++
		}
		if _, ok := GermanStopWords[w]; ok {
			scores[1].hits++
		}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].hits > scores[j].hits })

	if scores[0].hits == 0 {
		return Unknown(), nil
	}
	if k <= 0 {
		k = 1
	}
	pred := Prediction{}
	for _, s := range scores {
		if len(pred.Names) >= k {
			break
		}
		pred.Names = append(pred.Names, s.lang)
		pred.Scores = append(pred.Scores, float64(s.hits)/float64(len(words)))
	}
	return pred, nil
}

// Loader constructs a Detector from a model path.
type Loader func(modelPath string) (Detector, error)

var (
	loadersMu sync.RWMutex
	loaders   = map[string]Loader{}

	cacheMu sync.Mutex
	cache   = map[string]Detector{}
)

// RegisterLoader makes a named detector backend available to taggers.
func RegisterLoader(name string, loader Loader) {
	loadersMu.Lock()
	defer loadersMu.Unlock()
	loaders[name] = loader
}

// Load resolves a named backend, caching detectors by (name, model path) so
// each worker constructs a model at most once.
func Load(name, modelPath string) (Detector, error) {
	if name == "" || name == "stopwords" {
		return StopWordDetector{}, nil
	}

	cacheMu.Lock()
	defer cacheMu.Unlock()
	key := name + "\x00" + modelPath
	if d, ok := cache[key]; ok {
		return d, nil
	}

	loadersMu.RLock()
	loader, ok := loaders[name]
	loadersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no detector backend registered under %q", name)
	}
	d, err := loader(modelPath)
	if err != nil {
		return nil, err
	}
	cache[key] = d
	return d, nil
}
