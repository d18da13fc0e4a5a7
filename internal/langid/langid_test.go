package langid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopWordDetectorEnglish(t *testing.T) {
	pred, err := StopWordDetector{}.Detect(
		"the cat sat on the mat and stared at the door to have a nap with great resolve", 1)
	require.NoError(t, err)
	require.NotEmpty(t, pred.Names)
	assert.Equal(t, "en", pred.Names[0])
	assert.Greater(t, pred.Scores[0], 0.0)
}

func TestStopWordDetectorGerman(t *testing.T) {
	pred, err := StopWordDetector{}.Detect(
		"der hund läuft durch die stadt und bellt bei jedem auto das er sieht", 2)
	require.NoError(t, err)
	require.NotEmpty(t, pred.Names)
	assert.Equal(t, "de", pred.Names[0])
	assert.Len(t, pred.Names, 2)
}

func TestStopWordDetectorUnknown(t *testing.T) {
	for _, text := range []string{"", "   ", "zzz qqq xxx yyy"} {
		pred, err := StopWordDetector{}.Detect(text, 1)
		require.NoError(t, err)
		assert.Equal(t, Unknown(), pred)
	}
}

func TestStopWordSets(t *testing.T) {
	en, ok := StopWords("en")
	require.True(t, ok)
	assert.Len(t, en, 8)

	de, ok := StopWords("de")
	require.True(t, ok)
	assert.Len(t, de, 105)

	_, ok = StopWords("fr")
	assert.False(t, ok)
}

func TestLoadDefaultsToStopwords(t *testing.T) {
	d, err := Load("", "")
	require.NoError(t, err)
	_, ok := d.(StopWordDetector)
	assert.True(t, ok)
}

func TestLoadUnknownBackend(t *testing.T) {
	_, err := Load("fasttext-missing", "model.bin")
	assert.Error(t, err)
}

type fakeDetector struct{ calls int }

func (f *fakeDetector) Detect(string, int) (Prediction, error) {
	return Prediction{Names: []string{"xx"}, Scores: []float64{1}}, nil
}

func TestLoadCachesByKey(t *testing.T) {
	built := 0
	RegisterLoader("fake", func(path string) (Detector, error) {
		built++
		return &fakeDetector{}, nil
	})

	a, err := Load("fake", "model-a")
	require.NoError(t, err)
	b, err := Load("fake", "model-a")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, built)

	_, err = Load("fake", "model-b")
	require.NoError(t, err)
	assert.Equal(t, 2, built)
}

func TestLoadPropagatesLoaderError(t *testing.T) {
	RegisterLoader("broken", func(string) (Detector, error) {
		return nil, errors.New("download failed")
	})
	_, err := Load("broken", "x")
	assert.Error(t, err)
}
