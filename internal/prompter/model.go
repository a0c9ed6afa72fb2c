package prompter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
)

const (
	featureDir     = "feature"
	modelsDir      = "models"
	vocabularyFile = "vocabulary.json"
	classifierFile = "classifiers.json"
)

// Vocabulary maps feature tokens to weight indices.
type Vocabulary struct {
	Params FeatureParams  `json:"params"`
	Index  map[string]int `json:"index"`
	// DF is the number of training elements each feature occurred in,
	// aligned with Index.
	DF []int `json:"df"`
}

// vector encodes the known features of an element as indices. Values are
// implicit: every present feature weighs 1/sqrt(len).
func (v *Vocabulary) vector(features []string) []int {
	out := make([]int, 0, len(features))
	for _, f := range features {
		if i, ok := v.Index[f]; ok {
			out = append(out, i)
		}
	}
	slices.Sort(out)
	return out
}

// Classifier is a logistic model for one field path.
type Classifier struct {
	Weights   []float64 `json:"weights"`
	Bias      float64   `json:"bias"`
	Positives int       `json:"positives"`
}

// score returns the probability that the element of x belongs to the path.
func (c *Classifier) score(x []int) float64 {
	return sigmoid(c.Bias + dot(c.Weights, x))
}

func dot(w []float64, x []int) float64 {
	if len(x) == 0 {
		return 0
	}
	norm := 1 / math.Sqrt(float64(len(x)))
	var s float64
	for _, i := range x {
		s += w[i]
	}
	return s * norm
}

func sigmoid(z float64) float64 { return 1 / (1 + math.Exp(-z)) }

// Model is the trained coarse locator of one model version.
type Model struct {
	Vocabulary  *Vocabulary            `json:"-"`
	Classifiers map[string]*Classifier `json:"classifiers"`
	Samples     int                    `json:"samples"`
}

// Paths returns the field paths the model can rank, sorted.
func (m *Model) Paths() []string {
	out := make([]string, 0, len(m.Classifiers))
	for p := range m.Classifiers {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// ModelDir is where the locator files of a version live. Features go to
// its feature/ directory and classifiers to models/.
func ModelDir(cacheDir string, moldID, vid int64) string {
	return filepath.Join(cacheDir, strconv.FormatInt(moldID, 10), strconv.FormatInt(vid, 10))
}

// HasModel reports whether dir holds a complete saved model.
func HasModel(dir string) bool {
	for _, p := range []string{
		filepath.Join(dir, featureDir, vocabularyFile),
		filepath.Join(dir, modelsDir, classifierFile),
	} {
		if st, err := os.Stat(p); err != nil || !st.Mode().IsRegular() {
			return false
		}
	}
	return true
}

// Save writes the vocabulary and the classifiers under dir.
func (m *Model) Save(dir string) error {
	if m.Vocabulary == nil {
		return errors.New("save model: vocabulary missing")
	}
	if err := writeJSON(filepath.Join(dir, featureDir, vocabularyFile), m.Vocabulary); err != nil {
		return fmt.Errorf("save features: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, modelsDir, classifierFile), m); err != nil {
		return fmt.Errorf("save classifiers: %w", err)
	}
	return nil
}

// LoadModel reads the model saved under dir. Missing files yield
// ErrModelMissing.
func LoadModel(dir string) (*Model, error) {
	v := &Vocabulary{}
	if err := readJSON(filepath.Join(dir, featureDir, vocabularyFile), v); err != nil {
		return nil, err
	}
	m := &Model{}
	if err := readJSON(filepath.Join(dir, modelsDir, classifierFile), m); err != nil {
		return nil, err
	}
	m.Vocabulary = v
	for path, c := range m.Classifiers {
		if len(c.Weights) != len(v.DF) {
			return nil, fmt.Errorf("load model: classifier %s has %d weights for %d features", path, len(c.Weights), len(v.DF))
		}
	}
	return m, nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrModelMissing, path)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
