package prompter

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/interdoc"
)

// Sample is one labeled document.
type Sample struct {
	Reader *interdoc.Reader
	Answer *answer.Answer
}

// TrainParams controls the logistic fit.
type TrainParams struct {
	Features     FeatureParams
	Epochs       int
	LearningRate float64
	L2           float64
}

// DefaultTrainParams returns the parameters used by the training service.
func DefaultTrainParams() TrainParams {
	return TrainParams{
		Features:     DefaultFeatureParams(),
		Epochs:       200,
		LearningRate: 2,
		L2:           1e-4,
	}
}

type row struct {
	features []string
	x        []int
	labels   map[string]bool
}

// Train fits one classifier per labeled field path. Group paths are
// labeled with the union of their members. The result depends only on the
// inputs: rows keep sample order, paths and features are visited sorted
// and the fit is full-batch gradient descent from zero weights.
func Train(samples []Sample, params TrainParams) (*Model, error) {
	var rows []*row
	for _, s := range samples {
		if s.Reader == nil || s.Answer == nil {
			continue
		}
		rows = append(rows, sampleRows(s, params.Features)...)
	}
	vocab := buildVocabulary(rows, params.Features)
	paths := map[string]int{}
	for _, r := range rows {
		r.x = vocab.vector(r.features)
		for p := range r.labels {
			paths[p]++
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no labeled element in %d samples", ErrNoTrainingData, len(samples))
	}

	m := &Model{Vocabulary: vocab, Classifiers: map[string]*Classifier{}, Samples: len(samples)}
	names := make([]string, 0, len(paths))
	for p := range paths {
		names = append(names, p)
	}
	slices.Sort(names)
	for _, p := range names {
		m.Classifiers[p] = fit(rows, p, paths[p], len(vocab.DF), params)
	}
	return m, nil
}

// sampleRows featurizes every element of s and labels the ones its answer
// boxes cover.
func sampleRows(s Sample, fp FeatureParams) []*row {
	elems := candidates(s.Reader)
	byIndex := make(map[int]*row, len(elems))
	rows := make([]*row, 0, len(elems))
	for _, e := range elems {
		r := &row{features: fp.Features(s.Reader, e), labels: map[string]bool{}}
		byIndex[e.Index] = r
		rows = append(rows, r)
	}
	for _, it := range s.Answer.UserAnswer.Items {
		p, err := it.Path()
		if err != nil || len(p) < 2 {
			continue
		}
		names := p.Names()[1:]
		for _, d := range it.Data {
			for _, b := range d.Boxes {
				box := interdoc.Outline{b.Box.Left, b.Box.Top, b.Box.Right, b.Box.Bottom}
				for _, e := range s.Reader.ElementsAt(b.Page, box) {
					r, ok := byIndex[e.Index]
					if !ok {
						continue
					}
					for depth := 1; depth <= len(names); depth++ {
						r.labels[joinPath(names[:depth])] = true
					}
				}
			}
		}
	}
	return rows
}

func buildVocabulary(rows []*row, fp FeatureParams) *Vocabulary {
	df := map[string]int{}
	for _, r := range rows {
		for _, f := range r.features {
			df[f]++
		}
	}
	keys := make([]string, 0, len(df))
	for f, n := range df {
		if n >= fp.MinDF {
			keys = append(keys, f)
		}
	}
	slices.SortFunc(keys, func(a, b string) int {
		if d := cmp.Compare(df[b], df[a]); d != 0 {
			return d
		}
		return cmp.Compare(a, b)
	})
	if fp.MaxFeatures > 0 && len(keys) > fp.MaxFeatures {
		keys = keys[:fp.MaxFeatures]
	}
	slices.Sort(keys)
	v := &Vocabulary{Params: fp, Index: make(map[string]int, len(keys)), DF: make([]int, len(keys))}
	for i, f := range keys {
		v.Index[f] = i
		v.DF[i] = df[f]
	}
	return v
}

// fit runs balanced logistic regression for one path.
func fit(rows []*row, path string, positives, dim int, params TrainParams) *Classifier {
	n := float64(len(rows))
	wPos := n / (2 * float64(positives))
	wNeg := 1.0
	if neg := len(rows) - positives; neg > 0 {
		wNeg = n / (2 * float64(neg))
	}
	c := &Classifier{Weights: make([]float64, dim), Positives: positives}
	grad := make([]float64, dim)
	for range params.Epochs {
		clear(grad)
		var gBias float64
		for _, r := range rows {
			y, w := 0.0, wNeg
			if r.labels[path] {
				y, w = 1, wPos
			}
			g := w * (c.score(r.x) - y)
			gBias += g
			if len(r.x) == 0 {
				continue
			}
			g /= sqrtLen(r.x)
			for _, i := range r.x {
				grad[i] += g
			}
		}
		for i := range c.Weights {
			c.Weights[i] -= params.LearningRate * (grad[i]/n + params.L2*c.Weights[i])
		}
		c.Bias -= params.LearningRate * gBias / n
	}
	return c
}

func sqrtLen(x []int) float64 { return math.Sqrt(float64(len(x))) }
