package prompter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/interdoc"
	"github.com/fyrsmithlabs/extractd/internal/interdoc/interdoctest"
	"github.com/fyrsmithlabs/extractd/internal/schema"
	"github.com/fyrsmithlabs/extractd/internal/schema/schematest"
)

// contract builds a three-paragraph document and labels the party line.
func contract(t *testing.T, party string) Sample {
	t.Helper()
	b := interdoctest.New()
	b.Para(1, "合同编号：HT-"+party)
	idx := b.Para(1, "甲方："+party+"有限公司")
	b.Para(1, "签订日期：2024年1月1日")
	r := b.Reader()
	e, ok := r.Element(idx)
	require.True(t, ok)

	d := schematest.Simple()
	a := answer.New(d, "cs")
	it, err := answer.EmptyItem(d, schema.MustParseKey(`["Doc:0","name:0"]`))
	require.NoError(t, err)
	it.Data = []answer.Datum{{Boxes: []answer.BoxRef{{
		Page: e.Page,
		Box:  answer.Box{Left: e.Outline[0], Top: e.Outline[1], Right: e.Outline[2], Bottom: e.Outline[3]},
		Text: e.Text,
	}}}}
	a.UserAnswer.Items = append(a.UserAnswer.Items, it)
	return Sample{Reader: r, Answer: a}
}

func TestFeatures(t *testing.T) {
	b := interdoctest.New()
	b.Para(1, "前文")
	idx := b.Para(1, "甲 方")
	r := b.Reader()
	e, _ := r.Element(idx)

	got := DefaultFeatureParams().Features(r, e)
	assert.Contains(t, got, "t:甲方", "whitespace is ignored")
	assert.Contains(t, got, "b:前文")
	assert.Contains(t, got, "c:PARAGRAPH")
	assert.Contains(t, got, "s:None")
	assert.IsNonDecreasing(t, got)

	p := FeatureParams{MaxNGram: 1, MaxChars: 2}
	assert.Equal(t, []string{"a", "b"}, p.ngrams("AbC"))
}

func TestTrain(t *testing.T) {
	samples := []Sample{contract(t, "Alice"), contract(t, "Bob"), contract(t, "Carol")}

	m, err := Train(samples, DefaultTrainParams())
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, m.Paths())
	assert.Equal(t, 3, m.Classifiers["name"].Positives)

	again, err := Train(samples, DefaultTrainParams())
	require.NoError(t, err)
	assert.Equal(t, m.Classifiers, again.Classifiers, "training is deterministic")
	assert.Equal(t, m.Vocabulary, again.Vocabulary)

	b := interdoctest.New()
	b.Para(1, "签订日期：2025年3月3日")
	idx := b.Para(1, "甲方：Dave有限公司")
	b.Para(1, "合同编号：HT-9")
	crude := m.Locate(b.Reader(), 2)
	require.Len(t, crude["name"], 2)
	assert.Equal(t, idx, crude["name"][0].Index)
	assert.Greater(t, crude["name"][0].Score, crude["name"][1].Score)
	assert.Equal(t, interdoc.ClassParagraph, crude["name"][0].Class)
}

func TestTrain_NoLabels(t *testing.T) {
	b := interdoctest.New()
	b.Para(1, "nothing")
	_, err := Train([]Sample{{Reader: b.Reader(), Answer: answer.New(schematest.Simple(), "cs")}}, DefaultTrainParams())
	assert.ErrorIs(t, err, ErrNoTrainingData)
}

type stubRecaller struct {
	crude CrudeAnswer
	err   error
}

func (s stubRecaller) Recall(context.Context, int64, []string, *interdoc.Reader, int) (CrudeAnswer, error) {
	return s.crude, s.err
}

func TestService(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	svc := NewService(config.TrainingConfig{CacheDir: dir, TopN: 3})

	_, err := svc.Locate(ctx, 1, 1, interdoctest.New().Reader())
	assert.ErrorIs(t, err, ErrModelMissing)
	assert.False(t, svc.Ready(1, 1))

	crude, err := svc.Locate(ctx, 1, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, crude)

	_, err = svc.Train(ctx, 1, 1, []Sample{contract(t, "Alice"), contract(t, "Bob"), contract(t, "Carol")})
	require.NoError(t, err)
	assert.True(t, svc.Ready(1, 1))
	assert.DirExists(t, dir+"/1/1/feature")
	assert.DirExists(t, dir+"/1/1/models")

	b := interdoctest.New()
	idx := b.Para(1, "甲方：Erin有限公司")
	extra := b.Para(1, "附件")
	recall := stubRecaller{crude: CrudeAnswer{"name": {{Index: extra, Page: 1, Score: 1}}}}
	svc = NewService(config.TrainingConfig{CacheDir: dir, TopN: 3}, WithRecaller(recall))
	crude, err = svc.Locate(ctx, 1, 1, b.Reader())
	require.NoError(t, err)
	require.Len(t, crude["name"], 2)
	assert.Equal(t, extra, crude["name"][0].Index, "recalled scores are merged")
	assert.Equal(t, idx, crude["name"][1].Index)

	svc = NewService(config.TrainingConfig{CacheDir: dir, TopN: 3}, WithRecaller(stubRecaller{err: errors.New("down")}))
	crude, err = svc.Locate(ctx, 1, 1, b.Reader())
	require.NoError(t, err, "recall failures only narrow the ranking")
	assert.Equal(t, idx, crude["name"][0].Index)
}

func TestCrudeAnswer(t *testing.T) {
	crude, err := ParseCrudeAnswer(nil)
	require.NoError(t, err)
	assert.Empty(t, crude)

	crude, err = ParseCrudeAnswer(json.RawMessage(`{"name":[{"element_index":3,"score":0.8},{"element_index":1,"score":0.3}]}`))
	require.NoError(t, err)
	assert.Len(t, crude.Top("name", 10, 0.5), 1)
	assert.Len(t, crude.Top("name", 1, 0), 1)
	assert.Empty(t, crude.Top("missing", 10, 0))

	crude.Merge(CrudeAnswer{"name": {{Index: 1, Score: 0.9}, {Index: 7, Score: 0.1}}}, 2)
	require.Len(t, crude["name"], 2)
	assert.Equal(t, 1, crude["name"][0].Index)
	assert.Equal(t, 0.9, crude["name"][0].Score)
	assert.Equal(t, 3, crude["name"][1].Index)

	raw, err := CrudeAnswer(nil).Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
}
