package prophet

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/interdoc/interdoctest"
	"github.com/fyrsmithlabs/extractd/internal/schema"
	"github.com/fyrsmithlabs/extractd/internal/schema/schematest"
)

// labeled builds a one-paragraph sample whose "name" item covers text.
func labeled(t *testing.T, d *schema.Data, para, text string) Sample {
	t.Helper()
	b := interdoctest.New()
	b.Para(1, para)
	a := answer.New(d, "cs")
	it, err := answer.EmptyItem(d, schema.MustParseKey(`["Doc:0","name:0"]`))
	require.NoError(t, err)
	it.Data = []answer.Datum{{Boxes: []answer.BoxRef{{
		Page: 1,
		Box:  answer.Box{Left: 10, Top: 0, Right: 590, Bottom: 18},
		Text: text,
	}}}}
	a.UserAnswer.Items = append(a.UserAnswer.Items, it)
	return Sample{Reader: b.Reader(), Answer: a}
}

func TestTrain_PartialText(t *testing.T) {
	d := schematest.Simple()
	cfg := mustParse(t, `[{"path":["name"],"models":[{"name":"partial_text"}]}]`)
	samples := []Sample{
		labeled(t, d, "甲方名称：Alice有限公司，地址上海", "Alice有限公司"),
		labeled(t, d, "甲方名称：Carol集团，地址深圳", "Carol集团"),
	}

	md, err := Train(cfg, d, samples)
	require.NoError(t, err)
	f := md.Paths["name"].Columns["name"]
	assert.Equal(t, []string{"甲方名称："}, f.Left.Top(0))
	assert.Equal(t, []string{"，地址上", "，地址深"}, f.Right.Top(0))

	again, err := Train(cfg, d, samples)
	require.NoError(t, err)
	assert.Equal(t, md, again, "training is deterministic")

	b := interdoctest.New()
	b.Para(1, "甲方名称：Bob公司，地址上海浦东")
	a := predict(t, d, `[{"path":["name"],"models":[{"name":"partial_text"}]}]`, b.Reader(), nil, md)
	assert.Equal(t, map[string]string{`["Doc:0","name:0"]`: "Bob公司"}, texts(a))
}

func TestTrain_NoLabels(t *testing.T) {
	d := schematest.Simple()
	cfg := mustParse(t, `[{"path":["name"],"models":[{"name":"partial_text"}]}]`)
	b := interdoctest.New()
	b.Para(1, "nothing")
	_, err := Train(cfg, d, []Sample{{Reader: b.Reader(), Answer: answer.New(d, "cs")}})
	assert.ErrorIs(t, err, ErrTrainingFailed)

	md, err := Train(mustParse(t, `[{"path":["name"],"models":[{"name":"fixed_position"}]}]`), d, nil)
	require.NoError(t, err)
	assert.Empty(t, md.Paths, "untrained kinds need no labels")
}

func TestModel_SaveLoad(t *testing.T) {
	d := schematest.Simple()
	cfg := mustParse(t, `[{"path":["name"],"models":[{"name":"partial_text"}]}]`)
	md, err := Train(cfg, d, []Sample{labeled(t, d, "姓名：Alice，男", "Alice")})
	require.NoError(t, err)

	dir := ModelDir(t.TempDir(), 3, 9)
	_, err = LoadModel(dir, cfg)
	assert.ErrorIs(t, err, ErrModelMissing)

	empty, err := LoadModel(dir, mustParse(t, `[{"path":["name"],"models":[{"name":"para_match"}]}]`))
	require.NoError(t, err)
	assert.Empty(t, empty.Paths)

	require.NoError(t, md.Save(dir))
	loaded, err := LoadModel(dir, cfg)
	require.NoError(t, err)
	assert.Equal(t, md.Paths["name"].Columns["name"].Left, loaded.Paths["name"].Columns["name"].Left)
	assert.Equal(t, 1, loaded.Samples)
}

func TestService_TrainThenPredict(t *testing.T) {
	d := schematest.Simple()
	svc := NewService(config.TrainingConfig{CacheDir: t.TempDir(), TopN: 10}, config.FeatureConfig{})
	target := Target{
		MoldID:     1,
		VersionID:  2,
		Data:       d,
		Checksum:   "cs",
		Predictors: json.RawMessage(`[{"path":["name"],"models":[{"name":"partial_text"}]}]`),
	}
	_, err := svc.Train(context.Background(), target, []Sample{labeled(t, d, "姓名：Alice，男", "Alice")})
	require.NoError(t, err)

	b := interdoctest.New()
	b.Para(1, "姓名：Bob，男")
	a, err := svc.Predict(context.Background(), target, b.Reader(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{`["Doc:0","name:0"]`: "Bob"}, texts(a))
}
