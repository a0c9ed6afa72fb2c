package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/migrate"
	"github.com/fyrsmithlabs/extractd/internal/question"
	"github.com/fyrsmithlabs/extractd/internal/schema"
	"github.com/fyrsmithlabs/extractd/internal/schema/schematest"
	"github.com/fyrsmithlabs/extractd/internal/store/memstore"
)

func checksum(t *testing.T, d *schema.Data) string {
	t.Helper()
	c, err := schema.Checksum(d)
	require.NoError(t, err)
	return c
}

func amountAnswer(t *testing.T) *answer.Answer {
	t.Helper()
	v1 := schematest.Amount("amount")
	a := answer.New(v1, checksum(t, v1))
	it, err := answer.EmptyItem(v1, schema.MustParseKey(`["Doc:0","amount:0"]`))
	require.NoError(t, err)
	it.Data = []answer.Datum{{Boxes: []answer.BoxRef{{Page: 1, Text: "100"}}}}
	a.UserAnswer.Items = append(a.UserAnswer.Items, it)
	return a
}

func TestAnswer_RenameWithoutMapDrops(t *testing.T) {
	a := amountAnswer(t)
	v2 := schematest.Amount("金额")
	sum := checksum(t, v2)

	r := migrate.Answer(a, v2, sum, nil)
	assert.True(t, r.Changed)
	assert.Equal(t, 1, r.Dropped)
	assert.Empty(t, r.Answer.UserAnswer.Items)
	assert.Equal(t, sum, r.Answer.Version())
}

func TestAnswer_RenameWithMap(t *testing.T) {
	a := amountAnswer(t)
	v2 := schematest.Amount("金额")
	sum := checksum(t, v2)
	renames := schema.Renames{"amount": "金额"}

	r := migrate.Answer(a, v2, sum, renames)
	require.Len(t, r.Answer.UserAnswer.Items, 1)
	it := r.Answer.UserAnswer.Items[0]
	assert.Equal(t, `["Doc:0","金额:0"]`, it.Key)
	assert.Equal(t, "金额", it.Schema.Data.Label)
	assert.Equal(t, "100", it.PlainText())
	assert.Equal(t, sum, r.Answer.Version())

	again := migrate.Answer(r.Answer, v2, sum, renames)
	assert.False(t, again.Changed)
	assert.Equal(t, r.Answer, again.Answer)
}

func TestAnswer_PathPreservedAcrossUnrelatedEdit(t *testing.T) {
	v1 := schematest.People()
	a := answer.New(v1, checksum(t, v1))
	for _, k := range []string{`["Doc:0","people:1","name:0"]`, `["Doc:0","kind:0"]`} {
		it, err := answer.EmptyItem(v1, schema.MustParseKey(k))
		require.NoError(t, err)
		it.Data = []answer.Datum{{Boxes: []answer.BoxRef{{Text: "x"}}}}
		a.UserAnswer.Items = append(a.UserAnswer.Items, it)
	}

	v2 := schematest.People()
	v2.Schemas[1].Schema["name"] = schema.FieldDef{Type: schema.TypeText, Required: false, Description: "full name"}
	delete(v2.Schemas[0].Schema, "kind")
	v2.Schemas[0].Orders = []string{"people", "summary"}
	sum := checksum(t, v2)

	r := migrate.Answer(a, v2, sum, nil)
	require.Len(t, r.Answer.UserAnswer.Items, 1)
	it := r.Answer.UserAnswer.Items[0]
	assert.Equal(t, `["Doc:0","people:1","name:0"]`, it.Key)
	assert.False(t, it.Schema.Data.Required)
	assert.Equal(t, "full name", it.Schema.Data.Description)
	assert.Equal(t, 1, r.Dropped)

	twice := migrate.Answer(r.Answer, v2, sum, nil)
	assert.Equal(t, r.Answer, twice.Answer)
}

func TestAnswer_CurrentVersionUntouched(t *testing.T) {
	a := amountAnswer(t)
	v1 := schematest.Amount("amount")
	r := migrate.Answer(a, v1, checksum(t, v1), nil)
	assert.False(t, r.Changed)
	assert.Same(t, a, r.Answer)

	assert.Nil(t, migrate.Answer(nil, v1, "x", nil).Answer)
}

func TestMigrator_MigrateMold(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	st := mem.Questions()

	q := &question.Question{FileID: 1, MoldID: 7, Checksum: "1-7", Answer: amountAnswer(t), PresetAnswer: amountAnswer(t)}
	require.NoError(t, st.CreateQuestion(ctx, q))
	require.NoError(t, st.SaveAnswer(ctx, &question.Answer{QID: q.ID, UID: 3, Status: question.AnswerValid, Data: amountAnswer(t)}))

	v2 := schematest.Amount("金额")
	sum := checksum(t, v2)
	m, err := migrate.NewMigrator(st, nil)
	require.NoError(t, err)

	t.Run("dry run writes nothing", func(t *testing.T) {
		rep, err := m.MigrateMold(ctx, 7, v2, sum, schema.Renames{"amount": "金额"}, true)
		require.NoError(t, err)
		assert.Equal(t, 1, rep.QuestionsTouched)
		assert.Equal(t, 1, rep.AnswersTouched)
		got, err := st.GetQuestion(ctx, q.ID)
		require.NoError(t, err)
		assert.NotEqual(t, sum, got.Answer.Version())
	})

	t.Run("applies and is idempotent", func(t *testing.T) {
		rep, err := m.MigrateMold(ctx, 7, v2, sum, schema.Renames{"amount": "金额"}, false)
		require.NoError(t, err)
		assert.Equal(t, 3, rep.ItemsKept)

		got, err := st.GetQuestion(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, sum, got.Answer.Version())
		assert.Equal(t, sum, got.PresetAnswer.Version())
		assert.Equal(t, `["Doc:0","金额:0"]`, got.Answer.UserAnswer.Items[0].Key)

		a, err := st.FindAnswer(ctx, q.ID, 3)
		require.NoError(t, err)
		assert.Equal(t, sum, a.Data.Version())

		rep, err = m.MigrateMold(ctx, 7, v2, sum, schema.Renames{"amount": "金额"}, false)
		require.NoError(t, err)
		assert.Zero(t, rep.QuestionsTouched)
		assert.Zero(t, rep.AnswersTouched)
	})
}
