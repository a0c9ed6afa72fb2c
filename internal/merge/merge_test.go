package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/schema"
	"github.com/fyrsmithlabs/extractd/internal/schema/schematest"
)

func sum(t *testing.T, d *schema.Data) string {
	t.Helper()
	c, err := schema.Checksum(d)
	require.NoError(t, err)
	return c
}

func item(t *testing.T, d *schema.Data, key, text string, page int) answer.Item {
	t.Helper()
	it, err := answer.EmptyItem(d, schema.MustParseKey(key))
	require.NoError(t, err)
	if text != "" {
		it.Data = []answer.Datum{{Boxes: []answer.BoxRef{{Page: page, Box: answer.Box{Left: float64(page), Right: 10}, Text: text}}}}
	}
	return it
}

func build(t *testing.T, d *schema.Data, items ...answer.Item) *answer.Answer {
	a := answer.New(d, sum(t, d))
	a.UserAnswer.Items = items
	return a
}

func keys(a *answer.Answer) []string {
	var out []string
	for _, it := range a.UserAnswer.Items {
		out = append(out, it.Key)
	}
	return out
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": Merged, "MERGED": Merged, "manual": Manual, " latest ": Latest} {
		got, err := ParsePolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParsePolicy("vote")
	assert.Error(t, err)
}

func TestMerge_UserOverridesPreset(t *testing.T) {
	d := schematest.Simple()
	preset := build(t, d, item(t, d, `["Doc:0","name:0"]`, "Alice", 0))
	user := build(t, d, item(t, d, `["Doc:0","name:0"]`, "Bob", 1))

	out := Merge(preset, []Contribution{{UID: 7, Name: "u", Data: user, UpdatedUTC: 1}}, d, sum(t, d), Options{})
	require.Len(t, out.UserAnswer.Items, 1)
	assert.Equal(t, "Bob", out.UserAnswer.Items[0].PlainText())
	assert.Equal(t, int64(7), out.UserAnswer.Items[0].Marker.ID)
}

func TestMerge_GroupInstances(t *testing.T) {
	d := schematest.People()
	preset := build(t, d,
		item(t, d, `["Doc:0","people:0","name:0"]`, "Ann", 0),
		item(t, d, `["Doc:0","people:0","age:0"]`, "30", 0),
		item(t, d, `["Doc:0","people:1","name:0"]`, "Ben", 0),
		item(t, d, `["Doc:0","people:1","age:0"]`, "40", 0),
	)
	user := build(t, d, item(t, d, `["Doc:0","people:0","name:0"]`, "Anna", 2))

	out := Merge(preset, []Contribution{{UID: 1, Name: "u", Data: user}}, d, sum(t, d), Options{})
	assert.Equal(t, []string{
		`["Doc:0","people:0","name:0"]`,
		`["Doc:0","people:0","age:0"]`,
		`["Doc:0","people:1","name:0"]`,
		`["Doc:0","people:1","age:0"]`,
	}, keys(out))
	assert.Equal(t, "Anna", out.UserAnswer.Items[0].PlainText())
	assert.Equal(t, "Ben", out.UserAnswer.Items[2].PlainText())
}

func TestMerge_Policies(t *testing.T) {
	d := schematest.Simple()
	first := Contribution{UID: 1, Name: "first", UpdatedUTC: 10, Data: build(t, d, item(t, d, `["Doc:0","name:0"]`, "one", 1))}
	second := Contribution{UID: 2, Name: "second", UpdatedUTC: 20, Data: build(t, d, item(t, d, `["Doc:0","name:0"]`, "two", 2))}
	contribs := []Contribution{second, first}

	t.Run("merged unions boxes", func(t *testing.T) {
		out := Merge(nil, contribs, d, sum(t, d), Options{Policy: Merged})
		it := out.UserAnswer.Items[0]
		assert.Len(t, it.BoxKeys(), 2)
		assert.Equal(t, "two\none", it.PlainText())
		assert.Equal(t, "second", it.Marker.Name)
		assert.Equal(t, []string{"first"}, it.Marker.Others)
	})
	t.Run("manual keeps last contributor", func(t *testing.T) {
		out := Merge(nil, contribs, d, sum(t, d), Options{Policy: Manual})
		assert.Equal(t, "two", out.UserAnswer.Items[0].PlainText())
		assert.Len(t, out.UserAnswer.Items[0].BoxKeys(), 1)
	})
	t.Run("latest keeps earliest contributor", func(t *testing.T) {
		out := Merge(nil, contribs, d, sum(t, d), Options{Policy: Latest})
		assert.Equal(t, "one", out.UserAnswer.Items[0].PlainText())
	})
}

func TestMerge_PoliciesWithoutContributors(t *testing.T) {
	d := schematest.Simple()
	preset := build(t, d, item(t, d, `["Doc:0","name:0"]`, "Alice", 0))

	for _, policy := range []Policy{Merged, Manual, Latest} {
		t.Run(string(policy), func(t *testing.T) {
			var out *answer.Answer
			assert.NotPanics(t, func() {
				out = Merge(preset, nil, d, sum(t, d), Options{Policy: policy})
			})
			require.NotNil(t, out)
			require.Len(t, out.UserAnswer.Items, 1)
			assert.Equal(t, "Alice", out.UserAnswer.Items[0].PlainText())
		})
	}
}

func TestMerge_Monotonic(t *testing.T) {
	d := schematest.People()
	a := build(t, d, item(t, d, `["Doc:0","people:0","name:0"]`, "x", 1), item(t, d, `["Doc:0","people:0","age:0"]`, "1", 2))
	b := build(t, d, item(t, d, `["Doc:0","people:0","name:0"]`, "y", 3))
	c := build(t, d, item(t, d, `["Doc:0","people:0","name:0"]`, "x", 1), item(t, d, `["Doc:0","people:1","name:0"]`, "z", 4))
	contribs := []Contribution{{UID: 1, Name: "a", Data: a, UpdatedUTC: 1}, {UID: 2, Name: "b", Data: b, UpdatedUTC: 2}, {UID: 3, Name: "c", Data: c, UpdatedUTC: 3}}

	out := Merge(nil, contribs, d, sum(t, d), Options{})
	merged := map[string]map[answer.BoxKey]struct{}{}
	for _, it := range out.UserAnswer.Items {
		merged[it.Key] = it.BoxKeys()
	}
	for _, con := range contribs {
		for _, it := range con.Data.UserAnswer.Items {
			for k := range it.BoxKeys() {
				assert.Contains(t, merged[it.Key], k, "%s from %s", it.Key, con.Name)
			}
		}
	}
}

func TestMerge_EnumMajority(t *testing.T) {
	d := schematest.People()
	key := `["Doc:0","kind:0"]`
	vote := func(uid int64, at int64, v string) Contribution {
		it := item(t, d, key, "", 0)
		it.Value = answer.Value{v}
		return Contribution{UID: uid, Name: v, UpdatedUTC: at, Data: build(t, d, it)}
	}

	out := Merge(nil, []Contribution{vote(1, 1, "买卖"), vote(2, 2, "租赁"), vote(3, 3, "买卖")}, d, sum(t, d), Options{})
	assert.Equal(t, answer.Value{"买卖"}, out.UserAnswer.Items[0].Value)

	tie := Merge(nil, []Contribution{vote(1, 1, "买卖"), vote(2, 2, "租赁")}, d, sum(t, d), Options{})
	assert.Equal(t, answer.Value{"租赁"}, tie.UserAnswer.Items[0].Value)
}

func TestMerge_ManualFlagPreserved(t *testing.T) {
	d := schematest.Simple()
	older := item(t, d, `["Doc:0","name:0"]`, "same", 1)
	older.Data[0].Boxes[0].Manual = true
	older.Manual = true
	newer := item(t, d, `["Doc:0","name:0"]`, "same", 1)

	out := Merge(nil, []Contribution{
		{UID: 1, Name: "a", UpdatedUTC: 1, Data: build(t, d, older)},
		{UID: 2, Name: "b", UpdatedUTC: 2, Data: build(t, d, newer)},
	}, d, sum(t, d), Options{})
	it := out.UserAnswer.Items[0]
	assert.True(t, it.Manual)
	assert.True(t, it.Data[0].Boxes[0].Manual)
}

func TestMerge_Idempotent(t *testing.T) {
	d := schematest.People()
	a := build(t, d,
		item(t, d, `["Doc:0","people:0","name:0"]`, "x", 1),
		item(t, d, `["Doc:0","people:1","age:0"]`, "3", 2),
	)
	for i := range a.UserAnswer.Items {
		a.UserAnswer.Items[i].Marker = &answer.Marker{ID: 1, Name: "a", Others: []string{}}
	}
	single := Merge(nil, []Contribution{{UID: 1, Name: "a", Data: a}}, d, sum(t, d), Options{})
	assert.Equal(t, a, single)

	b := build(t, d, item(t, d, `["Doc:0","people:0","name:0"]`, "y", 5))
	once := Merge(nil, []Contribution{{UID: 1, Name: "a", Data: a, UpdatedUTC: 1}, {UID: 2, Name: "b", Data: b, UpdatedUTC: 2}}, d, sum(t, d), Options{})
	twice := Merge(nil, []Contribution{{UID: 2, Name: "b", Data: once, UpdatedUTC: 3}}, d, sum(t, d), Options{})
	assert.Equal(t, once, twice)
}

func TestMerge_StaleContributionMigrated(t *testing.T) {
	v1 := schematest.People()
	stale := build(t, v1,
		item(t, v1, `["Doc:0","people:0","name:0"]`, "x", 1),
		item(t, v1, `["Doc:0","kind:0"]`, "y", 1),
	)
	v2 := schematest.People()
	delete(v2.Schemas[0].Schema, "kind")
	v2.Schemas[0].Orders = []string{"people", "summary"}

	out := Merge(nil, []Contribution{{UID: 1, Name: "a", Data: stale}}, v2, sum(t, v2), Options{})
	assert.Equal(t, []string{`["Doc:0","people:0","name:0"]`}, keys(out))
	assert.Equal(t, sum(t, v2), out.Version())
}

func TestMerge_CustomFieldLastWins(t *testing.T) {
	d := schematest.Simple()
	a := build(t, d)
	a.CustomField = &answer.ItemSet{Items: []answer.Item{{Key: `["Doc:0","c:0"]`, Text: "old"}}}
	b := build(t, d)
	b.CustomField = &answer.ItemSet{Items: []answer.Item{{Key: `["Doc:0","c:0"]`, Text: "new"}}}

	out := Merge(nil, []Contribution{{UID: 1, Data: a, UpdatedUTC: 1}, {UID: 2, Data: b, UpdatedUTC: 2}}, d, sum(t, d), Options{})
	require.Len(t, out.CustomItems(), 1)
	assert.Equal(t, "new", out.CustomItems()[0].Text)
}

func TestMerge_EmptyItemsDropped(t *testing.T) {
	d := schematest.Simple()
	empty := build(t, d, item(t, d, `["Doc:0","name:0"]`, "", 0))
	out := Merge(nil, []Contribution{{UID: 1, Data: empty}}, d, sum(t, d), Options{})
	assert.Empty(t, out.UserAnswer.Items)

	kept := Merge(nil, []Contribution{{UID: 1, Data: empty}}, d, sum(t, d), Options{KeepEmpty: true})
	assert.Len(t, kept.UserAnswer.Items, 1)

	assert.Nil(t, Merge(nil, nil, d, sum(t, d), Options{}))
}
