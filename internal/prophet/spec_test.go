package prophet

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSpec_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown kind", `{"name":"nope"}`},
		{"unknown key", `{"name":"auto","bogus":1}`},
		{"anchor without count", `{"name":"auto","anchor_regs":["甲方"]}`},
		{"count without anchor", `{"name":"auto","cnt_of_anchor_elts":2}`},
		{"threshold at one", `{"name":"score_filter","threshold":1}`},
		{"negative threshold", `{"name":"score_filter","threshold":-0.1}`},
		{"aim type", `{"name":"score_filter","aim_types":["IMAGE"]}`},
		{"full-width comma", `{"name":"fixed_position","pages":["1，2"]}`},
		{"bad regex", `{"name":"partial_text","neglect_patterns":["("]}`},
		{"kv direction", `{"name":"custom_table_kv","kv_directions":["diagonal"]}`},
		{"index range", `{"name":"para_match","index_range":[5,1]}`},
		{"column override key", `{"name":"table_row","columns":{"name":{"only_first":true}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSpec(json.RawMessage(tt.raw))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestDecodeSpec_Defaults(t *testing.T) {
	s, err := DecodeSpec(json.RawMessage(`{"name":"middle_paras"}`))
	require.NoError(t, err)
	mp := s.(*MiddleParas)
	assert.True(t, mp.IncludeTopAnchor)
	assert.False(t, mp.IncludeBottomAnchor)
	assert.True(t, mp.TopGreed)

	s, err = DecodeSpec(json.RawMessage(`{"name":"para_match"}`))
	require.NoError(t, err)
	assert.Equal(t, [2]int{0, 20}, s.(*ParaMatch).IndexRange)
	assert.True(t, s.(*ParaMatch).UseCrudeAnswer)

	s, err = DecodeSpec(json.RawMessage(`{"name":"table_row"}`))
	require.NoError(t, err)
	assert.True(t, s.common().Multi)
	assert.True(t, s.common().MultiElements)

	s, err = DecodeSpec(json.RawMessage(`{"name":"custom_table_kv","keep_dummy":false}`))
	require.NoError(t, err)
	assert.False(t, s.(*TableKV).KeepDummy, "explicit keys override defaults")
}

func TestDecodeSpec_Patterns(t *testing.T) {
	s, err := DecodeSpec(json.RawMessage(`{"name":"partial_text","neglect_patterns":"a&lt;b"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a<b"}, s.(*PartialText).NeglectPatterns.Raw(), "entities are unescaped")

	s, err = DecodeSpec(json.RawMessage(`{"name":"auto","custom_regs":["alice", " "]}`))
	require.NoError(t, err)
	auto := s.(*Auto)
	assert.Equal(t, 1, auto.CustomRegs.Len(), "blank patterns are dropped")
	assert.True(t, auto.CustomRegs.Match("ALICE"), "ignore_case defaults to true")

	s, err = DecodeSpec(json.RawMessage(`{"name":"auto","ignore_case":false,"custom_regs":["alice"]}`))
	require.NoError(t, err)
	assert.False(t, s.(*Auto).CustomRegs.Match("ALICE"))

	s, err = DecodeSpec(json.RawMessage(`{"name":"auto","custom_regs":{"name":["甲"],"age":["\\d+"]}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"甲"}, s.(*Auto).CustomRegs.For("name").Raw())
	assert.Equal(t, 0, s.(*Auto).CustomRegs.For("other").Len())
}

func TestPositions(t *testing.T) {
	s, err := DecodeSpec(json.RawMessage(`{"name":"fixed_position","pages":[1,"2, -1"],"positions":[0]}`))
	require.NoError(t, err)
	fp := s.(*FixedPosition)
	assert.Equal(t, []int{1, 2, -1}, fp.pages)
	assert.Equal(t, []int{0}, fp.positions)

	list := []string{"a", "b", "c"}
	tests := []struct {
		name string
		pos  []int
		want []string
	}{
		{"one based", []int{1, 3}, []string{"a", "c"}},
		{"zero is first", []int{0}, []string{"a"}},
		{"negative from end", []int{-1, -3}, []string{"c", "a"}},
		{"out of range", []int{4, -4}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pick(list, tt.pos))
		})
	}
}

func TestPatterns_Find(t *testing.T) {
	p := MustPatterns(`金额[:：](?P<dst>\d+)`)
	start, end, ok := p.Find("金额：1200元", "dst")
	require.True(t, ok)
	assert.Equal(t, "1200", "金额：1200元"[start:end])

	s, e, ok := matchText(p, "金 额 ： 12 00元", "dst")
	require.True(t, ok)
	assert.Equal(t, "12 00", string([]rune("金 额 ： 12 00元")[s:e]), "spans map back over whitespace")

	q := QuotedPatterns("a.b", "")
	assert.Equal(t, 1, q.Len())
	assert.False(t, q.Match("axb"))
	assert.True(t, q.Match("xa.by"))
}

func TestPatterns_Lookaround(t *testing.T) {
	s, err := DecodeSpec(json.RawMessage(`{"name":"partial_text","neglect_patterns":["(?<!未)发生违约事件"]}`))
	require.NoError(t, err)
	neglect := s.(*PartialText).NeglectPatterns
	assert.True(t, neglect.Match("借款人发生违约事件的"))
	assert.False(t, neglect.Match("借款人未发生违约事件"))

	p := MustPatterns(`(?<=甲方[:：])\S+?(?=\s|$)`)
	start, end, ok := p.Find("合同甲方：星河公司 乙方：某某")
	require.True(t, ok)
	assert.Equal(t, "星河公司", "合同甲方：星河公司 乙方：某某"[start:end])
}

func TestPatterns_PythonGroups(t *testing.T) {
	const text = `称'甲方'和"乙方"`
	p := MustPatterns(`(?P<q>['"])(?P<dst>.+?)(?P=q)`)
	spans := p.FindAll(text, "dst")
	require.Len(t, spans, 2)
	assert.Equal(t, "甲方", text[spans[0][0]:spans[0][1]])
	assert.Equal(t, "乙方", text[spans[1][0]:spans[1][1]])
}
