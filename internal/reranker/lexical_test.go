package reranker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexes(s []Scored) []int {
	out := make([]int, len(s))
	for i, d := range s {
		out[i] = d.Index
	}
	return out
}

func TestLexicalRerank(t *testing.T) {
	tests := []struct {
		name  string
		query string
		docs  []Document
		topK  int
		want  []int
	}{
		{
			name:  "empty documents",
			query: "invoice number",
			docs:  nil,
			topK:  5,
			want:  []int{},
		},
		{
			name:  "labelled element wins over closer vector",
			query: "invoice/number",
			docs: []Document{
				{Index: 1, Text: "Total due 420.00", Score: 0.82},
				{Index: 2, Text: "Invoice Number: INV-42", Score: 0.78},
				{Index: 3, Text: "Invoice date 2024-01-01", Score: 0.80},
			},
			want: []int{2, 3, 1},
		},
		{
			name:  "topK cuts the tail",
			query: "party",
			docs: []Document{
				{Index: 1, Text: "party a", Score: 0.5},
				{Index: 2, Text: "party b", Score: 0.6},
				{Index: 3, Text: "other", Score: 0.9},
			},
			topK: 2,
			want: []int{2, 1},
		},
		{
			name:  "blank query keeps recall order",
			query: " / ",
			docs: []Document{
				{Index: 4, Text: "a", Score: 0.3},
				{Index: 5, Text: "b", Score: 0.7},
			},
			want: []int{5, 4},
		},
		{
			name:  "cjk bigrams",
			query: "合同金额",
			docs: []Document{
				{Index: 1, Text: "签订日期：2024年1月1日", Score: 0.7},
				{Index: 2, Text: "合同金额：人民币壹万元", Score: 0.6},
			},
			want: []int{2, 1},
		},
		{
			name:  "ties keep input order",
			query: "seller",
			docs: []Document{
				{Index: 7, Text: "x", Score: 0.5},
				{Index: 8, Text: "y", Score: 0.5},
			},
			want: []int{7, 8},
		},
	}

	r := NewLexical()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Rerank(context.Background(), tt.query, tt.docs, tt.topK)
			require.NoError(t, err)
			assert.Equal(t, tt.want, indexes(got))
		})
	}
}

func TestLexicalRerank_Scores(t *testing.T) {
	r := NewLexical(WithWeight(0.25))
	got, err := r.Rerank(context.Background(), "buyer name", []Document{
		{Index: 1, Text: "Buyer: ACME", Score: 0.8},
	}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.5, got[0].Overlap, 1e-6)
	assert.InDelta(t, 0.75*0.8+0.25*0.5, got[0].Combined, 1e-6)
	assert.Equal(t, 0, got[0].OriginalRank)
}

func TestLexicalRerank_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := NewLexical().Rerank(nil, "q", nil, 0)
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestWithWeight_IgnoresOutOfRange(t *testing.T) {
	assert.Equal(t, float32(DefaultWeight), NewLexical(WithWeight(1.5)).weight)
	assert.Equal(t, float32(DefaultWeight), NewLexical(WithWeight(-0.1)).weight)
	assert.Equal(t, float32(1), NewLexical(WithWeight(1)).weight)
}

func TestTerms(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Invoice/Number", []string{"invoice", "number"}},
		{"the date of the contract", []string{"date", "contract"}},
		{"a b 42", []string{"42"}},
		{"甲方名称", []string{"甲方", "方名", "名称"}},
		{"金", []string{"金"}},
		{"Seller 卖方 seller", []string{"seller", "卖方"}},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Terms(tt.in))
		})
	}
}
