package studio

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/schema"
	"github.com/fyrsmithlabs/extractd/internal/schema/schematest"
)

func TestBuildAppSchema(t *testing.T) {
	s := BuildAppSchema(schematest.LLM())
	props := s.Schemas.Properties

	assert.Equal(t, "object", s.Schemas.Type)
	assert.NotContains(t, props, "note", "exclusive fields are not sent")

	assert.Equal(t, Property{Enum: []string{"买卖", "租赁"}, PropertyOrder: 1}, props["kind"])
	assert.Equal(t, Property{Type: "array", PropertyOrder: 2, Items: map[string]any{"type": "string"}}, props["tags"])
	assert.Equal(t, Property{Type: "number", PropertyOrder: 3}, props["amount"])

	parties := props["parties"]
	assert.Equal(t, "array", parties.Type)
	assert.Equal(t, "签约方", parties.Description)
	assert.Equal(t, 0, parties.PropertyOrder)
	sub := parties.Items["properties"].(map[string]any)
	assert.Equal(t, Property{Type: "string", PropertyOrder: 0}, sub["name"])
	assert.Equal(t, Property{Enum: []string{"甲方", "乙方"}, PropertyOrder: 1}, sub["role"])

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"propertyOrder":3`)

	assert.Empty(t, BuildAppSchema(&schema.Data{}).Schemas.Properties)
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&m))
	return m
}

func key(names ...string) string {
	p := schema.Path{{Name: "Doc"}}
	for _, n := range names {
		p = append(p, schema.Segment{Name: n})
	}
	return p.Key()
}

func TestItems(t *testing.T) {
	d := schematest.LLM()
	ext := &Extraction{
		Data: decode(t, `{
			"parties": [{"name": "甲公司", "role": "甲方"}, {"name": "乙公司", "role": "丙方"}],
			"kind": "买卖",
			"tags": ["a", "b"],
			"amount": "人民币100元",
			"unknown": "x"
		}`),
		Sources: decode(t, `{"kind": "本合同为买卖合同"}`),
	}
	trace := decode(t, `{
		"parties": [{"name": {"status": "traced", "data": [{"box": [{"1": [1, 2, 3, 4]}, {"2": [5, 6, 7, 8]}]}]}}],
		"amount": {"box": [{"3": [0, 0, 1, 1]}]}
	}`)

	items, err := Items(ext, trace, d)
	require.NoError(t, err)
	byKey := map[string]answer.Item{}
	for _, it := range items {
		byKey[it.Key] = it
	}
	require.Len(t, byKey, 7, "unknown fields are skipped")

	amount := byKey[key("amount")]
	require.Len(t, amount.Data, 1)
	assert.Equal(t, "100", amount.Data[0].Text, "regex narrows the text")
	assert.Equal(t, []answer.BoxRef{{Page: 3, Box: answer.Box{Right: 1, Bottom: 1}, Text: "100"}}, amount.Data[0].Boxes)

	kind := byKey[key("kind")]
	assert.Equal(t, answer.Value{"买卖"}, kind.Value)
	assert.Equal(t, "本合同为买卖合同", kind.Data[0].Text, "enum text comes from sources")

	first := byKey[schema.Path{{Name: "Doc"}, {Name: "parties"}, {Name: "name"}}.Key()]
	require.Len(t, first.Data, 1)
	require.Len(t, first.Data[0].Boxes, 2)
	assert.Equal(t, "甲公司", first.Data[0].Boxes[0].Text)
	assert.Equal(t, 2, first.Data[0].Boxes[1].Page)
	assert.Empty(t, first.Data[0].Boxes[1].Text, "only the first box carries text")

	second := byKey[schema.Path{{Name: "Doc"}, {Name: "parties", Index: 1}, {Name: "role"}}.Key()]
	assert.Empty(t, second.Value, "values outside the enum are dropped")
	assert.Equal(t, "丙方", second.Data[0].Text)

	tags := byKey[key("tags")]
	require.Len(t, tags.Data, 2, "multi values merge into one item")
	assert.Equal(t, "a", tags.Data[0].Text)
	assert.Equal(t, "b", tags.Data[1].Text)

	items, err = Items(nil, nil, d)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func newTestClient(t *testing.T, h http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(config.StudioConfig{
		URL:     srv.URL,
		APIKey:  "k",
		HookKey: "hook",
		Timeout: config.Duration(timeout),
	}, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return c
}

func TestClient(t *testing.T) {
	ctx := t.Context()
	var seen []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		seen = append(seen, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case pathHook:
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "hook", body["api_key"])
			io.WriteString(w, `{"data":{"id":7}}`)
		case pathApps:
			io.WriteString(w, `{"data":{"id":"app-1","name":"合同"}}`)
		case pathUpload:
			f, hdr, err := r.FormFile("file")
			if !assert.NoError(t, err) {
				return
			}
			defer f.Close()
			assert.Equal(t, "a.pdf", hdr.Filename)
			io.WriteString(w, `{"data":{"upload_id":"u-1"}}`)
		case "/api/v1/apps/app-1/uploads/u-1/extraction":
			io.WriteString(w, `{"data":{"status":100,"data":{"data":{"kind":"租赁"}}}}`)
		case "/api/v1/apps/app-1/uploads/u-1/trace":
			io.WriteString(w, `{"data":{"kind":{"box":[{"1":[1,1,2,2]}]}}}`)
		case "/api/v1/apps/app-1":
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `app busy`)
		default:
			io.WriteString(w, `{"data":null}`)
		}
	}, time.Second)

	id, err := c.RegisterHook(ctx, "http://x/api/v2/files/extract-complete")
	require.NoError(t, err)
	assert.Equal(t, "7", id)

	app, err := c.CreateApp(ctx, "合同", "gpt", BuildAppSchema(schematest.LLM()))
	require.NoError(t, err)
	assert.Equal(t, "app-1", app.ID)

	uid, err := c.Upload(ctx, "a.pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "u-1", uid)

	require.NoError(t, c.AddFile(ctx, "app-1", uid))
	require.NoError(t, c.ReExtract(ctx, "app-1", uid))

	res, err := c.ExtractResult(ctx, "app-1", uid)
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	trace, err := c.TraceResult(ctx, "app-1", uid)
	require.NoError(t, err)
	items, err := Items(res.Data, trace, schematest.LLM())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, answer.Value{"租赁"}, items[0].Value)
	assert.Equal(t, 1, items[0].Data[0].Boxes[0].Page)

	err = c.DeleteApp(ctx, "app-1")
	assert.ErrorIs(t, err, ErrRejected)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, "app busy", se.Body)

	assert.Contains(t, seen, "POST /api/v1/apps/app-1/uploads")
	assert.Contains(t, seen, "GET /api/v1/apps/app-1/uploads/u-1/extract-again")
}

func TestClient_Timeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}, 20*time.Millisecond)

	err := c.AddFile(t.Context(), "app", "u")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestNew(t *testing.T) {
	_, err := New(config.StudioConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = New(config.StudioConfig{URL: "not a url"})
	assert.Error(t, err)
}
