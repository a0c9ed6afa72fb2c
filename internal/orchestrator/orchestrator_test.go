package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/blob"
	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/file"
	"github.com/fyrsmithlabs/extractd/internal/interdoc"
	"github.com/fyrsmithlabs/extractd/internal/interdoc/interdoctest"
	"github.com/fyrsmithlabs/extractd/internal/lock"
	"github.com/fyrsmithlabs/extractd/internal/mold"
	"github.com/fyrsmithlabs/extractd/internal/orchestrator"
	"github.com/fyrsmithlabs/extractd/internal/parser"
	"github.com/fyrsmithlabs/extractd/internal/postpipe"
	"github.com/fyrsmithlabs/extractd/internal/prompter"
	"github.com/fyrsmithlabs/extractd/internal/prophet"
	"github.com/fyrsmithlabs/extractd/internal/question"
	"github.com/fyrsmithlabs/extractd/internal/schema"
	"github.com/fyrsmithlabs/extractd/internal/schema/schematest"
	"github.com/fyrsmithlabs/extractd/internal/store/memstore"
	"github.com/fyrsmithlabs/extractd/internal/studio"
	"github.com/fyrsmithlabs/extractd/internal/training"
)

const paraMatch = `[{"path":["name"],"models":[{"name":"para_match","content_pattern":["姓名[:：](?P<content>.+)"]}]}]`

// models resolves targets from the mold's own predictors.
type models struct {
	versions []*training.Version
}

func (m *models) Target(_ context.Context, md *mold.Mold) (prophet.Target, bool, error) {
	return prophet.Target{MoldID: md.ID, MoldName: md.Name, Data: &md.Data, Checksum: md.Checksum, Predictors: md.Predictors}, false, nil
}

func (m *models) List(context.Context, int64) ([]*training.Version, error) { return m.versions, nil }

type locator struct{}

func (locator) Locate(context.Context, int64, int64, *interdoc.Reader) (prompter.CrudeAnswer, error) {
	return prompter.CrudeAnswer{}, nil
}

type pipeCall struct {
	QID    int64
	FileID int64
	Opts   postpipe.Options
}

type pipe struct {
	mu        sync.Mutex
	runs      []pipeCall
	questions []int64
	files     []int64
}

func (p *pipe) Run(_ context.Context, qid, fileID int64, opts postpipe.Options) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = append(p.runs, pipeCall{QID: qid, FileID: fileID, Opts: opts})
	return nil
}

func (p *pipe) RunQuestion(_ context.Context, qid int64, _ postpipe.Options) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.questions = append(p.questions, qid)
	return nil
}

func (p *pipe) RunFile(_ context.Context, fileID int64, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files = append(p.files, fileID)
	return nil
}

type fakeParser struct {
	err  error
	reqs []parser.Request
}

func (p *fakeParser) Submit(_ context.Context, req parser.Request) error {
	p.reqs = append(p.reqs, req)
	return p.err
}

type fakeStudio struct {
	uploads  int
	added    []string
	redone   []string
	result   *studio.ExtractResult
	traceErr error
}

func (s *fakeStudio) Upload(_ context.Context, _ string, r io.Reader) (string, error) {
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	s.uploads++
	return "up-1", nil
}

func (s *fakeStudio) AddFile(_ context.Context, appID, uploadID string) error {
	s.added = append(s.added, appID+"/"+uploadID)
	return nil
}

func (s *fakeStudio) ReExtract(_ context.Context, appID, uploadID string) error {
	s.redone = append(s.redone, appID+"/"+uploadID)
	return nil
}

func (s *fakeStudio) ExtractResult(context.Context, string, string) (*studio.ExtractResult, error) {
	return s.result, nil
}

func (s *fakeStudio) TraceResult(context.Context, string, string) (map[string]any, error) {
	return nil, s.traceErr
}

// failingDispatcher runs nothing.
type failingDispatcher struct{ err error }

func (d failingDispatcher) ParseFile(context.Context, int64, orchestrator.ProcessOptions) error {
	return d.err
}
func (d failingDispatcher) PredictFile(context.Context, int64, bool) error   { return d.err }
func (d failingDispatcher) PresetAnswer(context.Context, int64, bool) error  { return d.err }
func (d failingDispatcher) PresetQuestion(context.Context, int64, bool) error { return d.err }
func (d failingDispatcher) QuestionPostPipe(context.Context, orchestrator.PostPipeRequest) error {
	return d.err
}
func (d failingDispatcher) InspectRule(context.Context, int64) error { return d.err }

type fixture struct {
	st     *memstore.Store
	blobs  *blob.MemStore
	docs   *interdoc.Loader
	locker *lock.Memory
	pipe   *pipe
	models *models
	web    config.WebConfig
	qs     *question.Service
	o      *orchestrator.Orchestrator
}

func newFixture(t *testing.T, opts ...orchestrator.Option) *fixture {
	t.Helper()
	return newFixtureWeb(t, config.WebConfig{PresetAnswer: true, DefaultQuestionHealth: 1}, opts...)
}

func newFixtureWeb(t *testing.T, web config.WebConfig, opts ...orchestrator.Option) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	f := &fixture{
		st:     memstore.New(),
		blobs:  blob.NewMemStore(),
		locker: lock.NewMemory(),
		pipe:   &pipe{},
		models: &models{},
		web:    web,
	}
	var err error
	f.docs, err = interdoc.NewLoader(f.blobs, 16, logger)
	require.NoError(t, err)
	f.qs, err = question.NewService(f.st.Questions(), f.web, question.WithLogger(logger))
	require.NoError(t, err)

	tc := config.TrainingConfig{CacheDir: t.TempDir(), TopN: 5}
	f.o, err = orchestrator.New(f.web, orchestrator.Deps{
		Files:         file.NewService(f.st.Files(), f.docs, file.WithLogger(logger)),
		FileStore:     f.st.Files(),
		Questions:     f.qs,
		QuestionStore: f.st.Questions(),
		Molds:         f.st.Molds(),
		Models:        f.models,
		Locator:       locator{},
		Extractor:     prophet.NewService(tc, config.FeatureConfig{}, prophet.WithLogger(logger)),
		PostPipe:      f.pipe,
		Locker:        f.locker,
		Blobs:         f.blobs,
	}, append([]orchestrator.Option{orchestrator.WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	return f
}

func (f *fixture) mold(t *testing.T, typ schema.MoldType, predictors string) *mold.Mold {
	t.Helper()
	m := &mold.Mold{Name: "合同", Checksum: "cs", Type: typ, Data: *schematest.Simple()}
	if predictors != "" {
		m.Predictors = json.RawMessage(predictors)
	}
	if typ != schema.MoldComplex {
		m.StudioAppID = "app-1"
	}
	require.NoError(t, f.st.Molds().CreateMold(context.Background(), m))
	return m
}

func payload(t *testing.T, text string) []byte {
	t.Helper()
	b := interdoctest.New()
	b.Para(1, text)
	raw, err := json.Marshal(b.Doc())
	require.NoError(t, err)
	return raw
}

// file adds a file bound to m. Parsed files get their interdoc stored.
func (f *fixture) file(t *testing.T, hash string, parsed bool, molds ...int64) *file.File {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.blobs.Put(ctx, blob.FileKey(hash), []byte("%PDF-1.7")))
	fl := &file.File{Name: "合同.pdf", Hash: hash, Molds: molds, ParseStatus: file.ParsePending, TaskType: file.TaskExtract}
	if parsed {
		_, err := f.docs.Store(ctx, hash, payload(t, "姓名：Alice"))
		require.NoError(t, err)
		fl.Interdoc = hash
		fl.ParseStatus = file.ParseComplete
	}
	require.NoError(t, f.st.Files().CreateFile(ctx, fl))
	return fl
}

func (f *fixture) question(t *testing.T, fileID, moldID int64) *question.Question {
	t.Helper()
	qs, err := f.st.Questions().ListQuestionsByFile(context.Background(), fileID)
	require.NoError(t, err)
	for _, q := range qs {
		if q.MoldID == moldID {
			return q
		}
	}
	t.Fatalf("no question for file %d mold %d", fileID, moldID)
	return nil
}

func (f *fixture) assertUnlocked(t *testing.T, key string) {
	t.Helper()
	release, err := f.locker.TryLock(context.Background(), key, time.Minute)
	require.NoError(t, err, "lock %s still held", key)
	require.NoError(t, release(context.Background()))
}

func TestPredictFile_PresetFinishes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.mold(t, schema.MoldComplex, paraMatch)
	fl := f.file(t, "h1", true, m.ID)

	require.NoError(t, f.o.PredictFile(ctx, fl.ID, false))

	q := f.question(t, fl.ID, m.ID)
	assert.Equal(t, question.AIFinish, q.ExclusiveStatus)
	assert.Equal(t, question.AISkipPredict, q.LLMStatus)
	assert.Equal(t, question.AIFinish, q.AIStatus)
	require.NotNil(t, q.PresetAnswer)
	require.NotEmpty(t, q.PresetAnswer.UserAnswer.Items)
	require.NotNil(t, q.Answer, "the merged answer is stored")
	assert.NotEmpty(t, q.Answer.UserAnswer.Items)

	assert.Equal(t, []int64{q.ID}, f.pipe.questions)
	assert.Equal(t, []int64{fl.ID}, f.pipe.files)
	f.assertUnlocked(t, lock.QuestionPostPipe(q.ID))
}

func TestPredictFile_ConflictTreatment(t *testing.T) {
	for _, mode := range []string{"MERGED", "MANUAL", "LATEST"} {
		t.Run(mode, func(t *testing.T) {
			ctx := context.Background()
			f := newFixtureWeb(t, config.WebConfig{PresetAnswer: true, DefaultQuestionHealth: 1, ModeConflictTreatment: mode})
			m := f.mold(t, schema.MoldComplex, paraMatch)
			fl := f.file(t, "h1", true, m.ID)

			require.NotPanics(t, func() {
				require.NoError(t, f.o.PredictFile(ctx, fl.ID, false))
			})

			q := f.question(t, fl.ID, m.ID)
			assert.Equal(t, question.AIFinish, q.AIStatus)
			require.NotNil(t, q.Answer, "the preset alone becomes the answer")
			assert.NotEmpty(t, texts(q.Answer))
			assert.Equal(t, texts(q.PresetAnswer), texts(q.Answer))
			f.assertUnlocked(t, lock.QuestionPostPipe(q.ID))
		})
	}
}

func TestPresetQuestion_NotForcedSkipsFinished(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.mold(t, schema.MoldComplex, paraMatch)
	fl := f.file(t, "h1", true, m.ID)
	require.NoError(t, f.o.PredictFile(ctx, fl.ID, false))
	q := f.question(t, fl.ID, m.ID)
	f.pipe.runs = nil

	require.NoError(t, f.o.PresetQuestion(ctx, q.ID, false))
	assert.Empty(t, f.pipe.runs, "finished questions are not predicted again")

	require.NoError(t, f.o.PresetQuestion(ctx, q.ID, true))
	require.Len(t, f.pipe.runs, 1)
	assert.True(t, f.pipe.runs[0].Opts.TriggeredByPredict)
}

func TestPresetQuestion_RecordsGateStatus(t *testing.T) {
	tests := []struct {
		name     string
		versions []*training.Version
		want     question.AIStatus
	}{
		{name: "versions but none enabled", versions: []*training.Version{{ID: 9}}, want: question.AIDisable},
		{name: "no versions", want: question.AIUncorrelated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			f.models.versions = tt.versions
			m := f.mold(t, schema.MoldComplex, "")
			fl := f.file(t, "h1", true, m.ID)
			q := &question.Question{FileID: fl.ID, MoldID: m.ID, Checksum: "q1", Health: 1, OriginHealth: 1}
			require.NoError(t, f.st.Questions().CreateQuestion(ctx, q))

			require.NoError(t, f.o.PresetQuestion(ctx, q.ID, false))

			got, err := f.st.Questions().GetQuestion(ctx, q.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.ExclusiveStatus)
			assert.Equal(t, tt.want, got.AIStatus)
			assert.Nil(t, got.PresetAnswer)
			assert.Empty(t, f.pipe.runs)
		})
	}
}

func TestPresetQuestion_LockContention(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.mold(t, schema.MoldComplex, paraMatch)
	fl := f.file(t, "h1", true, m.ID)
	q, err := f.qs.Create(ctx, fl.ID, question.MoldInfo{ID: m.ID, Type: m.Type, HasPredictors: true})
	require.NoError(t, err)

	_, err = f.locker.TryLock(ctx, lock.QuestionPostPipe(q.ID), time.Minute)
	require.NoError(t, err)

	err = f.o.PresetQuestion(ctx, q.ID, false)
	require.ErrorIs(t, err, lock.ErrContention)
	got, err := f.st.Questions().GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, question.AITodo, got.ExclusiveStatus)
}

func submitFixture(t *testing.T, opts ...orchestrator.Option) (*fixture, *question.Question) {
	t.Helper()
	f := newFixture(t, opts...)
	m := f.mold(t, schema.MoldComplex, paraMatch)
	fl := f.file(t, "h1", true, m.ID)
	q, err := f.qs.Create(context.Background(), fl.ID, question.MoldInfo{ID: m.ID, Type: m.Type, HasPredictors: true})
	require.NoError(t, err)
	f.st.AddUser(1, "alice")
	return f, q
}

func userAnswer(t *testing.T, name string) *answer.Answer {
	t.Helper()
	d := schematest.Simple()
	a := answer.New(d, "cs")
	it, err := answer.EmptyItem(d, schema.MustParseKey(`["Doc:0","name:0"]`))
	require.NoError(t, err)
	it.Data = []answer.Datum{{Boxes: []answer.BoxRef{{Page: 1, Text: name}}}}
	a.UserAnswer.Items = append(a.UserAnswer.Items, it)
	return a
}

func TestSubmit_HandsLockToPostPipe(t *testing.T) {
	ctx := context.Background()
	f, q := submitFixture(t)

	saved, err := f.o.Submit(ctx, orchestrator.SubmitRequest{QID: q.ID, User: question.User{ID: 1, Name: "alice"}, Data: userAnswer(t, "Bob")})
	require.NoError(t, err)
	require.NotNil(t, saved)

	require.Len(t, f.pipe.runs, 1)
	assert.Equal(t, q.ID, f.pipe.runs[0].QID)
	assert.False(t, f.pipe.runs[0].Opts.TriggeredByPredict)

	got, err := f.st.Questions().GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Answer)
	assert.NotEmpty(t, got.Answer.UserAnswer.Items)
	f.assertUnlocked(t, lock.QuestionPostPipe(q.ID))
}

func TestSubmit_TooFrequent(t *testing.T) {
	ctx := context.Background()
	f, q := submitFixture(t)
	_, err := f.locker.TryLock(ctx, lock.QuestionPostPipe(q.ID), time.Minute)
	require.NoError(t, err)

	_, err = f.o.Submit(ctx, orchestrator.SubmitRequest{QID: q.ID, User: question.User{ID: 1}, Data: userAnswer(t, "Bob")})
	require.ErrorIs(t, err, orchestrator.ErrSubmitTooFrequent)
	require.ErrorIs(t, err, lock.ErrContention)

	answers, err := f.st.Questions().ListAnswers(ctx, q.ID)
	require.NoError(t, err)
	assert.Empty(t, answers)
}

func TestSubmit_DispatchFailureReleasesLock(t *testing.T) {
	ctx := context.Background()
	f, q := submitFixture(t, orchestrator.WithDispatcher(failingDispatcher{err: errors.New("queue down")}))

	saved, err := f.o.Submit(ctx, orchestrator.SubmitRequest{QID: q.ID, User: question.User{ID: 1}, Data: userAnswer(t, "Bob")})
	require.NoError(t, err, "the answer is saved even when the follow-up cannot start")
	require.NotNil(t, saved)
	assert.Empty(t, f.pipe.runs)
	f.assertUnlocked(t, lock.QuestionPostPipe(q.ID))
}

func TestQuestionPostPipe_TakesLockWhenNotHanded(t *testing.T) {
	ctx := context.Background()
	f, q := submitFixture(t)
	_, err := f.locker.TryLock(ctx, lock.QuestionPostPipe(q.ID), time.Minute)
	require.NoError(t, err)

	err = f.o.QuestionPostPipe(ctx, orchestrator.PostPipeRequest{QID: q.ID})
	require.ErrorIs(t, err, lock.ErrContention)

	require.NoError(t, f.o.QuestionPostPipe(ctx, orchestrator.PostPipeRequest{QID: q.ID, Locked: true}))
	require.Len(t, f.pipe.runs, 1)
	f.assertUnlocked(t, lock.QuestionPostPipe(q.ID))
}

func TestConvertOrParse(t *testing.T) {
	ctx := context.Background()
	p := &fakeParser{}
	f := newFixture(t, orchestrator.WithParser(p))
	m := f.mold(t, schema.MoldComplex, paraMatch)
	a := f.file(t, "h1", false, m.ID)
	b := f.file(t, "h1", false, m.ID)

	require.NoError(t, f.o.ProcessFile(ctx, a.ID, orchestrator.ProcessOptions{OCR: true}))
	require.NoError(t, f.o.ConvertOrParse(ctx, b.ID, orchestrator.ProcessOptions{}))

	require.Len(t, p.reqs, 1, "one parse per content hash")
	assert.Equal(t, "h1", p.reqs[0].Hash)
	assert.True(t, p.reqs[0].OCR)
	got, err := f.st.Files().GetFile(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, file.ParseParsing, got.ParseStatus)

	ids, err := f.o.ParseComplete(ctx, "h1", payload(t, "姓名：Alice"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{a.ID, b.ID}, ids)
	f.assertUnlocked(t, lock.ParseFile("h1"))

	for _, id := range ids {
		got, err := f.st.Files().GetFile(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, file.ParseComplete, got.ParseStatus)
		q := f.question(t, id, m.ID)
		assert.Equal(t, question.AIFinish, q.AIStatus, "parsed files are predicted")
	}
}

func TestConvertOrParse_Failures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status file.ParseStatus
	}{
		{name: "rejected", err: parser.ErrParserRejected, status: file.ParseFail},
		{name: "unavailable", err: parser.ErrUnavailable, status: file.ParseParsing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, orchestrator.WithParser(&fakeParser{err: tt.err}))
			m := f.mold(t, schema.MoldComplex, paraMatch)
			fl := f.file(t, "h1", false, m.ID)

			err := f.o.ConvertOrParse(ctx, fl.ID, orchestrator.ProcessOptions{})
			require.ErrorIs(t, err, tt.err)
			got, err := f.st.Files().GetFile(ctx, fl.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.status, got.ParseStatus)
			f.assertUnlocked(t, lock.ParseFile("h1"))
		})
	}
}

func TestParseFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, orchestrator.WithParser(&fakeParser{}))
	m := f.mold(t, schema.MoldComplex, paraMatch)
	a := f.file(t, "h1", false, m.ID)
	b := f.file(t, "h1", false, m.ID)

	require.NoError(t, f.o.ConvertOrParse(ctx, a.ID, orchestrator.ProcessOptions{}))
	require.NoError(t, f.o.ParseFailed(ctx, "h1", "no interdoc"))

	for _, id := range []int64{a.ID, b.ID} {
		got, err := f.st.Files().GetFile(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, file.ParseFail, got.ParseStatus)
	}
	f.assertUnlocked(t, lock.ParseFile("h1"))

	assert.ErrorIs(t, f.o.ParseFailed(ctx, "missing", "no interdoc"), file.ErrNotFound)
}

func TestConvertOrParse_NoParser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.mold(t, schema.MoldComplex, paraMatch)
	fl := f.file(t, "h1", false, m.ID)

	require.ErrorIs(t, f.o.ConvertOrParse(ctx, fl.ID, orchestrator.ProcessOptions{}), parser.ErrNotConfigured)
	got, err := f.st.Files().GetFile(ctx, fl.ID)
	require.NoError(t, err)
	assert.Equal(t, file.ParseFail, got.ParseStatus)
}

func TestProcessFileExtract(t *testing.T) {
	ctx := context.Background()
	s := &fakeStudio{
		result:   &studio.ExtractResult{Status: studio.StatusSucceeded, Data: &studio.Extraction{Data: map[string]any{"name": "Alice"}}},
		traceErr: errors.New("no trace"),
	}
	f := newFixture(t, orchestrator.WithStudio(s))
	m := f.mold(t, schema.MoldLLM, "")
	fl := f.file(t, "h1", true, m.ID)

	require.NoError(t, f.o.PredictFile(ctx, fl.ID, false))
	assert.Equal(t, 1, s.uploads)
	assert.Equal(t, []string{"app-1/up-1"}, s.added)
	q := f.question(t, fl.ID, m.ID)
	assert.Equal(t, question.AIDoing, q.LLMStatus)
	assert.Nil(t, q.PresetAnswer, "llm molds have no preset prediction")
	stored, err := f.st.Files().GetFile(ctx, fl.ID)
	require.NoError(t, err)
	assert.Equal(t, "up-1", stored.StudioUploadID)

	require.NoError(t, f.o.ProcessFileExtract(ctx, orchestrator.ExtractRequest{FileID: fl.ID, UploadID: "up-1", MoldID: m.ID, Success: true}))
	q = f.question(t, fl.ID, m.ID)
	assert.Equal(t, question.AIFinish, q.LLMStatus)
	assert.Equal(t, question.AIFinish, q.AIStatus)
	require.NotNil(t, q.PresetAnswer)
	require.NotNil(t, q.Answer)
	require.Len(t, f.pipe.runs, 1)
	assert.True(t, f.pipe.runs[0].Opts.TriggeredByPredict)

	require.NoError(t, f.o.PredictFile(ctx, fl.ID, true))
	assert.Equal(t, 1, s.uploads, "the upload is reused")
	assert.Equal(t, []string{"app-1/up-1"}, s.redone)
}

func TestProcessFileExtract_Failure(t *testing.T) {
	ctx := context.Background()
	s := &fakeStudio{result: &studio.ExtractResult{Status: 3}}
	f := newFixture(t, orchestrator.WithStudio(s))
	m := f.mold(t, schema.MoldLLM, "")
	fl := f.file(t, "h1", true, m.ID)
	require.NoError(t, f.o.PredictFile(ctx, fl.ID, false))

	require.NoError(t, f.o.ProcessFileExtract(ctx, orchestrator.ExtractRequest{FileID: fl.ID, MoldID: m.ID, Success: false}))
	assert.Equal(t, question.AIFailed, f.question(t, fl.ID, m.ID).LLMStatus)

	rep, err := f.o.ResetStatuses(ctx, orchestrator.ResetRequest{StuckAfter: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Questions)
	assert.Equal(t, question.AITodo, f.question(t, fl.ID, m.ID).LLMStatus)

	require.NoError(t, f.o.ProcessFileExtract(ctx, orchestrator.ExtractRequest{FileID: fl.ID, MoldID: m.ID, Success: true}))
	assert.Equal(t, question.AIFailed, f.question(t, fl.ID, m.ID).LLMStatus, "a non-success studio status fails the question")
}

func TestPredictFile_StudioMissing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.mold(t, schema.MoldLLM, "")
	fl := f.file(t, "h1", true, m.ID)

	require.ErrorIs(t, f.o.PredictFile(ctx, fl.ID, false), orchestrator.ErrStudioUnavailable)
	assert.Equal(t, question.AIFailed, f.question(t, fl.ID, m.ID).LLMStatus)
}

func TestPredictFile_LLMRequestedOnce(t *testing.T) {
	ctx := context.Background()
	s := &fakeStudio{result: &studio.ExtractResult{Status: studio.StatusSucceeded, Data: &studio.Extraction{Data: map[string]any{"name": "Alice"}}}}
	f := newFixture(t, orchestrator.WithStudio(s))
	m := f.mold(t, schema.MoldLLM, "")
	fl := f.file(t, "h1", true, m.ID)

	require.NoError(t, f.o.PredictFile(ctx, fl.ID, false))
	require.NoError(t, f.o.PredictFile(ctx, fl.ID, false))
	assert.Equal(t, []string{"app-1/up-1"}, s.added, "a redelivered task does not queue the file again")
	assert.Equal(t, question.AIDoing, f.question(t, fl.ID, m.ID).LLMStatus)

	require.NoError(t, f.o.ProcessFileExtract(ctx, orchestrator.ExtractRequest{FileID: fl.ID, UploadID: "up-1", MoldID: m.ID, Success: true}))
	require.NoError(t, f.o.PredictFile(ctx, fl.ID, false))
	assert.Len(t, s.added, 1)
	assert.Empty(t, s.redone)
	assert.Equal(t, question.AIFinish, f.question(t, fl.ID, m.ID).LLMStatus)
}

// hybridMold has an exclusive "name" predicted from the document and an
// LLM "summary" extracted by the studio.
func (f *fixture) hybridMold(t *testing.T) *mold.Mold {
	t.Helper()
	m := &mold.Mold{
		Name:     "借款合同",
		Checksum: "cs",
		Type:     schema.MoldHybrid,
		Data: schema.Data{
			Schemas: []schema.SchemaItem{{
				Name:   "Doc",
				Orders: []string{"name", "summary"},
				Schema: map[string]schema.FieldDef{
					"name":    {Type: schema.TypeText, ExtractType: schema.ExtractExclusive},
					"summary": {Type: schema.TypeText, ExtractType: schema.ExtractLLM},
				},
			}},
			SchemaTypes: []schema.SchemaType{},
		},
		Predictors:  json.RawMessage(paraMatch),
		StudioAppID: "app-1",
	}
	require.NoError(t, f.st.Molds().CreateMold(context.Background(), m))
	return m
}

// texts maps the keys of the items of a with content to their text.
func texts(a *answer.Answer) map[string]string {
	out := map[string]string{}
	if a == nil {
		return out
	}
	for _, it := range a.UserAnswer.Items {
		if text := it.PlainText(); text != "" {
			out[it.Key] = text
		}
	}
	return out
}

func TestProcessFileExtract_HybridKeepsBothExtractors(t *testing.T) {
	const (
		nameKey    = `["Doc:0","name:0"]`
		summaryKey = `["Doc:0","summary:0"]`
	)
	ctx := context.Background()
	s := &fakeStudio{result: &studio.ExtractResult{Status: studio.StatusSucceeded, Data: &studio.Extraction{Data: map[string]any{"summary": "借款"}}}}
	f := newFixture(t, orchestrator.WithStudio(s))
	m := f.hybridMold(t)
	fl := f.file(t, "h1", true, m.ID)

	require.NoError(t, f.o.PredictFile(ctx, fl.ID, false))
	q := f.question(t, fl.ID, m.ID)
	require.Equal(t, question.AIFinish, q.ExclusiveStatus)
	name := texts(q.PresetAnswer)[nameKey]
	require.NotEmpty(t, name)
	assert.Equal(t, map[string]string{nameKey: name}, texts(q.PresetAnswer))

	_, err := f.locker.TryLock(ctx, lock.QuestionPostPipe(q.ID), time.Minute)
	require.NoError(t, err)
	err = f.o.ProcessFileExtract(ctx, orchestrator.ExtractRequest{FileID: fl.ID, UploadID: "up-1", MoldID: m.ID, Success: true})
	require.ErrorIs(t, err, lock.ErrContention, "the callback waits for the question lock")
	assert.Equal(t, question.AIDoing, f.question(t, fl.ID, m.ID).LLMStatus)
	require.NoError(t, f.locker.Unlock(ctx, lock.QuestionPostPipe(q.ID)))

	require.NoError(t, f.o.ProcessFileExtract(ctx, orchestrator.ExtractRequest{FileID: fl.ID, UploadID: "up-1", MoldID: m.ID, Success: true}))
	q = f.question(t, fl.ID, m.ID)
	assert.Equal(t, question.AIFinish, q.LLMStatus)
	assert.Equal(t, map[string]string{nameKey: name, summaryKey: "借款"}, texts(q.PresetAnswer))
	f.assertUnlocked(t, lock.QuestionPostPipe(q.ID))

	require.NoError(t, f.o.PresetQuestion(ctx, q.ID, true))
	q = f.question(t, fl.ID, m.ID)
	assert.Equal(t, map[string]string{nameKey: name, summaryKey: "借款"}, texts(q.PresetAnswer), "a new prediction keeps the llm items")
	assert.Equal(t, texts(q.PresetAnswer), texts(q.Answer))
}
