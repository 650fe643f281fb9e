package imagepick

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEvaluator struct {
	mock.Mock
}

func (m *mockEvaluator) Upload(_ context.Context, path string) (Upload, error) {
	args := m.Called(path)
	if fn, ok := args.Get(0).(func(string) Upload); ok {
		return fn(path), args.Error(1)
	}
	return args.Get(0).(Upload), args.Error(1)
}

func (m *mockEvaluator) Generate(_ context.Context, prompt string, uploads []Upload) (string, error) {
	args := m.Called(prompt, uploads)
	return args.String(0), args.Error(1)
}

func (m *mockEvaluator) Delete(_ context.Context, u Upload) error {
	return m.Called(u).Error(0)
}

// expectUploads registers a successful upload and delete for every path.
func (m *mockEvaluator) expectUploads(paths ...string) {
	for _, p := range paths {
		u := Upload{Name: p, URI: "file://" + p, MIMEType: "image/jpeg"}
		m.On("Upload", p).Return(u, nil).Once()
		m.On("Delete", u).Return(nil).Once()
	}
}

func threeCandidates(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for i := 1; i <= 3; i++ {
		p := filepath.Join(dir, "candidate_"+string(rune('0'+i))+".jpg")
		require.NoError(t, os.WriteFile(p, makeNoisyJPEG(16, 16, uint32(i)), 0o644))
		paths = append(paths, p)
	}
	return paths
}

func uploadsOfLen(n int) any {
	return mock.MatchedBy(func(u []Upload) bool { return len(u) == n })
}

func TestSelectWithoutEvaluator(t *testing.T) {
	t.Parallel()

	cands := threeCandidates(t)
	s := &Selector{}
	path, o := s.Select(context.Background(), cands, "red apple")

	assert.Equal(t, cands[0], path)
	assert.Equal(t, Selected(1), o)
	assert.False(t, o.FellBack)
}

func TestSelectNoCandidates(t *testing.T) {
	t.Parallel()

	s := &Selector{Evaluator: &mockEvaluator{}}
	path, o := s.Select(context.Background(), nil, "red apple")

	assert.Empty(t, path)
	assert.True(t, o.FellBack)
	assert.Equal(t, ReasonNoCandidates, o.Reason)
}

func TestSelectEvaluatorChoice(t *testing.T) {
	t.Parallel()

	cands := threeCandidates(t)
	ev := &mockEvaluator{}
	ev.expectUploads(cands...)
	ev.On("Generate", SelectionPrompt("red apple", 3), uploadsOfLen(3)).Return("2\n", nil).Once()

	s := &Selector{Evaluator: ev, Backoff: time.Millisecond}
	path, o := s.Select(context.Background(), cands, "red apple")

	assert.Equal(t, cands[1], path)
	assert.Equal(t, 2, o.Index)
	assert.False(t, o.FellBack)
	assert.Equal(t, "2", o.Response)
	ev.AssertExpectations(t)
}

func TestSelectPausesAroundEvaluation(t *testing.T) {
	t.Parallel()

	const settle, rest = 40 * time.Millisecond, 60 * time.Millisecond
	cands := threeCandidates(t)
	ev := &mockEvaluator{}
	ev.expectUploads(cands...)
	var generatedAt time.Time
	ev.On("Generate", mock.Anything, uploadsOfLen(3)).Return("1", nil).Once().
		Run(func(mock.Arguments) { generatedAt = time.Now() })

	s := &Selector{Evaluator: ev, Backoff: time.Millisecond, Settle: settle, Rest: rest}
	start := time.Now()
	_, o := s.Select(context.Background(), cands, "red apple")
	done := time.Now()

	assert.Equal(t, 1, o.Index)
	assert.GreaterOrEqual(t, generatedAt.Sub(start), settle, "generate ran before the settle pause")
	assert.GreaterOrEqual(t, done.Sub(generatedAt), rest, "select returned before the rest pause")
	ev.AssertExpectations(t)
}

func TestNewSelectorPauseDefaults(t *testing.T) {
	t.Parallel()

	s := NewSelector(&Config{})
	assert.Equal(t, DefaultEvalSettle, s.Settle)
	assert.Equal(t, DefaultEvalRest, s.Rest)

	s = NewSelector(&Config{EvalSettle: time.Millisecond, EvalRest: 2 * time.Millisecond})
	assert.Equal(t, time.Millisecond, s.Settle)
	assert.Equal(t, 2*time.Millisecond, s.Rest)
}

func TestSelectFallsBack(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		response   string
		wantReason string
	}{
		{"out of range", "7", ReasonOutOfRange},
		{"zero", "0", ReasonUnparseable},
		{"not a number", "banana", ReasonUnparseable},
		{"empty", "   ", ReasonUnparseable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cands := threeCandidates(t)
			ev := &mockEvaluator{}
			ev.expectUploads(cands...)
			ev.On("Generate", mock.Anything, uploadsOfLen(3)).Return(tt.response, nil).Once()

			s := &Selector{Evaluator: ev, Backoff: time.Millisecond}
			path, o := s.Select(context.Background(), cands, "red apple")

			assert.Equal(t, cands[0], path)
			assert.True(t, o.FellBack)
			assert.Equal(t, 1, o.Index)
			assert.Equal(t, tt.wantReason, o.Reason)
			ev.AssertExpectations(t)
		})
	}
}

func TestSelectRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	cands := threeCandidates(t)
	ev := &mockEvaluator{}
	ev.expectUploads(cands...)
	unavailable := &EvalError{Provider: "test", Op: "generate", StatusCode: http.StatusServiceUnavailable}
	ev.On("Generate", mock.Anything, uploadsOfLen(3)).Return("", unavailable).Once()
	ev.On("Generate", mock.Anything, uploadsOfLen(3)).Return("3", nil).Once()

	s := &Selector{Evaluator: ev, Backoff: time.Millisecond}
	path, o := s.Select(context.Background(), cands, "red apple")

	assert.Equal(t, cands[2], path)
	assert.Equal(t, Selected(3).Index, o.Index)
	assert.False(t, o.FellBack)
	ev.AssertNumberOfCalls(t, "Generate", 2)
	ev.AssertExpectations(t)
}

func TestSelectRetriesExhausted(t *testing.T) {
	t.Parallel()

	cands := threeCandidates(t)
	ev := &mockEvaluator{}
	ev.expectUploads(cands...)
	ev.On("Generate", mock.Anything, uploadsOfLen(3)).
		Return("", &EvalError{Provider: "test", Op: "generate", StatusCode: http.StatusInternalServerError})

	s := &Selector{Evaluator: ev, MaxRetries: 3, Backoff: time.Millisecond}
	path, o := s.Select(context.Background(), cands, "red apple")

	assert.Equal(t, cands[0], path)
	assert.True(t, o.FellBack)
	assert.Equal(t, ReasonRetriesSpent, o.Reason)
	ev.AssertNumberOfCalls(t, "Generate", 3)
	ev.AssertExpectations(t)
}

func TestSelectPermanentErrorNotRetried(t *testing.T) {
	t.Parallel()

	cands := threeCandidates(t)
	ev := &mockEvaluator{}
	ev.expectUploads(cands...)
	ev.On("Generate", mock.Anything, uploadsOfLen(3)).
		Return("", &EvalError{Provider: "test", Op: "generate", StatusCode: http.StatusBadRequest}).Once()

	s := &Selector{Evaluator: ev, Backoff: time.Millisecond}
	_, o := s.Select(context.Background(), cands, "red apple")

	assert.True(t, o.FellBack)
	assert.Equal(t, ReasonEvaluatorError, o.Reason)
	ev.AssertNumberOfCalls(t, "Generate", 1)
}

func TestSelectSkipsFailedUploads(t *testing.T) {
	t.Parallel()

	cands := threeCandidates(t)
	ev := &mockEvaluator{}
	ev.expectUploads(cands[0], cands[2])
	ev.On("Upload", cands[1]).Return(Upload{}, errors.New("boom")).Once()
	// Only two images are shown, so "2" refers to the third candidate.
	ev.On("Generate", SelectionPrompt("red apple", 2), uploadsOfLen(2)).Return("2", nil).Once()

	s := &Selector{Evaluator: ev, Backoff: time.Millisecond}
	path, o := s.Select(context.Background(), cands, "red apple")

	assert.Equal(t, cands[2], path)
	assert.Equal(t, 3, o.Index)
	ev.AssertExpectations(t)
}

func TestSelectAllUploadsFail(t *testing.T) {
	t.Parallel()

	cands := threeCandidates(t)
	ev := &mockEvaluator{}
	ev.On("Upload", mock.Anything).Return(Upload{}, errors.New("quota"))

	s := &Selector{Evaluator: ev}
	path, o := s.Select(context.Background(), cands, "red apple")

	assert.Equal(t, cands[0], path)
	assert.Equal(t, ReasonUploadFailed, o.Reason)
	ev.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestSelectDeleteFailureIgnored(t *testing.T) {
	t.Parallel()

	cands := threeCandidates(t)[:1]
	ev := &mockEvaluator{}
	u := Upload{Name: cands[0]}
	ev.On("Upload", cands[0]).Return(u, nil).Once()
	ev.On("Delete", u).Return(errors.New("gone")).Once()
	ev.On("Generate", mock.Anything, uploadsOfLen(1)).Return("1", nil).Once()

	s := &Selector{Evaluator: ev}
	path, o := s.Select(context.Background(), cands, "pear")

	assert.Equal(t, cands[0], path)
	assert.False(t, o.FellBack)
	ev.AssertExpectations(t)
}

func TestSelectDedupHidesDuplicates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	same := makeNoisyJPEG(32, 32, 11)
	cands := []string{
		filepath.Join(dir, "candidate_1.jpg"),
		filepath.Join(dir, "candidate_2.jpg"),
		filepath.Join(dir, "candidate_3.jpg"),
	}
	require.NoError(t, os.WriteFile(cands[0], same, 0o644))
	require.NoError(t, os.WriteFile(cands[1], same, 0o644))
	require.NoError(t, os.WriteFile(cands[2], makeNoisyJPEG(32, 32, 99), 0o644))

	ev := &mockEvaluator{}
	ev.expectUploads(cands[0], cands[2])
	ev.On("Generate", mock.Anything, uploadsOfLen(2)).Return("2", nil).Once()

	s := &Selector{Evaluator: ev, Dedup: true}
	path, o := s.Select(context.Background(), cands, "noise")

	assert.Equal(t, cands[2], path)
	assert.Equal(t, 3, o.Index)
	ev.AssertExpectations(t)
}

func TestParseIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		resp    string
		n       int
		want    int
		wantErr bool
	}{
		{"2", 3, 2, false},
		{" 3\n", 3, 3, false},
		{"1. The red one", 5, 1, false},
		{"**4**", 5, 4, false},
		{"7", 3, 7, true},
		{"0", 3, 0, true},
		{"banana", 3, 0, true},
		{"", 3, 0, true},
		{"Image 2", 3, 0, true},
	}
	for _, tt := range tests {
		got, err := ParseIndex(tt.resp, tt.n)
		if tt.wantErr {
			assert.Error(t, err, "ParseIndex(%q, %d)", tt.resp, tt.n)
		} else {
			assert.NoError(t, err, "ParseIndex(%q, %d)", tt.resp, tt.n)
		}
		assert.Equal(t, tt.want, got, "ParseIndex(%q, %d)", tt.resp, tt.n)
	}
}

func TestSelectionPrompt(t *testing.T) {
	t.Parallel()

	p := SelectionPrompt("red apple", 5)
	assert.Contains(t, p, "5 candidate images")
	assert.Contains(t, p, `"red apple"`)
	assert.Contains(t, p, "from 1 to 5")
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	assert.True(t, IsTransient(&EvalError{StatusCode: 500}))
	assert.True(t, IsTransient(&EvalError{StatusCode: 429}))
	assert.False(t, IsTransient(&EvalError{StatusCode: 400}))
	assert.True(t, IsTransient(&EvalError{Err: context.DeadlineExceeded}))
	assert.False(t, IsTransient(errors.New("plain")))
}

func TestMaterialize(t *testing.T) {
	t.Parallel()

	cands := threeCandidates(t)
	dest := filepath.Join(t.TempDir(), "out", "1-1_red_apple.jpg")

	used, err := Materialize(cands[1], cands, dest)
	require.NoError(t, err)
	assert.Equal(t, cands[1], used)
	assert.True(t, Exists(dest))

	// Chosen file vanished: first existing candidate wins.
	require.NoError(t, os.Remove(cands[1]))
	require.NoError(t, os.Remove(cands[0]))
	used, err = Materialize(cands[1], cands, dest)
	require.NoError(t, err)
	assert.Equal(t, cands[2], used)

	_, err = Materialize("", nil, dest)
	assert.ErrorIs(t, err, ErrNoCandidates)
}
