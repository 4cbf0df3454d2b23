package assistant

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refdesk/refdesk/internal/answer"
	"github.com/refdesk/refdesk/internal/index"
	"github.com/refdesk/refdesk/internal/prompt"
	"github.com/refdesk/refdesk/internal/session"
	"github.com/refdesk/refdesk/internal/testutil"
)

type fakeRetriever struct {
	entries     []index.Entry
	lastHistory []session.Turn
	err         error
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, history []session.Turn) ([]index.Entry, error) {
	f.lastHistory = history
	return f.entries, f.err
}

type fakeGenerator struct {
	result      *answer.Result
	err         error
	lastPayload prompt.Payload
	lastHistory []session.Turn
	calls       int
}

func (f *fakeGenerator) Generate(_ context.Context, payload prompt.Payload, history []session.Turn, question string, sink answer.Sink) (*answer.Result, error) {
	f.calls++
	f.lastPayload = payload
	f.lastHistory = history
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	return &res, nil
}

func relevantEntry() index.Entry {
	return index.Entry{
		ChunkID: "idempotency:0",
		Content: "Idempotency keys expire after 24 hours.",
		Score:   0.9,
		Metadata: index.Metadata{
			DocumentID: "idempotency",
			Title:      "Idempotency Keys",
			Position:   0,
		},
	}
}

func newTestAssistant(ret *fakeRetriever, gen *fakeGenerator) *Assistant {
	return New(ret, prompt.New(4000, testutil.DiscardLogger()), gen,
		session.NewManager(5), testutil.DiscardLogger())
}

func TestAskSuccessRecordsTurn(t *testing.T) {
	t.Parallel()

	ret := &fakeRetriever{entries: []index.Entry{relevantEntry()}}
	gen := &fakeGenerator{result: &answer.Result{
		Text:      "They expire after 24 hours [1].",
		Citations: []session.Citation{{Marker: 1, ChunkID: "idempotency:0"}},
		Status:    answer.StatusSucceeded,
	}}
	as := newTestAssistant(ret, gen)

	ans, err := as.Ask(context.Background(), "", "when do idempotency keys expire?")
	require.NoError(t, err)

	assert.NotEmpty(t, ans.SessionID)
	assert.Equal(t, "They expire after 24 hours [1].", ans.Text)
	assert.Equal(t, answer.StatusSucceeded, ans.Status)
	require.Len(t, ans.Citations, 1)

	conv, err := as.Sessions().Get(ans.SessionID)
	require.NoError(t, err)
	require.Equal(t, 1, conv.Len())
	assert.Equal(t, "when do idempotency keys expire?", conv.Recent(1)[0].Question)
}

func TestAskFollowUpCarriesHistory(t *testing.T) {
	t.Parallel()

	ret := &fakeRetriever{entries: []index.Entry{relevantEntry()}}
	gen := &fakeGenerator{result: &answer.Result{Text: "answer", Status: answer.StatusSucceeded}}
	as := newTestAssistant(ret, gen)

	first, err := as.Ask(context.Background(), "", "how do refunds work?")
	require.NoError(t, err)

	_, err = as.Ask(context.Background(), first.SessionID, "what if it fails?")
	require.NoError(t, err)

	require.Len(t, ret.lastHistory, 1)
	assert.Equal(t, "how do refunds work?", ret.lastHistory[0].Question)
	assert.Equal(t, ret.lastHistory, gen.lastHistory)
}

func TestAskHistoryBounded(t *testing.T) {
	t.Parallel()

	ret := &fakeRetriever{entries: []index.Entry{relevantEntry()}}
	gen := &fakeGenerator{result: &answer.Result{Text: "a", Status: answer.StatusSucceeded}}
	as := newTestAssistant(ret, gen)

	sessionID := ""
	for i := 1; i <= 6; i++ {
		ans, err := as.Ask(context.Background(), sessionID, fmt.Sprintf("question %d", i))
		require.NoError(t, err)
		sessionID = ans.SessionID
	}

	// Six turns against a bound of five: the oldest fell off.
	conv, err := as.Sessions().Get(sessionID)
	require.NoError(t, err)
	require.Equal(t, 5, conv.Len())
	assert.Equal(t, "question 2", conv.Recent(0)[0].Question)
}

func TestAskDegradedNotRecorded(t *testing.T) {
	t.Parallel()

	ret := &fakeRetriever{entries: []index.Entry{relevantEntry()}}
	gen := &fakeGenerator{result: &answer.Result{Text: answer.DegradedNotice, Status: answer.StatusDegraded}}
	as := newTestAssistant(ret, gen)

	ans, err := as.Ask(context.Background(), "", "question")
	require.NoError(t, err)
	assert.Equal(t, answer.StatusDegraded, ans.Status)

	conv, err := as.Sessions().Get(ans.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 0, conv.Len(), "degraded answers must not enter history")
}

func TestAskEmptyQuestion(t *testing.T) {
	t.Parallel()

	as := newTestAssistant(&fakeRetriever{}, &fakeGenerator{})
	_, err := as.Ask(context.Background(), "", "   ")
	require.Error(t, err)
}

func TestAskRetrieverError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("index unavailable")
	as := newTestAssistant(&fakeRetriever{err: wantErr}, &fakeGenerator{})

	_, err := as.Ask(context.Background(), "", "question")
	require.ErrorIs(t, err, wantErr)
}

func TestAskPassesAssembledPayload(t *testing.T) {
	t.Parallel()

	ret := &fakeRetriever{entries: []index.Entry{relevantEntry()}}
	gen := &fakeGenerator{result: &answer.Result{Text: "a", Status: answer.StatusSucceeded}}
	as := newTestAssistant(ret, gen)

	_, err := as.Ask(context.Background(), "", "when do idempotency keys expire?")
	require.NoError(t, err)

	require.Len(t, gen.lastPayload.Citations, 1)
	assert.Equal(t, "idempotency:0", gen.lastPayload.Citations[0].ChunkID)
	assert.Contains(t, gen.lastPayload.Context, "Idempotency keys expire after 24 hours.")
}
