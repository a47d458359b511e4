package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openchw/meshdoc/internal/core/store/persist"
	"github.com/openchw/meshdoc/internal/transport"
	"github.com/openchw/meshdoc/internal/transport/memory"
	"github.com/openchw/meshdoc/pkg/model"
)

type escalateFixture struct {
	*syncFixture
	prox    *memory.Transport
	cell    *memory.Transport
	sms     *memory.Transport
	records *persist.Store
	coord   *Coordinator
	esc     *Escalator
}

func newEscalateFixture(t *testing.T) *escalateFixture {
	t.Helper()
	f := newSyncFixture(t)

	prox := memory.New(transport.KindProximity, 10)
	cell := memory.New(transport.KindCellular, 0)
	smsT := memory.New(transport.KindSMS, 1)

	records, err := persist.Open(persist.Config{Path: t.TempDir()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	coord := NewCoordinator(Config{}, f.store, nil, prox, cell)
	esc := NewEscalator(Config{RetryInterval: 20 * time.Millisecond}, coord, smsT, records, nil)
	t.Cleanup(esc.Close)

	return &escalateFixture{
		syncFixture: f,
		prox:        prox,
		cell:        cell,
		sms:         smsT,
		records:     records,
		coord:       coord,
		esc:         esc,
	}
}

func (f *escalateFixture) emergency(t *testing.T) model.Document {
	t.Helper()
	path := "/emergency!/~@phc.bk~" + f.author.Address + "/e1"
	return f.addDoc(t, path, `{"patient_ref":"p1","urgency_level":"critical","location":"Rampur"}`)
}

func TestIsUrgent(t *testing.T) {
	assert.True(t, IsUrgent(model.Document{Path: "/emergency!/~@a.bk~@b.bk/e1"}))
	assert.True(t, IsUrgent(model.Document{Path: "/referrals/shared/r1", Text: `{"urgency_level":"high"}`}))
	assert.True(t, IsUrgent(model.Document{Path: "/referrals/shared/r1", Text: `{"urgency_level":"emergency"}`}))
	assert.False(t, IsUrgent(model.Document{Path: "/referrals/shared/r1", Text: `{"urgency_level":"routine"}`}))
	assert.False(t, IsUrgent(model.Document{Path: "/consultations/~@a.bk/2026/c1", Text: `{}`}))
}

func TestEscalateFirstSuccess(t *testing.T) {
	f := newEscalateFixture(t)
	doc := f.emergency(t)

	f.prox.FailWith(errors.New("no peer"))
	f.sms.FailWith(errors.New("no gateway"))

	kind, err := f.esc.Escalate(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, transport.KindCellular, kind)
	assert.Equal(t, 1, f.cell.SentCount())

	// Nothing was recorded as pending.
	recs, err := f.records.Pendings()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestEscalateFallsBackToSMS(t *testing.T) {
	f := newEscalateFixture(t)
	doc := f.emergency(t)

	f.prox.FailWith(errors.New("no peer"))
	f.cell.FailWith(errors.New("no tower"))

	kind, err := f.esc.Escalate(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, transport.KindSMS, kind)
	assert.Equal(t, 1, f.sms.SentCount())
}

func TestEscalateAllFailRecordsPending(t *testing.T) {
	f := newEscalateFixture(t)
	doc := f.emergency(t)

	f.prox.FailWith(errors.New("no peer"))
	f.cell.FailWith(errors.New("no tower"))
	f.sms.FailWith(errors.New("no gateway"))

	_, err := f.esc.Escalate(context.Background(), doc)
	require.Error(t, err)

	rec, err := f.records.GetPending(fmt.Sprintf("emergency-%d", doc.Timestamp))
	require.NoError(t, err)
	assert.Equal(t, "p1", rec.PatientRef)
	assert.Equal(t, "critical", rec.Urgency)
	assert.Equal(t, doc.Path, rec.Path)
}

func TestEscalateRetryDelivers(t *testing.T) {
	f := newEscalateFixture(t)
	doc := f.emergency(t)

	f.prox.FailWith(errors.New("no peer"))
	f.cell.FailWith(errors.New("no tower"))
	f.sms.FailWith(errors.New("no gateway"))

	_, err := f.esc.Escalate(context.Background(), doc)
	require.Error(t, err)

	// Connectivity returns; the retry loop clears the record.
	f.cell.FailWith(nil)

	id := fmt.Sprintf("emergency-%d", doc.Timestamp)
	require.Eventually(t, func() bool {
		_, err := f.records.GetPending(id)
		return errors.Is(err, model.ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEscalateRetryCountsAttempts(t *testing.T) {
	f := newEscalateFixture(t)
	doc := f.emergency(t)

	f.prox.FailWith(errors.New("no peer"))
	f.cell.FailWith(errors.New("no tower"))
	f.sms.FailWith(errors.New("no gateway"))

	_, err := f.esc.Escalate(context.Background(), doc)
	require.Error(t, err)

	id := fmt.Sprintf("emergency-%d", doc.Timestamp)
	require.Eventually(t, func() bool {
		rec, err := f.records.GetPending(id)
		return err == nil && rec.RetryCount >= 2
	}, 2*time.Second, 10*time.Millisecond)

	f.esc.StopRetry(id)
}

func TestHandleAcceptedIgnoresRoutine(t *testing.T) {
	f := newEscalateFixture(t)

	f.esc.HandleAccepted(model.Document{
		Path: "/consultations/~" + f.author.Address + "/2026/c1",
		Text: `{}`,
	})
	f.esc.Close()

	assert.Equal(t, 0, f.prox.SentCount())
	assert.Equal(t, 0, f.cell.SentCount())
	assert.Equal(t, 0, f.sms.SentCount())
}

func TestHandleAcceptedEscalatesEmergency(t *testing.T) {
	f := newEscalateFixture(t)
	doc := f.emergency(t)

	f.prox.FailWith(errors.New("no peer"))
	f.esc.HandleAccepted(doc)

	require.Eventually(t, func() bool {
		return f.cell.SentCount() > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResumePending(t *testing.T) {
	f := newEscalateFixture(t)

	rec := persist.PendingRecord{
		ID:        "emergency-99",
		Author:    f.author.Address,
		Path:      "/emergency!/~@phc.bk~" + f.author.Address + "/e9",
		Timestamp: 99,
	}
	require.NoError(t, f.records.PutPending(rec))

	require.NoError(t, f.esc.ResumePending())

	require.Eventually(t, func() bool {
		_, err := f.records.GetPending(rec.ID)
		return errors.Is(err, model.ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)
}
