package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openchw/meshdoc/internal/core/authorize"
	"github.com/openchw/meshdoc/internal/core/store"
	"github.com/openchw/meshdoc/internal/identity"
	"github.com/openchw/meshdoc/internal/transport"
	"github.com/openchw/meshdoc/internal/transport/memory"
	"github.com/openchw/meshdoc/pkg/model"
)

type syncFixture struct {
	author identity.Keypair
	share  identity.Keypair
	store  *store.Store
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	author, err := identity.New(identity.AuthorSigil, "asha1")
	require.NoError(t, err)
	share, err := identity.New(identity.ShareSigil, "village")
	require.NoError(t, err)

	authz, err := authorize.New(authorize.Config{
		SharedRules: []authorize.SharedRule{{Prefix: "/"}},
	}, nil)
	require.NoError(t, err)

	return &syncFixture{
		author: author,
		share:  share,
		store:  store.New(store.Config{}, authz, nil),
	}
}

// addDoc ingests a freshly signed document and returns it.
func (f *syncFixture) addDoc(t *testing.T, path, text string) model.Document {
	t.Helper()
	d := model.Document{
		Author:    f.author.Address,
		Path:      path,
		Text:      text,
		TextHash:  model.HashText(text),
		Format:    model.FormatVersion,
		Timestamp: time.Now().UnixMicro(),
		Share:     f.share.Address,
	}
	if d.IsEphemeral() {
		d.Expiry = time.Now().Add(48 * time.Hour).UnixMicro()
	}
	d.Signature = f.author.SignDocument(d)
	d.ShareSignature = f.share.SignDocument(d)
	out := f.store.Ingest(d)
	require.Equal(t, model.Accepted, out.Status, "reason %s", out.Reason)
	return d
}

func (f *syncFixture) ownedPath(suffix string) string {
	return "/patients/~" + f.author.Address + "/" + suffix
}

func TestRunSessionSuccess(t *testing.T) {
	f := newSyncFixture(t)
	f.addDoc(t, f.ownedPath("a"), `{"n":1}`)
	f.addDoc(t, f.ownedPath("b"), `{"n":2}`)

	cell := memory.New(transport.KindCellular, 0)
	coord := NewCoordinator(Config{}, f.store, nil, cell)

	res, err := coord.RunSession(context.Background(), transport.KindCellular)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Transferred)
	assert.Equal(t, 0, f.store.BacklogLen())

	st := coord.Status()
	assert.False(t, st.LastSync.IsZero())
	assert.Equal(t, transport.KindCellular, st.Transport)
	assert.Equal(t, 2, st.Transferred)
	assert.Empty(t, st.RecentErrors)
}

func TestRunSessionBusy(t *testing.T) {
	f := newSyncFixture(t)
	f.addDoc(t, f.ownedPath("a"), `{"n":1}`)

	cell := memory.New(transport.KindCellular, 0)
	release := make(chan struct{})
	cell.BlockUntil(release)

	coord := NewCoordinator(Config{}, f.store, nil, cell)

	done := make(chan error, 1)
	go func() {
		_, err := coord.RunSession(context.Background(), transport.KindCellular)
		done <- err
	}()

	// Wait until the first session holds the slot.
	require.Eventually(t, func() bool {
		return cell.InFlight() == 1
	}, time.Second, 5*time.Millisecond)

	_, err := coord.RunSession(context.Background(), transport.KindCellular)
	assert.ErrorIs(t, err, model.ErrSessionBusy)

	// A rejected session leaves the status untouched.
	st := coord.Status()
	assert.True(t, st.LastSync.IsZero())
	assert.Empty(t, st.RecentErrors)

	close(release)
	require.NoError(t, <-done)
}

func TestRunSessionFailure(t *testing.T) {
	f := newSyncFixture(t)
	doc := f.addDoc(t, f.ownedPath("a"), `{"n":1}`)

	cell := memory.New(transport.KindCellular, 0)
	cell.FailWith(errors.New("tower out of range"))
	coord := NewCoordinator(Config{}, f.store, nil, cell)

	_, err := coord.RunSession(context.Background(), transport.KindCellular)
	require.Error(t, err)

	// Nothing is dropped on failure.
	require.Equal(t, 1, f.store.BacklogLen())
	assert.Equal(t, doc.Path, f.store.Backlog()[0].Path)

	st := coord.Status()
	assert.True(t, st.LastSync.IsZero())
	require.Len(t, st.RecentErrors, 1)
	assert.Contains(t, st.RecentErrors[0], "tower out of range")
}

func TestRunSessionNoTransport(t *testing.T) {
	f := newSyncFixture(t)
	coord := NewCoordinator(Config{}, f.store, nil)

	_, err := coord.RunSession(context.Background(), transport.KindProximity)
	assert.ErrorIs(t, err, model.ErrNoTransport)
}

func TestProximitySessionCap(t *testing.T) {
	f := newSyncFixture(t)
	for i := 0; i < 15; i++ {
		f.addDoc(t, f.ownedPath(fmt.Sprintf("p%02d", i)), `{"n":1}`)
	}

	prox := memory.New(transport.KindProximity, 10)
	coord := NewCoordinator(Config{}, f.store, nil, prox)

	res, err := coord.RunSession(context.Background(), transport.KindProximity)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Transferred)
	assert.Equal(t, 5, f.store.BacklogLen())

	// A second session drains the remainder.
	res, err = coord.RunSession(context.Background(), transport.KindProximity)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Transferred)
	assert.Equal(t, 0, f.store.BacklogLen())
}

func TestSessionSendsEmergenciesFirst(t *testing.T) {
	f := newSyncFixture(t)
	f.addDoc(t, f.ownedPath("routine"), `{"n":1}`)
	emergency := f.addDoc(t, "/emergency!/~@phc.bk~"+f.author.Address+"/e1", `{"urgency_level":"critical"}`)

	prox := memory.New(transport.KindProximity, 1)
	coord := NewCoordinator(Config{}, f.store, nil, prox)

	_, err := coord.RunSession(context.Background(), transport.KindProximity)
	require.NoError(t, err)

	sent := prox.Sent()
	require.Len(t, sent, 1)
	require.Len(t, sent[0], 1)
	assert.Equal(t, emergency.Path, sent[0][0].Path)
}

func TestManualSync(t *testing.T) {
	f := newSyncFixture(t)
	f.addDoc(t, f.ownedPath("a"), `{"n":1}`)

	cell := memory.New(transport.KindCellular, 0)
	coord := NewCoordinator(Config{}, f.store, nil, cell)

	res, err := coord.ManualSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Transferred)
	assert.Equal(t, 1, cell.SentCount())

	// Reported as manual even though it rode the cellular channel.
	assert.Equal(t, transport.KindManual, coord.Status().Transport)
}

func TestStatusErrorsBounded(t *testing.T) {
	f := newSyncFixture(t)

	cell := memory.New(transport.KindCellular, 0)
	coord := NewCoordinator(Config{}, f.store, nil, cell)

	for i := 0; i < maxRecentErrors+3; i++ {
		cell.FailWith(fmt.Errorf("failure %d", i))
		_, err := coord.RunSession(context.Background(), transport.KindCellular)
		require.Error(t, err)
	}

	st := coord.Status()
	require.Len(t, st.RecentErrors, maxRecentErrors)
	// Oldest entries dropped.
	assert.Contains(t, st.RecentErrors[len(st.RecentErrors)-1], fmt.Sprintf("failure %d", maxRecentErrors+2))
}

func TestSuccessClearsErrors(t *testing.T) {
	f := newSyncFixture(t)
	f.addDoc(t, f.ownedPath("a"), `{"n":1}`)

	cell := memory.New(transport.KindCellular, 0)
	coord := NewCoordinator(Config{}, f.store, nil, cell)

	cell.FailWith(errors.New("flaky"))
	_, err := coord.RunSession(context.Background(), transport.KindCellular)
	require.Error(t, err)
	require.NotEmpty(t, coord.Status().RecentErrors)

	cell.FailWith(nil)
	_, err = coord.RunSession(context.Background(), transport.KindCellular)
	require.NoError(t, err)
	assert.Empty(t, coord.Status().RecentErrors)
}

func TestAutoSync(t *testing.T) {
	f := newSyncFixture(t)
	f.addDoc(t, f.ownedPath("a"), `{"n":1}`)

	cell := memory.New(transport.KindCellular, 0)
	coord := NewCoordinator(Config{AutoSyncInterval: 20 * time.Millisecond}, f.store, nil, cell)
	coord.SetReachable(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord.Start(ctx)
	defer coord.Close()

	require.Eventually(t, func() bool {
		return f.store.BacklogLen() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestAutoSyncSkipsWhenUnreachable(t *testing.T) {
	f := newSyncFixture(t)
	f.addDoc(t, f.ownedPath("a"), `{"n":1}`)

	cell := memory.New(transport.KindCellular, 0)
	cell.SetReachable(false)
	coord := NewCoordinator(Config{AutoSyncInterval: 10 * time.Millisecond}, f.store, nil, cell)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord.Start(ctx)
	defer coord.Close()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, f.store.BacklogLen())
	assert.Equal(t, 0, cell.SentCount())
}
