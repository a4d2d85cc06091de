package repo

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signline/internal/db"
	"signline/internal/domain"
	"signline/internal/migrate"
)

const ts = "2024-03-05T09:30:00Z"

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	return Repo{DB: conn}
}

func sampleEnvelope(id string) domain.Envelope {
	sent := ts
	return domain.Envelope{
		ID:             id,
		DocumentStatus: domain.StatusSent,
		IsRoutingOrder: true,
		PDF:            "pdf/5-3-2024_1-merged.pdf",
		CreatedAt:      ts,
		UpdatedAt:      ts,
		Files: []domain.DocumentSlot{
			{Filename: "Contract", StoredName: "originals/a.pdf", TemplatePDF: "pdf/a.pdf", Mimetype: "application/pdf"},
			{Filename: "Annex", StoredName: "originals/b.pdf", TemplatePDF: "pdf/b.pdf", Mimetype: "application/pdf", FileID: "f-2"},
		},
		Signers: []domain.Signer{
			{Email: "a@example.com", Name: "A", Action: domain.ActionSign, Status: domain.StatusSent, SentAt: &sent},
			{Email: "b@example.com", Name: "B", Action: domain.ActionView, RoutingOrder: 1, Status: domain.StatusPending},
		},
	}
}

func TestEnvelopeRoundTripAndVersioning(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, r.InsertEnvelope(ctx, nil, sampleEnvelope("env-1")))

	got, err := r.GetEnvelope(ctx, nil, "env-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, got.IsRoutingOrder)
	require.Len(t, got.Files, 2)
	assert.Equal(t, "f-2", got.Files[1].FileID)
	require.Len(t, got.Signers, 2)
	require.NotNil(t, got.Signers[0].SentAt)
	assert.Nil(t, got.Signers[1].SentAt)

	stale := got.Clone()
	got.Signers[1].Status = domain.StatusSent
	signed := "signed/a.pdf"
	got.Files[0].SignedTemplatePDF = &signed
	v, err := r.SaveEnvelope(ctx, nil, got)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	_, err = r.SaveEnvelope(ctx, nil, stale)
	assert.ErrorIs(t, err, ErrVersionConflict)

	reloaded, err := r.GetEnvelope(ctx, nil, "env-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, reloaded.Signers[1].Status)
	require.NotNil(t, reloaded.Files[0].SignedTemplatePDF)
	assert.Equal(t, signed, *reloaded.Files[0].SignedTemplatePDF)

	_, err = r.GetEnvelope(ctx, nil, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	missing := sampleEnvelope("missing")
	missing.Version = 1
	_, err = r.SaveEnvelope(ctx, nil, missing)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateSignerEmailRejected(t *testing.T) {
	r := newTestRepo(t)
	env := sampleEnvelope("env-dup")
	env.Signers[1].Email = env.Signers[0].Email
	assert.Error(t, r.InsertEnvelope(context.Background(), nil, env))
}

func TestListEnvelopes(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, r.InsertEnvelope(ctx, nil, sampleEnvelope("env-1")))
	other := sampleEnvelope("env-2")
	other.DocumentStatus = domain.StatusAvoided
	other.Signers = other.Signers[1:]
	require.NoError(t, r.InsertEnvelope(ctx, nil, other))

	all, err := r.ListEnvelopes(ctx, EnvelopeFilters{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	avoided, err := r.ListEnvelopes(ctx, EnvelopeFilters{Status: "avoided"})
	require.NoError(t, err)
	require.Len(t, avoided, 1)
	assert.Equal(t, "env-2", avoided[0].ID)

	byEmail, err := r.ListEnvelopes(ctx, EnvelopeFilters{Email: " A@example.com "})
	require.NoError(t, err)
	require.Len(t, byEmail, 1)
	assert.Equal(t, "env-1", byEmail[0].ID)

	counts, err := r.CountSigners(ctx, []string{"env-1", "env-2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"env-1": 2, "env-2": 1}, counts)
}

func TestSignatureLastWriteWins(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, r.UpsertSignature(ctx, nil, domain.Signature{Email: "A@example.com", Signature: "first", UpdatedAt: ts}))
	require.NoError(t, r.UpsertSignature(ctx, nil, domain.Signature{Email: "a@example.com", Signature: "second", UpdatedAt: ts}))
	sig, err := r.GetSignature(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "second", sig.Signature)

	_, err = r.GetSignature(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNotificationQueue(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := r.EnqueueNotification(ctx, nil, domain.NotificationTask{
			EnvelopeID: "env-1", SignerIndex: i, Email: "a@example.com", Kind: domain.MessageSignRequest, CreatedAt: ts,
		})
		require.NoError(t, err)
	}
	claimed, err := r.ClaimNotifications(ctx, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, domain.TaskSending, claimed[0].Status)

	rest, err := r.ClaimNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, 2, rest[0].SignerIndex)

	require.NoError(t, r.FinishNotification(ctx, claimed[0].ID, domain.TaskSent, "", ts))
	require.NoError(t, r.FinishNotification(ctx, claimed[1].ID, domain.TaskFailed, "smtp down", ts))
	n, err := r.AbandonSending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	tasks, err := r.ListNotifications(ctx, "env-1")
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, domain.TaskSent, tasks[0].Status)
	require.NotNil(t, tasks[0].SentAt)
	assert.Equal(t, "smtp down", tasks[1].Error)
	assert.Equal(t, domain.TaskFailed, tasks[2].Status)
}

func TestCancelPendingNotifications(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	for _, id := range []string{"env-1", "env-1", "env-2"} {
		_, err := r.EnqueueNotification(ctx, nil, domain.NotificationTask{
			EnvelopeID: id, Email: "a@example.com", Kind: domain.MessageSignRequest, CreatedAt: ts,
		})
		require.NoError(t, err)
	}
	claimed, err := r.ClaimNotifications(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	n, err := r.CancelPendingNotifications(ctx, tx, "env-1")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.Equal(t, int64(1), n)

	tasks, err := r.ListNotifications(ctx, "env-1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, domain.TaskSending, tasks[0].Status)
	assert.Equal(t, domain.TaskCancelled, tasks[1].Status)
	assert.Equal(t, "envelope cancelled", tasks[1].Error)

	rest, err := r.ClaimNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "env-2", rest[0].EnvelopeID)
}

func TestWebhookDeliveriesAtMostOnce(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,envelope_id,payload_json) VALUES (?,?,?,?)`, ts, "envelope.sent", "env-1", "{}")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	eventID, err := res.LastInsertId()
	require.NoError(t, err)

	sub := domain.WebhookSubscription{ID: "wh-1", URL: "https://hooks.example.com", Events: []string{"envelope.completed"}, Secret: "s", Active: true, CreatedAt: ts}
	require.NoError(t, r.InsertWebhook(ctx, nil, sub))
	subs, err := r.ListWebhooks(ctx, true)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, []string{"envelope.completed"}, subs[0].Events)
	assert.Equal(t, "s", subs[0].Secret)

	ok, err := r.ClaimDelivery(ctx, "wh-1", eventID, ts)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.ClaimDelivery(ctx, "wh-1", eventID, ts)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, r.FinishDelivery(ctx, "wh-1", eventID, domain.DeliveryFailed, "status 500"))

	deliveries, err := r.ListDeliveries(ctx, "wh-1")
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, domain.DeliveryFailed, deliveries[0].Status)

	pending, err := r.UndispatchedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, r.MarkEventDispatched(ctx, eventID, ts))
	pending, err = r.UndispatchedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	latest, err := r.LatestEventID(ctx, (*sql.Tx)(nil))
	require.NoError(t, err)
	assert.Equal(t, eventID, latest)

	require.NoError(t, r.SetWebhookActive(ctx, "wh-1", false))
	subs, err = r.ListWebhooks(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, subs)
	assert.ErrorIs(t, r.SetWebhookActive(ctx, "nope", true), ErrNotFound)
}
