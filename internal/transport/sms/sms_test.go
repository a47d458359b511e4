package sms

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openchw/meshdoc/pkg/model"
)

func emergencyDoc() model.Document {
	return model.Document{
		Author:    "@asha1.bkey",
		Path:      "/emergency!/~@phc1.bkey~@asha1.bkey/e1",
		Text:      `{"patient_ref":"p1","location":"Rampur","urgency_level":"critical","contact":"12345","notes":"long clinical narrative that must not travel by SMS"}`,
		Timestamp: 42,
	}
}

func TestCondense(t *testing.T) {
	body, ok := Condense(emergencyDoc())
	require.True(t, ok)

	var m map[string]string
	require.NoError(t, json.Unmarshal([]byte(body), &m))
	assert.Equal(t, "EMERGENCY", m["type"])
	assert.Equal(t, "p1", m["patient"])
	assert.Equal(t, "Rampur", m["location"])
	assert.Equal(t, "critical", m["urgency"])
	assert.Equal(t, "12345", m["contact"])

	// Only the essential fields survive condensing.
	assert.NotContains(t, body, "clinical narrative")
}

func TestCondenseNonEmergency(t *testing.T) {
	doc := model.Document{Path: "/referrals/shared/2026/1/r1", Text: `{"urgency_level":"high"}`}
	_, ok := Condense(doc)
	assert.False(t, ok)
}

func TestSend(t *testing.T) {
	var gotTo, gotBody string
	gw := GatewayFunc(func(_ context.Context, to, body string) error {
		gotTo, gotBody = to, body
		return nil
	})
	tr := New(Config{Recipient: "108"}, gw, nil)

	res, err := tr.Send(context.Background(), []model.Document{emergencyDoc()})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, "108", gotTo)
	assert.Contains(t, gotBody, "EMERGENCY")
}

func TestSendDeclinesNonEmergency(t *testing.T) {
	gw := GatewayFunc(func(_ context.Context, _, _ string) error {
		t.Fatal("gateway must not be called")
		return nil
	})
	tr := New(Config{Recipient: "108"}, gw, nil)

	doc := model.Document{Path: "/consultations/~@a.bk/2026/c1", Text: `{}`}
	_, err := tr.Send(context.Background(), []model.Document{doc})
	assert.ErrorIs(t, err, model.ErrDeclined)
}

func TestSendGatewayFailure(t *testing.T) {
	gw := GatewayFunc(func(_ context.Context, _, _ string) error {
		return errors.New("modem error")
	})
	tr := New(Config{Recipient: "108"}, gw, nil)

	_, err := tr.Send(context.Background(), []model.Document{emergencyDoc()})
	assert.Error(t, err)
}

func TestUnreachableWithoutRecipient(t *testing.T) {
	tr := New(Config{}, GatewayFunc(func(_ context.Context, _, _ string) error { return nil }), nil)
	assert.False(t, tr.Reachable())

	_, err := tr.Send(context.Background(), []model.Document{emergencyDoc()})
	assert.ErrorIs(t, err, model.ErrUnreachable)
}
