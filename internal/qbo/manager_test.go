package qbo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeCredentialSource struct {
	tokenRecorder
	creds map[uuid.UUID]Credentials
	loads int
}

func (f *fakeCredentialSource) Credential(_ context.Context, userID uuid.UUID) (Credentials, error) {
	f.loads++
	creds, ok := f.creds[userID]
	if !ok {
		return Credentials{}, errors.New("not found")
	}
	return creds, nil
}

func TestManager_CachesClientPerUser(t *testing.T) {
	userA, userB := uuid.New(), uuid.New()
	source := &fakeCredentialSource{creds: map[uuid.UUID]Credentials{
		userA: {UserID: userA, RealmID: "realm-a", AccessToken: "a", Expiry: time.Now().Add(time.Hour)},
		userB: {UserID: userB, RealmID: "realm-b", AccessToken: "b", Expiry: time.Now().Add(time.Hour)},
	}}
	m := NewManager(Config{ClientID: "id", ClientSecret: "secret"}, source)

	first, err := m.ClientFor(context.Background(), userA)
	if err != nil {
		t.Fatalf("ClientFor: %v", err)
	}
	second, err := m.ClientFor(context.Background(), userA)
	if err != nil {
		t.Fatalf("ClientFor: %v", err)
	}
	if first != second {
		t.Error("same user must get the cached client")
	}
	if source.loads != 1 {
		t.Errorf("credential loads = %d, want 1", source.loads)
	}

	other, err := m.ClientFor(context.Background(), userB)
	if err != nil {
		t.Fatalf("ClientFor: %v", err)
	}
	if other == first {
		t.Error("different users must get different clients")
	}
	if other.RealmID() != "realm-b" {
		t.Errorf("RealmID = %q", other.RealmID())
	}
}

func TestManager_MissingConnection(t *testing.T) {
	connected := uuid.New()
	source := &fakeCredentialSource{creds: map[uuid.UUID]Credentials{
		connected: {UserID: connected}, // no realm: OAuth flow never finished
	}}
	m := NewManager(Config{}, source)

	if _, err := m.ClientFor(context.Background(), uuid.New()); err == nil {
		t.Error("unknown user must fail")
	}
	if _, err := m.ClientFor(context.Background(), connected); err == nil {
		t.Error("user without a realm must fail")
	}
}
