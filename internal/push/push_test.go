package push

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/dukerupert/organizer/internal/model"
)

func TestGenerateVAPIDKeys(t *testing.T) {
	pub, priv, err := GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate VAPID keys: %v", err)
	}

	if pub == "" {
		t.Error("expected non-empty public key")
	}
	if priv == "" {
		t.Error("expected non-empty private key")
	}

	// Public key should be base64url-encoded, 65 bytes uncompressed P-256 point
	pubBytes, err := base64.RawURLEncoding.DecodeString(pub)
	if err != nil {
		t.Fatalf("decode public key: %v", err)
	}
	if len(pubBytes) != 65 {
		t.Errorf("public key length = %d, want 65", len(pubBytes))
	}

	// Private key should be base64url-encoded, 32 bytes P-256 scalar
	privBytes, err := base64.RawURLEncoding.DecodeString(priv)
	if err != nil {
		t.Fatalf("decode private key: %v", err)
	}
	if len(privBytes) != 32 {
		t.Errorf("private key length = %d, want 32", len(privBytes))
	}

	// Generate again — should be different
	pub2, _, _ := GenerateVAPIDKeys()
	if pub == pub2 {
		t.Error("expected different keys on second generation")
	}
}

func TestSendRejectsInvalidSubscription(t *testing.T) {
	svc := NewService(Config{VAPIDPublicKey: "pub", VAPIDPrivateKey: "priv"})

	// Validation failures are raised before anything reaches the wire.
	cases := []*model.PushSubscription{
		nil,
		{},
		{Endpoint: "https://push.example.com/ch1"},
		{Endpoint: "https://push.example.com/ch1", P256dhKey: "k"},
		{P256dhKey: "k", AuthKey: "a"},
	}
	for i, sub := range cases {
		err := svc.Send(sub, Payload{Title: "t", Message: "m"})
		if !errors.Is(err, ErrInvalidSubscription) {
			t.Errorf("case %d: err = %v, want ErrInvalidSubscription", i, err)
		}
	}
}

func TestSubscriptionValid(t *testing.T) {
	sub := &model.PushSubscription{
		Endpoint:  "https://push.example.com/ch1",
		P256dhKey: "k",
		AuthKey:   "a",
	}
	if !sub.Valid() {
		t.Error("expected complete subscription to be valid")
	}
}

func TestNewServiceDefaultSubscriber(t *testing.T) {
	svc := NewService(Config{VAPIDPublicKey: "pub", VAPIDPrivateKey: "priv"})
	if svc.subscriber == "" {
		t.Error("expected a default subscriber contact")
	}
	if svc.VAPIDPublicKey() != "pub" {
		t.Errorf("public key = %q, want %q", svc.VAPIDPublicKey(), "pub")
	}
}
