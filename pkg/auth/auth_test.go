package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/meshboard/sfu-plugin/pkg/identity"
)

func mustKeyPair(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}

	return priv, der
}

func sign(t *testing.T, priv *rsa.PrivateKey, claims Claims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS512, claims)

	s, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	return s
}

func TestNoKeyConfiguredAllowsEverything(t *testing.T) {
	v, err := NewValidator(nil)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	if v.Configured() {
		t.Fatal("expected validator to report unconfigured")
	}

	ok, err := v.MayJoin("", "alpha")
	if err != nil || !ok {
		t.Fatalf("expected unconditional allow, got ok=%v err=%v", ok, err)
	}

	ok, err = v.MayKick("")
	if err != nil || !ok {
		t.Fatalf("expected unconditional allow, got ok=%v err=%v", ok, err)
	}
}

func TestKeyConfiguredNoTokenRejected(t *testing.T) {
	_, der := mustKeyPair(t)

	v, err := NewValidator(der)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	if _, err := v.MayJoin("", "alpha"); err != ErrNoToken {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestMayJoinRoomRestriction(t *testing.T) {
	priv, der := mustKeyPair(t)

	v, err := NewValidator(der)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	restricted := sign(t, priv, Claims{JoinHub: true, RoomIDs: []identity.RoomID{"alpha"}})

	ok, err := v.MayJoin(restricted, "alpha")
	if err != nil || !ok {
		t.Fatalf("expected join to alpha allowed, got ok=%v err=%v", ok, err)
	}

	ok, err = v.MayJoin(restricted, "beta")
	if err != nil || ok {
		t.Fatalf("expected join to beta denied, got ok=%v err=%v", ok, err)
	}

	unrestricted := sign(t, priv, Claims{JoinHub: true})

	ok, err = v.MayJoin(unrestricted, "anything")
	if err != nil || !ok {
		t.Fatalf("expected unrestricted join_hub to allow any room, got ok=%v err=%v", ok, err)
	}

	noJoin := sign(t, priv, Claims{JoinHub: false})

	ok, err = v.MayJoin(noJoin, "alpha")
	if err != nil || ok {
		t.Fatalf("expected join_hub=false to deny, got ok=%v err=%v", ok, err)
	}
}

func TestMayKickRequiresClaim(t *testing.T) {
	priv, der := mustKeyPair(t)

	v, err := NewValidator(der)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	kicker := sign(t, priv, Claims{KickUsers: true})

	ok, err := v.MayKick(kicker)
	if err != nil || !ok {
		t.Fatalf("expected kick allowed, got ok=%v err=%v", ok, err)
	}

	nonKicker := sign(t, priv, Claims{KickUsers: false})

	ok, err = v.MayKick(nonKicker)
	if err != nil || ok {
		t.Fatalf("expected kick denied, got ok=%v err=%v", ok, err)
	}
}

func TestWrongKeyRejected(t *testing.T) {
	priv1, _ := mustKeyPair(t)
	_, der2 := mustKeyPair(t)

	v, err := NewValidator(der2)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	token := sign(t, priv1, Claims{JoinHub: true})

	if _, err := v.MayJoin(token, "alpha"); err == nil {
		t.Fatal("expected token signed by a different key to be rejected")
	}
}
