package auth

import (
	"testing"
	"time"

	"github.com/platformkit/composer/internal/app/domain/platform"
	composererr "github.com/platformkit/composer/internal/errors"
)

func TestTokenRoundTrip(t *testing.T) {
	a := NewAuthorizer([]byte("test-secret"), "composer")

	token, err := a.IssueToken(Actor{ID: "u1", Name: "Ada", TenantID: "t1", Admin: true}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	actor, err := a.ParseToken("Bearer " + token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actor.ID != "u1" || actor.Name != "Ada" || actor.TenantID != "t1" || !actor.Admin {
		t.Fatalf("claims lost in transit: %+v", actor)
	}
}

func TestParseToken_Rejections(t *testing.T) {
	a := NewAuthorizer([]byte("test-secret"), "composer")
	other := NewAuthorizer([]byte("other-secret"), "composer")

	expired, err := a.IssueToken(Actor{ID: "u1"}, -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	forged, err := other.IssueToken(Actor{ID: "u1"}, time.Minute)
	if err != nil {
		t.Fatalf("issue forged: %v", err)
	}

	for name, token := range map[string]string{
		"empty":     "",
		"garbage":   "not.a.token",
		"expired":   expired,
		"wrong key": forged,
	} {
		if _, err := a.ParseToken(token); composererr.CodeOf(err) != composererr.CodeUnauthorized {
			t.Fatalf("%s: expected unauthorized, got %v", name, err)
		}
	}
}

func TestCanMutate(t *testing.T) {
	p := platform.Platform{Admins: []string{"owner"}}

	if !CanMutate(Actor{ID: "owner"}, p) {
		t.Fatalf("platform admin denied")
	}
	if !CanMutate(Actor{ID: "root", Admin: true}, p) {
		t.Fatalf("global admin denied")
	}
	if CanMutate(Actor{ID: "viewer"}, p) {
		t.Fatalf("viewer allowed to mutate")
	}
}
