package deviceid

import (
	"testing"

	"github.com/iliyamo/reservation-admin/internal/apperr"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec("mac-secret", "encrypt-secret")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestNewCodecRequiresSecrets(t *testing.T) {
	if _, err := NewCodec("", "x"); !apperr.Is(err, apperr.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := NewCodec("x", ""); !apperr.Is(err, apperr.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestIssueThenValidateKeepsID(t *testing.T) {
	c := newTestCodec(t)

	first, err := c.IssueOrValidate("", "10.0.0.1")
	if err != nil {
		t.Fatalf("IssueOrValidate: %v", err)
	}
	if !first.Issued || first.ID == "" || first.Token == "" {
		t.Fatalf("expected a fresh identity, got %+v", first)
	}

	again, err := c.IssueOrValidate(first.Token, "10.0.0.2")
	if err != nil {
		t.Fatalf("IssueOrValidate: %v", err)
	}
	if again.Issued {
		t.Error("valid token was reissued")
	}
	if again.ID != first.ID {
		t.Errorf("id changed: %s != %s", again.ID, first.ID)
	}
}

func TestTamperedTokenIsReissued(t *testing.T) {
	c := newTestCodec(t)
	first, _ := c.IssueOrValidate("", "10.0.0.1")

	tampered := first.Token[:len(first.Token)-2] + "xx"
	got, err := c.IssueOrValidate(tampered, "10.0.0.1")
	if err != nil {
		t.Fatalf("decode failure must not be an error: %v", err)
	}
	if !got.Issued || got.ID == first.ID {
		t.Fatalf("expected reissue, got %+v", got)
	}

	if _, err := c.IssueOrValidate("garbage", "10.0.0.1"); err != nil {
		t.Fatalf("garbage token must not be an error: %v", err)
	}
}

func TestTokenFromOtherSecretIsRejected(t *testing.T) {
	c := newTestCodec(t)
	other, err := NewCodec("other-mac", "encrypt-secret")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	tok, _ := other.Encode("abc")
	if _, ok := c.Decode(tok); ok {
		t.Fatal("token sealed with another secret decoded")
	}
}

func TestInnerMACIsChecked(t *testing.T) {
	c := newTestCodec(t)
	// a well sealed payload whose inner MAC is wrong
	forged, err := c.sc.Encode(CookieName, "abc."+c.sign("xyz"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, ok := c.Decode(forged); ok {
		t.Fatal("payload with mismatched MAC decoded")
	}

	ok, _ := c.Encode("abc")
	if id, valid := c.Decode(ok); !valid || id != "abc" {
		t.Fatalf("expected abc, got %q %v", id, valid)
	}
}
