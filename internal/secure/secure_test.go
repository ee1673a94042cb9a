package secure

import (
	"encoding/base64"
	"errors"
	"regexp"
	"testing"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

type payload struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	s := New()
	if s.Degraded() {
		t.Fatalf("expected healthy crypto")
	}
	in := payload{UserID: "1234567", Name: "Ann"}

	for _, password := range []string{"", "correct horse"} {
		blob, err := s.Encrypt(in, password)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		var out payload
		if err := s.Decrypt(blob, password, &out); err != nil {
			t.Fatalf("decrypt (password %q): %v", password, err)
		}
		if out != in {
			t.Fatalf("round trip mismatch: %+v", out)
		}
	}
}

func TestEncryptUsesFreshSaltAndIV(t *testing.T) {
	s := New()
	a, _ := s.Encrypt("same", "pw")
	b, _ := s.Encrypt("same", "pw")
	if a == b {
		t.Fatalf("expected distinct blobs for identical input")
	}
	raw, _ := base64.StdEncoding.DecodeString(a)
	if len(raw) <= SaltSize+IVSize {
		t.Fatalf("blob too short: %d", len(raw))
	}
}

func TestDecryptRejectsTamperedBlob(t *testing.T) {
	s := New()
	blob, err := s.Encrypt(payload{UserID: "1234567"}, "pw")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(blob)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	out := payload{Name: "untouched"}
	if err := s.Decrypt(tampered, "pw", &out); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
	if out.Name != "untouched" || out.UserID != "" {
		t.Fatalf("tampered blob leaked plaintext: %+v", out)
	}
}

func TestDecryptRejectsWrongPasswordAndGarbage(t *testing.T) {
	s := New()
	blob, _ := s.Encrypt("secret", "pw")
	var out string
	if err := s.Decrypt(blob, "other", &out); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt for wrong password, got %v", err)
	}
	if err := s.Decrypt("%%%not-base64", "pw", &out); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt for garbage, got %v", err)
	}
}

func TestDecryptAcceptsLegacyBlob(t *testing.T) {
	s := New()
	legacy := base64.StdEncoding.EncodeToString([]byte(`{"userId":"7654321","name":"Bob"}`))
	var out payload
	if err := s.Decrypt(legacy, "", &out); err != nil {
		t.Fatalf("legacy decode: %v", err)
	}
	if out.UserID != "7654321" || out.Name != "Bob" {
		t.Fatalf("unexpected legacy payload: %+v", out)
	}
}

func TestDegradedMode(t *testing.T) {
	s := New(WithRandom(failingReader{}))
	if !s.Degraded() {
		t.Fatalf("expected degraded crypto")
	}
	blob, err := s.Encrypt(payload{UserID: "1"}, "pw")
	if err != nil {
		t.Fatalf("degraded encrypt: %v", err)
	}
	if blob != base64.StdEncoding.EncodeToString([]byte(`{"userId":"1","name":""}`)) {
		t.Fatalf("unexpected degraded blob %q", blob)
	}
	var out payload
	if err := s.Decrypt(blob, "pw", &out); err != nil || out.UserID != "1" {
		t.Fatalf("degraded decrypt: %+v %v", out, err)
	}
	if got := s.Hash("abc"); got != "17862" {
		t.Fatalf("legacy hash of abc = %q", got)
	}
	if d := s.RandomDigits(7); !regexp.MustCompile(`^[1-9]\d{6}$`).MatchString(d) {
		t.Fatalf("fallback digits %q", d)
	}
}

func TestHash(t *testing.T) {
	s := New()
	const abc = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := s.Hash("abc"); got != abc {
		t.Fatalf("sha256(abc) = %s", got)
	}
	if s.Hash(payload{UserID: "1"}) != s.Hash(payload{UserID: "1"}) {
		t.Fatalf("hash must be deterministic")
	}
	if s.Hash(payload{UserID: "1"}) == s.Hash(payload{UserID: "2"}) {
		t.Fatalf("distinct payloads must hash differently")
	}
}

func TestLegacyHashWrapsSigned(t *testing.T) {
	if got := LegacyHash(""); got != "0" {
		t.Fatalf("empty hash = %q", got)
	}
	if got := LegacyHash("hello world"); got != "6aefe2c4" {
		t.Fatalf("hello world = %q", got)
	}
	if got := LegacyHash("The quick brown fox"); got[0] != '-' {
		t.Fatalf("expected a negative hash, got %q", got)
	}
}

func TestRandomDigits(t *testing.T) {
	s := New()
	re := regexp.MustCompile(`^[1-9]\d{6}$`)
	for i := 0; i < 100; i++ {
		if d := s.RandomDigits(7); !re.MatchString(d) {
			t.Fatalf("bad id %q", d)
		}
	}
}
