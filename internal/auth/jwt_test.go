package auth

import (
	"errors"
	"testing"
	"time"
)

func TestSignAndParse(t *testing.T) {
	tok, err := SignJWT("s3cret", 42, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	uid, err := ParseJWT("s3cret", tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if uid != 42 {
		t.Fatalf("unexpected uid: %d", uid)
	}
}

func TestParseRejects(t *testing.T) {
	tok, _ := SignJWT("s3cret", 42, time.Hour)
	if _, err := ParseJWT("other", tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: expected ErrInvalidToken, got %v", err)
	}

	expired, _ := SignJWT("s3cret", 42, -time.Minute)
	if _, err := ParseJWT("s3cret", expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired: expected ErrInvalidToken, got %v", err)
	}

	if _, err := ParseJWT("s3cret", "not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage: expected ErrInvalidToken, got %v", err)
	}

	zero, _ := SignJWT("s3cret", 0, time.Hour)
	if _, err := ParseJWT("s3cret", zero); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("zero subject: expected ErrInvalidToken, got %v", err)
	}
}
