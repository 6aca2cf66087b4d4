package cipher

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, KeySize)
}

func TestRoundTrip(t *testing.T) {
	c, err := New(testKey())
	gt.NoError(t, err).Required()

	for _, in := range []string{
		"",
		"My name is Ada and I am an INTJ.",
		"nul\x00inside",
		"unicode: héllo wörld 你好 🙂",
	} {
		blob, err := c.Encrypt(in)
		gt.NoError(t, err).Required()
		gt.Bool(t, bytes.Contains(blob, []byte(in)) && in != "").False()

		out, err := c.Decrypt(blob)
		gt.NoError(t, err).Required()
		gt.Value(t, out).Equal(in)
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	c, err := New(testKey())
	gt.NoError(t, err).Required()

	a, err := c.Encrypt("same text")
	gt.NoError(t, err).Required()
	b, err := c.Encrypt("same text")
	gt.NoError(t, err).Required()
	gt.Bool(t, bytes.Equal(a[:NonceSize], b[:NonceSize])).False()
}

func TestDecryptRejectsCorruptedBlob(t *testing.T) {
	c, err := New(testKey())
	gt.NoError(t, err).Required()

	blob, err := c.Encrypt("summary")
	gt.NoError(t, err).Required()
	blob[len(blob)-1] ^= 0xff

	_, err = c.Decrypt(blob)
	if !errors.Is(err, ErrDecryption) {
		t.Fatalf("Decrypt() error = %v, want ErrDecryption", err)
	}

	_, err = c.Decrypt([]byte("short"))
	if !errors.Is(err, ErrDecryption) {
		t.Fatalf("Decrypt(short) error = %v, want ErrDecryption", err)
	}
}

func TestNewFromBase64(t *testing.T) {
	if _, err := NewFromBase64(base64.StdEncoding.EncodeToString(testKey())); err != nil {
		t.Fatalf("NewFromBase64() error = %v", err)
	}
	for _, bad := range []string{"", "not base64!!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if _, err := NewFromBase64(bad); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("NewFromBase64(%q) error = %v, want ErrInvalidKey", bad, err)
		}
	}
}
