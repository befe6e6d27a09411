package crypto

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// fakeKMSClient reverses the plaintext as its "encryption".
type fakeKMSClient struct {
	fail  bool
	calls int
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

func (f *fakeKMSClient) Encrypt(_ context.Context, in *kms.EncryptInput, _ ...func(*kms.Options)) (*kms.EncryptOutput, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("kms unavailable")
	}
	return &kms.EncryptOutput{CiphertextBlob: reverse(in.Plaintext)}, nil
}

func (f *fakeKMSClient) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("kms unavailable")
	}
	return &kms.DecryptOutput{Plaintext: reverse(in.CiphertextBlob)}, nil
}

func TestKMSService_RoundTrip(t *testing.T) {
	svc := NewKMSService(&fakeKMSClient{}, "alias/test")
	ctx := context.Background()

	sealed, err := svc.Encrypt(ctx, "refresh-token")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if strings.Contains(sealed, "refresh-token") {
		t.Errorf("ciphertext leaks plaintext: %q", sealed)
	}

	plain, err := svc.Decrypt(ctx, sealed)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if plain != "refresh-token" {
		t.Errorf("expected %q, got %q", "refresh-token", plain)
	}
}

func TestKMSService_EmptySkipsKMS(t *testing.T) {
	client := &fakeKMSClient{}
	svc := NewKMSService(client, "alias/test")

	sealed, err := svc.Encrypt(context.Background(), "")
	if err != nil || sealed != "" {
		t.Fatalf("expected empty ciphertext, got %q, %v", sealed, err)
	}
	if client.calls != 0 {
		t.Errorf("expected no KMS calls, got %d", client.calls)
	}
}

func TestKMSService_Errors(t *testing.T) {
	svc := NewKMSService(&fakeKMSClient{fail: true}, "alias/test")
	if _, err := svc.Encrypt(context.Background(), "x"); err == nil {
		t.Error("expected encrypt error")
	}
	if _, err := NewKMSService(&fakeKMSClient{}, "k").Decrypt(context.Background(), "!!not-base64"); err == nil {
		t.Error("expected base64 decode error")
	}
}

func TestMockEncryptor(t *testing.T) {
	m := NewMockEncryptor()
	sealed, _ := m.Encrypt(context.Background(), "abc")
	if sealed != "mock:abc" {
		t.Errorf("expected mock:abc, got %q", sealed)
	}
	plain, _ := m.Decrypt(context.Background(), sealed)
	if plain != "abc" {
		t.Errorf("expected abc, got %q", plain)
	}
}
