package store

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestCreditRegistryClaimCommitRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credit_refs.txt")
	r, err := OpenCreditRegistry(path, zap.NewNop())
	if err != nil {
		t.Fatalf("opening registry: %v", err)
	}

	const ref = "b7f9a3a0-8c2e-4f7d-9a1b-2c3d4e5f6a7b"

	if _, dup := r.Claim(ref); dup {
		t.Fatal("fresh ref reported as duplicate")
	}
	// While claimed, a concurrent caller sees a duplicate.
	if _, dup := r.Claim(ref); !dup {
		t.Fatal("claimed ref not reported as duplicate")
	}

	r.Release(ref)
	if _, dup := r.Claim(ref); dup {
		t.Fatal("released ref still reported as duplicate")
	}

	if err := r.Commit(ref, 7); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	txID, dup := r.Claim(ref)
	if !dup || txID != 7 {
		t.Fatalf("expected committed ref as duplicate with id 7, got dup=%v id=%d", dup, txID)
	}
}

func TestCreditRegistryCommitFailureKeepsClaim(t *testing.T) {
	// Refs file in a directory that does not exist: Claim works in memory
	// but the durable append in Commit must fail.
	path := filepath.Join(t.TempDir(), "missing", "credit_refs.txt")
	r, err := OpenCreditRegistry(path, zap.NewNop())
	if err != nil {
		t.Fatalf("opening registry: %v", err)
	}

	const ref = "3f1c9e62-7d4a-4b8e-9f0a-1b2c3d4e5f60"
	if _, dup := r.Claim(ref); dup {
		t.Fatal("fresh ref reported as duplicate")
	}
	if err := r.Commit(ref, 5); err == nil {
		t.Fatal("expected commit to fail when the refs file cannot be written")
	}
	if _, dup := r.Claim(ref); !dup {
		t.Fatal("ref lost its claim after a failed commit; a replay would credit twice")
	}
}

func TestCreditRegistrySurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credit_refs.txt")
	r, err := OpenCreditRegistry(path, zap.NewNop())
	if err != nil {
		t.Fatalf("opening registry: %v", err)
	}

	const ref = "0b54ad21-1a2b-4c3d-8e4f-5a6b7c8d9e0f"
	if _, dup := r.Claim(ref); dup {
		t.Fatal("fresh ref reported as duplicate")
	}
	if err := r.Commit(ref, 42); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	reopened, err := OpenCreditRegistry(path, zap.NewNop())
	if err != nil {
		t.Fatalf("reopening registry: %v", err)
	}
	txID, dup := reopened.Claim(ref)
	if !dup || txID != 42 {
		t.Fatalf("expected persisted ref as duplicate with id 42, got dup=%v id=%d", dup, txID)
	}
}
