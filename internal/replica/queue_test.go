package replica

import (
	"context"
	"path/filepath"
	"testing"
)

func setupTestQueue(t *testing.T) *Queue {
	t.Helper()

	q, err := Open(filepath.Join(t.TempDir(), "replica.db"))
	if err != nil {
		t.Fatalf("failed to open test replica: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestEmptyQueueYieldsNoTransaction(t *testing.T) {
	q := setupTestQueue(t)

	tx, err := q.NextTransaction(context.Background())
	if err != nil {
		t.Fatalf("NextTransaction failed: %v", err)
	}
	if tx != nil {
		t.Fatalf("expected nil transaction on empty queue, got %+v", tx)
	}
}

func TestTransactionPreservesMutationOrder(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	txID := NewTxID()
	if err := q.Enqueue(ctx, txID, OpPut, "tasks", "t-1", map[string]any{"id": "t-1", "title": "A"}); err != nil {
		t.Fatalf("enqueue put failed: %v", err)
	}
	if err := q.Enqueue(ctx, txID, OpPatch, "tasks", "t-1", map[string]any{"title": "B"}); err != nil {
		t.Fatalf("enqueue patch failed: %v", err)
	}
	if err := q.Enqueue(ctx, txID, OpDelete, "labels", "l-1", nil); err != nil {
		t.Fatalf("enqueue delete failed: %v", err)
	}

	tx, err := q.NextTransaction(ctx)
	if err != nil {
		t.Fatalf("NextTransaction failed: %v", err)
	}
	if tx == nil || tx.ID != txID {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
	if len(tx.Mutations) != 3 {
		t.Fatalf("expected 3 mutations, got %d", len(tx.Mutations))
	}
	if tx.Mutations[0].Op != OpPut || tx.Mutations[1].Op != OpPatch || tx.Mutations[2].Op != OpDelete {
		t.Errorf("mutation order not preserved: %+v", tx.Mutations)
	}
	if tx.Mutations[1].Fields["title"] != "B" {
		t.Errorf("payload lost: %+v", tx.Mutations[1].Fields)
	}
	if tx.Mutations[2].Fields != nil {
		t.Errorf("delete should carry no fields: %+v", tx.Mutations[2].Fields)
	}
}

func TestOldestTransactionFirst(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	first := NewTxID()
	second := NewTxID()
	if err := q.Enqueue(ctx, first, OpPut, "tasks", "t-1", map[string]any{"id": "t-1"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, second, OpPut, "tasks", "t-2", map[string]any{"id": "t-2"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	tx, err := q.NextTransaction(ctx)
	if err != nil {
		t.Fatalf("NextTransaction failed: %v", err)
	}
	if tx.ID != first {
		t.Fatalf("expected oldest transaction %s, got %s", first, tx.ID)
	}
}

func TestCompleteRemovesTransaction(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	txID := NewTxID()
	if err := q.Enqueue(ctx, txID, OpPut, "tasks", "t-1", map[string]any{"id": "t-1"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	if err := q.Complete(ctx, txID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	n, err := q.Pending(ctx)
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected empty queue after complete, got %d", n)
	}

	// Completing twice is harmless.
	if err := q.Complete(ctx, txID); err != nil {
		t.Fatalf("second complete failed: %v", err)
	}
}
