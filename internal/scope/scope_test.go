package scope

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/klauern/rowsync/internal/schema"
)

func TestServerScopeInfo_SchemaNotSerialized(t *testing.T) {
	info := ServerScopeInfo{
		Name:   "default",
		Schema: &schema.Set{Tables: []*schema.Table{{Name: "customers"}}},
	}
	data, err := json.Marshal(info)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "customers") {
		t.Errorf("schema leaked into scope serialization: %s", data)
	}
}

func TestNewClientScope(t *testing.T) {
	c := NewClientScope("default")
	if c.ID == uuid.Nil || !c.IsNew {
		t.Errorf("unexpected scope: %+v", c)
	}
	if c.HasSchema() {
		t.Error("new scope should not have a schema")
	}
}

func TestStep_CanTransition(t *testing.T) {
	tests := []struct {
		from, to Step
		want     bool
	}{
		{StepInit, StepEnsureScope, true},
		{StepInit, StepGettingChanges, false},
		{StepEnsureScope, StepEnsureSchema, true},
		{StepEnsureScope, StepGettingChanges, false},
		{StepEnsureSchema, StepGettingChanges, true},
		{StepGettingChanges, StepGettingChanges, true},
		{StepGettingChanges, StepSendingChanges, true},
		{StepSendingChanges, StepSendingChanges, true},
		{StepSendingChanges, StepCompleted, true},
		{StepGettingChanges, StepCompleted, false},
		{StepEnsureSchema, StepFailed, true},
		{StepSendingChanges, StepCancelled, true},
		{StepCompleted, StepFailed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %t, want %t", got, tt.want)
			}
		})
	}
}

func TestSessionStore_TTL(t *testing.T) {
	store := NewSessionStore(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	store.Put(NewSessionCache("s1", "default", uuid.New(), nil))
	store.Put(NewSessionCache("s2", "default", uuid.New(), nil))

	if _, ok := store.Get("s1"); !ok {
		t.Fatal("expected s1")
	}

	now = now.Add(45 * time.Second)
	store.Get("s1") // refresh s1 only

	now = now.Add(30 * time.Second)
	if _, ok := store.Get("s2"); ok {
		t.Error("s2 should have expired")
	}
	if _, ok := store.Get("s1"); !ok {
		t.Error("s1 was refreshed and should still be live")
	}

	now = now.Add(2 * time.Minute)
	if removed := store.Purge(); removed != 1 {
		t.Errorf("Purge() = %d, want 1", removed)
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0", store.Len())
	}
}

func TestSessionStore_Concurrent(t *testing.T) {
	store := NewSessionStore(0)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := uuid.NewString()
			store.Put(NewSessionCache(id, "default", uuid.New(), nil))
			if _, ok := store.Get(id); !ok {
				t.Error("session not found")
			}
			store.Delete(id)
		}(i)
	}
	wg.Wait()
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0", store.Len())
	}
}

func TestSessionStore_RunStopsOnCancel(t *testing.T) {
	store := NewSessionStore(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.Run(ctx, time.Millisecond) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
