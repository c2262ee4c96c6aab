package storage

import (
	"context"
	"testing"

	"github.com/lucentlabs/ferry/pkg/models"
)

func TestMemoryToolServerStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryToolServerStore()

	servers, err := store.List(ctx, "acme")
	if err != nil || len(servers) != 0 {
		t.Fatalf("expected empty list on miss, got %v, err=%v", servers, err)
	}

	want := []models.ToolServerConfig{{ID: "s1", Name: "search", URL: "https://s1.example", Priority: 1}}
	if err := store.Replace(ctx, "acme", want); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := store.List(ctx, "acme")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "s1" {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	got[0].ID = "mutated"
	again, _ := store.List(ctx, "acme")
	if again[0].ID != "s1" {
		t.Fatalf("store returned an aliased slice, mutation leaked: %+v", again)
	}
}

func TestMemoryOrgConfigStoreDefaultsOnMiss(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryOrgConfigStore()

	cfg, err := store.Get(ctx, "acme")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cfg != models.DefaultOrgConfig() {
		t.Fatalf("expected default config on miss, got %+v", cfg)
	}

	set := models.OrgConfig{MaxHistoryStorage: 80, MaxHistoryLLM: 20}
	if err := store.Set(ctx, "acme", set); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, _ := store.Get(ctx, "acme")
	if got != set {
		t.Fatalf("got %+v, want %+v", got, set)
	}
}

func TestMemoryPromptOverrideStoreScopesByUser(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryPromptOverrideStore()

	if err := store.Set(ctx, "acme", "", models.PromptOverrides{"greeting": "org-wide"}); err != nil {
		t.Fatalf("set org scope: %v", err)
	}
	if err := store.Set(ctx, "acme", "alice", models.PromptOverrides{"greeting": "alice-specific"}); err != nil {
		t.Fatalf("set user scope: %v", err)
	}

	orgScope, _ := store.Get(ctx, "acme", "")
	if orgScope["greeting"] != "org-wide" {
		t.Fatalf("org scope = %v", orgScope)
	}
	userScope, _ := store.Get(ctx, "acme", "alice")
	if userScope["greeting"] != "alice-specific" {
		t.Fatalf("user scope = %v", userScope)
	}
	bobScope, _ := store.Get(ctx, "acme", "bob")
	if len(bobScope) != 0 {
		t.Fatalf("expected no override for bob, got %v", bobScope)
	}
}

func TestSanitizeOverridesStripsControlCharsAndTruncates(t *testing.T) {
	in := models.PromptOverrides{"slot": "hello\x07world\nnext"}
	out := sanitizeOverrides(in)
	if out["slot"] != "helloworld\nnext" {
		t.Fatalf("got %q", out["slot"])
	}

	long := make([]byte, maxSlotChars+500)
	for i := range long {
		long[i] = 'a'
	}
	out = sanitizeOverrides(models.PromptOverrides{"slot": string(long)})
	if len(out["slot"]) != maxSlotChars {
		t.Fatalf("expected truncation to %d chars, got %d", maxSlotChars, len(out["slot"]))
	}
}

func TestMemorySessionStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore()
	key := models.SessionKey{Org: "acme", User: "u1"}

	state, err := store.Load(ctx, key)
	if err != nil || state != nil {
		t.Fatalf("expected nil state on miss, got %+v, err=%v", state, err)
	}

	fresh := models.NewSessionState(key)
	fresh.AppendExchange(models.Exchange{UserMessage: "hi", AssistantText: "hello"}, 50)
	if err := store.Save(ctx, fresh); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(ctx, key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.History) != 1 || loaded.History[0].UserMessage != "hi" {
		t.Fatalf("got %+v", loaded)
	}

	loaded.History[0].UserMessage = "mutated"
	reloaded, _ := store.Load(ctx, key)
	if reloaded.History[0].UserMessage != "hi" {
		t.Fatalf("store returned an aliased history slice, mutation leaked")
	}
}
