package stores

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestOrganizationCreateClaimsNameAndOwner(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewOrganizationStore(rdb, "t")
	ctx := context.Background()

	rec := &OrganizationRecord{ID: "o1", Name: "Acme", Properties: map[string]any{"passwordHistorySize": 2}}
	if err := store.Create(ctx, rec, "u1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, &OrganizationRecord{ID: "o2", Name: "ACME"}, "u2"); !errors.Is(err, ErrOrganizationExists) {
		t.Fatalf("expected ErrOrganizationExists, got %v", err)
	}

	id, err := store.Lookup(ctx, "acme")
	if err != nil || id != "o1" {
		t.Fatalf("Lookup = %q, %v", id, err)
	}

	got, err := store.Get(ctx, "o1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n, ok := got.Properties["passwordHistorySize"].(json.Number); !ok || n.String() != "2" {
		t.Fatalf("expected numeric property as json.Number, got %#v", got.Properties["passwordHistorySize"])
	}

	members, err := store.Members(ctx, "o1")
	if err != nil || !reflect.DeepEqual(members, []string{"u1"}) {
		t.Fatalf("Members = %v, %v", members, err)
	}
	orgs, err := store.ForUser(ctx, "u1")
	if err != nil || !reflect.DeepEqual(orgs, []string{"o1"}) {
		t.Fatalf("ForUser = %v, %v", orgs, err)
	}
}

func TestOrganizationMembership(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewOrganizationStore(rdb, "t")
	ctx := context.Background()

	for _, r := range []*OrganizationRecord{{ID: "o1", Name: "one"}, {ID: "o2", Name: "two"}} {
		if err := store.Create(ctx, r, ""); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := store.AddMember(ctx, "o2", "u1"); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := store.AddMember(ctx, "o1", "u1"); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := store.AddMember(ctx, "o1", "u1"); err != nil {
		t.Fatalf("AddMember twice: %v", err)
	}
	if err := store.AddMember(ctx, "nope", "u1"); !errors.Is(err, ErrOrganizationNotFound) {
		t.Fatalf("expected ErrOrganizationNotFound, got %v", err)
	}

	orgs, _ := store.ForUser(ctx, "u1")
	if !reflect.DeepEqual(orgs, []string{"o1", "o2"}) {
		t.Fatalf("ForUser = %v", orgs)
	}

	if err := store.RemoveMember(ctx, "o1", "u1"); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	orgs, _ = store.ForUser(ctx, "u1")
	if !reflect.DeepEqual(orgs, []string{"o2"}) {
		t.Fatalf("ForUser after remove = %v", orgs)
	}
}

func TestOrganizationUpdateAbortsOnMutateError(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewOrganizationStore(rdb, "t")
	ctx := context.Background()

	if err := store.Create(ctx, &OrganizationRecord{ID: "o1", Name: "one"}, ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	sentinel := errors.New("nope")
	if _, err := store.Update(ctx, "o1", func(r *OrganizationRecord) error {
		r.Name = "changed"
		return sentinel
	}); !errors.Is(err, sentinel) {
		t.Fatalf("expected mutate error passthrough, got %v", err)
	}

	got, _ := store.Get(ctx, "o1")
	if got.Name != "one" {
		t.Fatalf("aborted update must not write, got %q", got.Name)
	}

	updated, err := store.Update(ctx, "o1", func(r *OrganizationRecord) error {
		if r.Properties == nil {
			r.Properties = map[string]any{}
		}
		r.Properties["tier"] = "gold"
		return nil
	})
	if err != nil || updated.Properties["tier"] != "gold" {
		t.Fatalf("Update = %+v, %v", updated, err)
	}

	if _, err := store.Update(ctx, "missing", func(*OrganizationRecord) error { return nil }); !errors.Is(err, ErrOrganizationNotFound) {
		t.Fatalf("expected ErrOrganizationNotFound, got %v", err)
	}
}

func TestAdminStoreCreateOnce(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewAdminStore(rdb, "t")
	ctx := context.Background()

	rec := &AdminRecord{ID: "u1", Username: "Alice", Email: "alice@example.com", State: 1}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, rec); !errors.Is(err, ErrAdminExists) {
		t.Fatalf("expected ErrAdminExists, got %v", err)
	}

	got, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Username != "Alice" {
		t.Fatalf("username case must be preserved, got %q", got.Username)
	}

	if err := store.Delete(ctx, "u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "u1"); !errors.Is(err, ErrAdminNotFound) {
		t.Fatalf("expected ErrAdminNotFound, got %v", err)
	}
}
