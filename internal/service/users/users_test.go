package users

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

func TestHTTPClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "u-1":
			_, _ = w.Write([]byte(`{"id":"u-1","username":"jdoe","email":"j@example.com","firstName":"Jane","lastName":"Doe","isActive":true,"role":"staff"}`))
		case "u-2":
			_, _ = w.Write([]byte(`{"id":"u-2","username":"ghost","isActive":false}`))
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("GET /api/v1/users/{id}/validate", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "down" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`true`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewHTTPClient(srv.URL, srv.Client(), nil)
	ctx := context.Background()

	user, err := client.FetchUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if user.Name != "Jane Doe" || user.Email != "j@example.com" || !user.Active {
		t.Fatalf("unexpected user: %+v", user)
	}
	if len(user.Roles) != 1 || user.Roles[0] != domain.RoleStaff {
		t.Fatalf("unexpected roles: %v", user.Roles)
	}

	inactive, err := client.FetchUser(ctx, "u-2")
	if err != nil || inactive.Active || inactive.Name != "ghost" {
		t.Fatalf("unexpected inactive user: %+v (%v)", inactive, err)
	}

	if _, err := client.FetchUser(ctx, "nobody"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	valid, err := client.ValidateUser(ctx, "u-1")
	if err != nil || !valid {
		t.Fatalf("expected valid, got %v (%v)", valid, err)
	}
	if _, err := client.ValidateUser(ctx, "down"); err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestMockClient(t *testing.T) {
	m := NewMockClient()
	m.Put(domain.User{ID: "u-1", Name: "Jane", Active: true})
	m.Put(domain.User{ID: "u-2", Active: false})
	ctx := context.Background()

	if ok, _ := m.ValidateUser(ctx, "u-1"); !ok {
		t.Fatal("active user must be valid")
	}
	if ok, _ := m.ValidateUser(ctx, "u-2"); ok {
		t.Fatal("inactive user must be invalid")
	}
	if ok, _ := m.ValidateUser(ctx, "unknown"); ok {
		t.Fatal("unknown user must be invalid by default")
	}
	if _, err := m.FetchUser(ctx, "unknown"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	m.AllowUnknown = true
	if ok, _ := m.ValidateUser(ctx, "unknown"); !ok {
		t.Fatal("unknown user must be valid with AllowUnknown")
	}

	boom := errors.New("boom")
	m.SetErrors(boom, boom)
	if _, err := m.FetchUser(ctx, "u-1"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := m.ValidateUser(ctx, "u-1"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
