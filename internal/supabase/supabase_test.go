package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dealbook/internal/core"
	applog "dealbook/internal/log"
	"dealbook/internal/session"
	"dealbook/internal/store"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "anon-key", srv.Client(), applog.New(applog.DefaultConfig()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func tokenBody(user string) map[string]any {
	return map[string]any{
		"access_token":  "access-" + user,
		"refresh_token": "refresh-" + user,
		"expires_in":    3600,
		"user":          map[string]any{"id": user, "email": user + "@example.com"},
	}
}

func TestAuthSignInAndSignOut(t *testing.T) {
	var logoutAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "anon-key" {
			t.Errorf("missing apikey header")
		}
		switch r.URL.Path {
		case "/auth/v1/token":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if r.URL.Query().Get("grant_type") != "password" {
				t.Errorf("grant_type = %s", r.URL.Query().Get("grant_type"))
			}
			if body["password"] != "secret1" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error_code": "invalid_credentials", "msg": "Invalid login credentials"})
				return
			}
			writeJSON(w, http.StatusOK, tokenBody("u1"))
		case "/auth/v1/logout":
			logoutAuth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	})
	auth := NewAuth(c)
	ctx := context.Background()

	if _, err := auth.SignIn(ctx, "u1@example.com", "bad"); !errors.Is(err, session.ErrInvalidCredentials) {
		t.Fatalf("bad password: got %v", err)
	}

	var events []session.EventType
	auth.OnSessionChange(func(ev session.Event) { events = append(events, ev.Type) })

	s, err := auth.SignIn(ctx, "u1@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if s.UserID != "u1" || s.AccessToken != "access-u1" {
		t.Fatalf("session = %+v", s)
	}
	if s.ExpiresAt.Before(time.Now().Add(59 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", s.ExpiresAt)
	}

	if err := auth.SignOut(ctx); err != nil {
		t.Fatal(err)
	}
	if logoutAuth != "Bearer access-u1" {
		t.Fatalf("logout Authorization = %q", logoutAuth)
	}
	if cur, _ := auth.CurrentSession(ctx); cur != nil {
		t.Fatal("session should be cleared after sign-out")
	}
	if len(events) != 2 || events[0] != session.EventSignedIn || events[1] != session.EventSignedOut {
		t.Fatalf("events = %v", events)
	}
}

func TestAuthRecoveryAndSignUpErrors(t *testing.T) {
	var redirect string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/signup":
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error_code": "user_already_exists", "msg": "User already registered"})
		case "/auth/v1/recover":
			redirect = r.URL.Query().Get("redirect_to")
			writeJSON(w, http.StatusOK, map[string]any{})
		case "/auth/v1/verify":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["token_hash"] != "good" || body["type"] != "recovery" {
				writeJSON(w, http.StatusForbidden, map[string]string{"error_code": "otp_expired", "msg": "Token has expired"})
				return
			}
			writeJSON(w, http.StatusOK, tokenBody("u1"))
		case "/auth/v1/user":
			if r.Method != http.MethodPut || r.Header.Get("Authorization") != "Bearer access-u1" {
				t.Errorf("unexpected user update %s %s", r.Method, r.Header.Get("Authorization"))
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": "u1"})
		default:
			http.NotFound(w, r)
		}
	})
	auth := NewAuth(c)
	ctx := context.Background()

	if err := auth.SignUp(ctx, "u1@example.com", "secret1"); !errors.Is(err, session.ErrEmailTaken) {
		t.Fatalf("SignUp: got %v", err)
	}
	if err := auth.RequestCredentialReset(ctx, "u1@example.com", "http://localhost:8081/api/auth/callback"); err != nil {
		t.Fatal(err)
	}
	if redirect != "http://localhost:8081/api/auth/callback" {
		t.Fatalf("redirect_to = %q", redirect)
	}
	if err := auth.SetNewCredential(ctx, "newsecret"); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("without session: got %v", err)
	}
	if _, err := auth.VerifyRecovery(ctx, "bad"); !errors.Is(err, session.ErrInvalidRecoveryToken) {
		t.Fatalf("bad token: got %v", err)
	}
	if _, err := auth.VerifyRecovery(ctx, "good"); err != nil {
		t.Fatalf("VerifyRecovery: %v", err)
	}
	if err := auth.SetNewCredential(ctx, "newsecret"); err != nil {
		t.Fatalf("SetNewCredential: %v", err)
	}
}

type staticToken string

func (s staticToken) AccessToken(context.Context) string { return string(s) }

func TestDealsListSendsWindowFilters(t *testing.T) {
	var gotQuery map[string][]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != dealsPath || r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("unexpected request %s %s", r.URL.Path, r.Header.Get("Authorization"))
		}
		gotQuery = r.URL.Query()
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": "d2", "user_id": "u1", "deal_date": "2024-02-20T10:00:00+00:00", "usdt": 100, "buy_commission": "1", "buy_amount": 99, "sell_commission": 0.5, "sell_amount": "100.5"},
			{"id": "d1", "user_id": "u1", "deal_date": "2024-02-01T00:00:00Z", "usdt": "abc", "buy_commission": nil, "buy_amount": 0, "sell_commission": 0, "sell_amount": 0},
			{"id": "d0", "user_id": "u1", "deal_date": "yesterday", "usdt": 1},
		})
	})
	deals := NewDeals(c, staticToken("tok"))
	m, _ := core.ParseMonth("2024-02")

	got, err := deals.ListDeals(context.Background(), store.ForMonth("u1", m, time.UTC))
	if err != nil {
		t.Fatalf("ListDeals: %v", err)
	}
	if gotQuery["user_id"][0] != "eq.u1" || gotQuery["order"][0] != "deal_date.desc" {
		t.Fatalf("query = %v", gotQuery)
	}
	dates := strings.Join(gotQuery["deal_date"], ",")
	if dates != "gte.2024-02-01T00:00:00Z,lt.2024-03-01T00:00:00Z" {
		t.Fatalf("deal_date filters = %s", dates)
	}
	if len(got) != 2 || got[1].ID != "d1" || !got[0].SellAmount.Equal(decimal.RequireFromString("100.5")) {
		t.Fatalf("deals = %+v", got)
	}
	if !got[1].USDT.IsZero() || !got[1].BuyCommission.IsZero() {
		t.Fatalf("non-numeric values should coerce to zero: %+v", got[1])
	}
}

func TestDealsMutations(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Prefer") != "return=representation" {
			t.Errorf("missing Prefer header on %s", r.Method)
		}
		switch r.Method {
		case http.MethodPost:
			writeJSON(w, http.StatusCreated, []map[string]any{{"id": "new-id", "deal_date": "2024-02-01T00:00:00Z"}})
		case http.MethodPatch:
			if r.URL.Query().Get("id") == "eq.missing" {
				writeJSON(w, http.StatusOK, []any{})
				return
			}
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if _, ok := body["usdt"]; !ok || len(body) != 1 {
				t.Errorf("patch body = %v", body)
			}
			writeJSON(w, http.StatusOK, []map[string]any{{"id": "d1", "deal_date": "2024-02-01T00:00:00Z"}})
		case http.MethodDelete:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "boom"})
		}
	})
	deals := NewDeals(c, staticToken("tok"))
	ctx := context.Background()

	id, err := deals.InsertDeal(ctx, core.Deal{UserID: "u1", DealDate: time.Now(), USDT: decimal.NewFromInt(10)})
	if err != nil || id != "new-id" {
		t.Fatalf("InsertDeal = %q, %v", id, err)
	}

	usdt := decimal.NewFromInt(5)
	if err := deals.UpdateDeal(ctx, "u1", "d1", store.DealPatch{USDT: &usdt}); err != nil {
		t.Fatalf("UpdateDeal: %v", err)
	}
	if err := deals.UpdateDeal(ctx, "u1", "missing", store.DealPatch{USDT: &usdt}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing row: got %v", err)
	}

	var apiErr *APIError
	if err := deals.DeleteDeal(ctx, "u1", "d1"); !errors.As(err, &apiErr) || apiErr.Status != 500 {
		t.Fatalf("DeleteDeal: got %v", err)
	}

	signedOut := NewDeals(c, staticToken(""))
	if _, err := signedOut.ListDeals(ctx, store.DealQuery{UserID: "u1"}); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("signed out: got %v", err)
	}
}

func TestParseDealDate(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
		ok   bool
	}{
		{"2024-02-20T10:00:00+00:00", time.Date(2024, 2, 20, 10, 0, 0, 0, time.UTC), true},
		{"2024-02-20T10:00:00.123456Z", time.Date(2024, 2, 20, 10, 0, 0, 123456000, time.UTC), true},
		{"2024-02-20T12:00:00+02:00", time.Date(2024, 2, 20, 10, 0, 0, 0, time.UTC), true},
		{"2024-02-20T10:00:00.5", time.Date(2024, 2, 20, 10, 0, 0, 500000000, time.UTC), true},
		{"2024-02-20T10:00:00", time.Date(2024, 2, 20, 10, 0, 0, 0, time.UTC), true},
		{"2024-02-20 10:00:00+00", time.Date(2024, 2, 20, 10, 0, 0, 0, time.UTC), true},
		{"2024-02-20 10:00:00", time.Date(2024, 2, 20, 10, 0, 0, 0, time.UTC), true},
		{"20/02/2024", time.Time{}, false},
		{"", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseDealDate(tt.raw)
			if !tt.ok {
				if !errors.Is(err, store.ErrMalformedRecord) {
					t.Fatalf("got %v, %v; want ErrMalformedRecord", got, err)
				}
				return
			}
			if err != nil || !got.Equal(tt.want) {
				t.Fatalf("parseDealDate(%q) = %v, %v; want %v", tt.raw, got, err, tt.want)
			}
		})
	}
}

func TestGetDealWithMalformedDate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{{"id": "d1", "user_id": "u1", "deal_date": "soon"}})
	})
	_, err := NewDeals(c, staticToken("tok")).GetDeal(context.Background(), "u1", "d1")
	if !errors.Is(err, store.ErrMalformedRecord) {
		t.Fatalf("GetDeal: got %v", err)
	}
}

func TestAuthenticateAsksGoTrue(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/user" || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		switch r.Header.Get("Authorization") {
		case "Bearer access-u1":
			writeJSON(w, http.StatusOK, map[string]any{"id": "u1", "email": "u1@example.com"})
		case "Bearer broken":
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "boom"})
		default:
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error_code": "bad_jwt", "msg": "invalid JWT"})
		}
	})
	auth := NewAuth(c)
	ctx := context.Background()

	id, err := auth.Authenticate(ctx, "access-u1")
	if err != nil || id.UserID != "u1" || id.Email != "u1@example.com" {
		t.Fatalf("Authenticate = %+v, %v", id, err)
	}
	if _, err := auth.Authenticate(ctx, "forged"); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("rejected token: got %v", err)
	}
	var apiErr *APIError
	if _, err := auth.Authenticate(ctx, "broken"); !errors.As(err, &apiErr) || apiErr.Status != 500 {
		t.Fatalf("server error: got %v", err)
	}
}

func TestDealsForwardRequestToken(t *testing.T) {
	var seen []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/token":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			writeJSON(w, http.StatusOK, tokenBody(strings.TrimSuffix(body["email"], "@example.com")))
		case dealsPath:
			seen = append(seen, r.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, []any{})
		default:
			http.NotFound(w, r)
		}
	})
	logger := applog.New(applog.DefaultConfig())
	ctx := context.Background()
	deals := NewDeals(c, session.ContextTokens{})

	for _, user := range []string{"u1", "u2"} {
		tr := session.NewTracker(NewAuth(c), logger)
		if err := tr.Start(ctx); err != nil {
			t.Fatal(err)
		}
		if _, err := tr.SignIn(ctx, user+"@example.com", "secret1"); err != nil {
			t.Fatal(err)
		}
		if _, err := deals.ListDeals(session.NewContext(ctx, tr), store.DealQuery{UserID: user}); err != nil {
			t.Fatal(err)
		}
		tr.Stop()
	}
	if len(seen) != 2 || seen[0] != "Bearer access-u1" || seen[1] != "Bearer access-u2" {
		t.Fatalf("Authorization headers = %v", seen)
	}
	if _, err := deals.ListDeals(ctx, store.DealQuery{UserID: "u1"}); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("without a session: got %v", err)
	}
}
