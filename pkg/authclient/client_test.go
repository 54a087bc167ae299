package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeServer simulates the auth endpoints plus one protected resource. It
// accepts exactly one access token at a time and rotates on refresh.
type fakeServer struct {
	mu           sync.Mutex
	accessToken  string
	refreshToken string
	rotations    int

	refreshCalls int64
	refreshFail  bool
}

func (s *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.accessToken = "access-0"
		s.refreshToken = "refresh-0"
		s.mu.Unlock()
		json.NewEncoder(w).Encode(TokenPair{AccessToken: "access-0", RefreshToken: "refresh-0"})
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.refreshCalls, 1)
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.refreshFail || req.RefreshToken != s.refreshToken {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"reason": "TokenReplayDetected"})
			return
		}
		s.rotations++
		s.accessToken = "access-" + strconv.Itoa(s.rotations)
		s.refreshToken = "refresh-" + strconv.Itoa(s.rotations)
		json.NewEncoder(w).Encode(TokenPair{AccessToken: s.accessToken, RefreshToken: s.refreshToken})
	})
	mux.HandleFunc("/resource", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		ok := r.Header.Get("Authorization") == "Bearer "+s.accessToken
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("ok"))
	})
	return mux
}

func (s *fakeServer) expire() {
	s.mu.Lock()
	s.accessToken = "rotated-away-" + strconv.Itoa(s.rotations)
	s.mu.Unlock()
}

func newClientFixture(t *testing.T) (*Client, *fakeServer) {
	t.Helper()
	srv := &fakeServer{}
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)

	client := New(ts.URL)
	if err := client.Login(context.Background(), "admin@acme.test", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	return client, srv
}

func TestDoRefreshesStaleToken(t *testing.T) {
	client, srv := newClientFixture(t)
	srv.expire()

	req, _ := http.NewRequest(http.MethodGet, client.baseURL+"/resource", nil)
	resp, err := client.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200 after transparent refresh", resp.StatusCode)
	}
	if n := atomic.LoadInt64(&srv.refreshCalls); n != 1 {
		t.Errorf("refresh calls = %d, want 1", n)
	}
	pair, ok := client.Tokens()
	if !ok || pair.AccessToken != "access-1" {
		t.Errorf("client did not store rotated pair: %+v", pair)
	}
}

func TestConcurrentRequestsShareOneRefresh(t *testing.T) {
	client, srv := newClientFixture(t)
	srv.expire()

	const workers = 20
	var wg sync.WaitGroup
	errs := make([]error, workers)
	codes := make([]int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, client.baseURL+"/resource", nil)
			resp, err := client.Do(context.Background(), req)
			if err != nil {
				errs[i] = err
				return
			}
			codes[i] = resp.StatusCode
			resp.Body.Close()
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Errorf("worker %d: %v", i, errs[i])
		} else if codes[i] != http.StatusOK {
			t.Errorf("worker %d: status %d", i, codes[i])
		}
	}
	// Every worker saw the same stale token, so exactly one rotation may
	// hit the wire.
	if n := atomic.LoadInt64(&srv.refreshCalls); n != 1 {
		t.Errorf("refresh calls = %d, want 1", n)
	}
}

func TestSharedRefreshFailureClearsTokens(t *testing.T) {
	client, srv := newClientFixture(t)
	srv.expire()
	srv.mu.Lock()
	srv.refreshFail = true
	srv.mu.Unlock()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, client.baseURL+"/resource", nil)
			_, errs[i] = client.Do(context.Background(), req)
		}(i)
	}
	wg.Wait()

	// Workers that shared the failing refresh see ErrSessionExpired; one
	// that starts after the pair was cleared fails fast instead.
	for i, err := range errs {
		if !errors.Is(err, ErrSessionExpired) && !errors.Is(err, ErrNotAuthenticated) {
			t.Errorf("worker %d: err = %v, want ErrSessionExpired or ErrNotAuthenticated", i, err)
		}
	}
	if _, ok := client.Tokens(); ok {
		t.Error("token pair must be cleared after a terminal refresh failure")
	}
	// Subsequent calls fail fast without touching the wire.
	req, _ := http.NewRequest(http.MethodGet, client.baseURL+"/resource", nil)
	if _, err := client.Do(context.Background(), req); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("post-expiry Do: err = %v, want ErrNotAuthenticated", err)
	}
}

func TestDoWithoutTokens(t *testing.T) {
	client := New("http://unused.invalid")
	req, _ := http.NewRequest(http.MethodGet, "http://unused.invalid/resource", nil)
	if _, err := client.Do(context.Background(), req); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("err = %v, want ErrNotAuthenticated", err)
	}
}

func TestLogoutClearsTokens(t *testing.T) {
	client, srv := newClientFixture(t)
	_ = srv
	if err := client.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, ok := client.Tokens(); ok {
		t.Error("tokens must be cleared after logout")
	}
}
