package traderepublic

// auth.go — session and credential management.
//
// Two independent auth modes end in a usable session:
//   app: ECDSA-signed requests with a device key provisioned through a
//        one-time device reset, then login with phone number + PIN
//   web: cookie-based interactive login with an out-of-band SMS code
//
// Every signed REST call carries a millisecond timestamp and a base64
// DER signature of "<timestamp>.<json-body>" (P-256, SHA-512).

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strconv"
	"sync"
	"time"
)

const (
	defaultHost = "https://api.traderepublic.com"

	// Server-side session tokens live 300s; refresh at 290s as a
	// safety margin so a token never expires mid-request.
	sessionTokenTTL = 290 * time.Second

	userAgentApp = "TradeRepublic/Android 30/App Version 1.1.5534"
	userAgentWeb = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/99.0.4844.74 Safari/537.36"
)

// SessionConfig configura una sesión con el broker.
type SessionConfig struct {
	Host    string
	PhoneNo string
	PIN     string
	Locale  string
	// KeyFile es el PEM con la clave del dispositivo (modo app). Si no
	// existe todavía, el pairing con PairDevice/ConfirmDevice lo crea.
	KeyFile string
}

// Session holds the credential state for one client instance: refresh
// token, short-lived session token and its expiry. Never shared across
// client instances.
type Session struct {
	cfg  SessionConfig
	host string

	key *ecdsa.PrivateKey

	http *http.Client
	web  *http.Client // cookie-jar client for the web login mode
	jar  http.CookieJar

	mu           sync.Mutex
	refreshToken string
	sessionToken string
	expiresAt    time.Time
	webLogin     bool
	webExpiresAt time.Time
	processID    string

	now func() time.Time
}

// NewSession builds a session. The device key is loaded from
// cfg.KeyFile when present; without it only the web mode works until
// PairDevice provisions one.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.Locale == "" {
		cfg.Locale = "de"
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("session: cookie jar: %w", err)
	}

	s := &Session{
		cfg:  cfg,
		host: cfg.Host,
		http: &http.Client{Timeout: 10 * time.Second},
		web:  &http.Client{Timeout: 10 * time.Second, Jar: jar},
		jar:  jar,
		now:  time.Now,
	}

	if cfg.KeyFile != "" {
		if err := s.loadKey(cfg.KeyFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("session: load key %q: %w", cfg.KeyFile, err)
		}
	}

	return s, nil
}

func (s *Session) loadKey(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return fmt.Errorf("no PEM block in keyfile")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return err
	}
	s.key = key
	return nil
}

// Token returns a valid session token, logging in or refreshing as
// needed. With a live token this makes zero network calls.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.refreshToken == "":
		if err := s.login(ctx); err != nil {
			return "", err
		}
	case s.now().After(s.expiresAt):
		if err := s.refresh(ctx); err != nil {
			return "", err
		}
	}
	return s.sessionToken, nil
}

// WebAuthenticated reports whether the cookie-based web login is active.
func (s *Session) WebAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.webLogin
}

// CookieJar exposes the web session cookies for the websocket dialer.
func (s *Session) CookieJar() http.CookieJar {
	return s.jar
}

// Locale devuelve el locale configurado para la sesión.
func (s *Session) Locale() string {
	return s.cfg.Locale
}

// login exchanges phone number + PIN for a refresh token and the first
// session token. Caller holds s.mu.
func (s *Session) login(ctx context.Context) error {
	if s.key == nil {
		return fmt.Errorf("session: no device key, run device pairing first")
	}

	var resp struct {
		RefreshToken string `json:"refreshToken"`
		SessionToken string `json:"sessionToken"`
	}
	err := s.signedRequest(ctx, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"phoneNumber": s.cfg.PhoneNo, "pin": s.cfg.PIN}, &resp)
	if err != nil {
		return err
	}

	s.refreshToken = resp.RefreshToken
	s.setToken(resp.SessionToken)
	return nil
}

// refresh mints a new session token using the refresh token as bearer.
// Caller holds s.mu.
func (s *Session) refresh(ctx context.Context) error {
	var resp struct {
		SessionToken string `json:"sessionToken"`
	}
	if err := s.signedRequest(ctx, http.MethodGet, "/api/v1/auth/session", nil, &resp); err != nil {
		return err
	}
	s.setToken(resp.SessionToken)
	return nil
}

func (s *Session) setToken(tok string) {
	s.sessionToken = tok
	s.expiresAt = s.now().Add(sessionTokenTTL)
}

// signedRequest performs a signed REST call. The bearer depends on the
// path: none for login, the refresh token for /auth/session, and the
// session token everywhere else. Caller holds s.mu for auth paths.
func (s *Session) signedRequest(ctx context.Context, method, path string, payload, out any) error {
	if s.key == nil {
		return fmt.Errorf("session: no device key to sign with")
	}

	var body string
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("session: marshal payload: %w", err)
		}
		body = string(b)
	}

	ts := s.now().UnixMilli()
	digest := sha512.Sum512([]byte(strconv.FormatInt(ts, 10) + "." + body))
	sig, err := ecdsa.SignASN1(rand.Reader, s.key, digest[:])
	if err != nil {
		return fmt.Errorf("session: sign request: %w", err)
	}

	var reader io.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, s.host+path, reader)
	if err != nil {
		return fmt.Errorf("session: new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgentApp)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Zeta-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Zeta-Signature", base64.StdEncoding.EncodeToString(sig))

	switch {
	case path == "/api/v1/auth/login":
		// no bearer
	case path == "/api/v1/auth/session":
		req.Header.Set("Authorization", "Bearer "+s.refreshToken)
	case s.sessionToken != "":
		req.Header.Set("Authorization", "Bearer "+s.sessionToken)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("session: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &AuthError{Status: resp.StatusCode, Body: string(respBody)}
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("session: decode %s response: %w", path, err)
		}
	}
	return nil
}

// PairDevice starts the one-time device registration: generates a new
// P-256 key pair and asks the broker to start the reset process. The
// broker sends a verification code out of band; ConfirmDevice finishes.
func (s *Session) PairDevice(ctx context.Context) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("session: generate device key: %w", err)
	}

	var resp struct {
		ProcessID string `json:"processId"`
	}
	err = s.plainRequest(ctx, s.http, http.MethodPost, "/api/v1/auth/account/reset/device",
		map[string]string{"phoneNumber": s.cfg.PhoneNo, "pin": s.cfg.PIN}, &resp, userAgentApp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.key = key
	s.processID = resp.ProcessID
	s.mu.Unlock()
	return nil
}

// ConfirmDevice completes the pairing with the verification code and
// persists the device key to the configured keyfile.
func (s *Session) ConfirmDevice(ctx context.Context, code string) error {
	s.mu.Lock()
	key, processID := s.key, s.processID
	s.mu.Unlock()
	if key == nil || processID == "" {
		return fmt.Errorf("session: call PairDevice first")
	}

	ecdhPub, err := key.PublicKey.ECDH()
	if err != nil {
		return fmt.Errorf("session: device public key: %w", err)
	}
	// The broker expects the uncompressed point, base64 encoded.
	pub := ecdhPub.Bytes()
	path := fmt.Sprintf("/api/v1/auth/account/reset/device/%s/key", processID)
	err = s.plainRequest(ctx, s.http, http.MethodPost, path, map[string]string{
		"code":      code,
		"deviceKey": base64.StdEncoding.EncodeToString(pub),
	}, nil, userAgentApp)
	if err != nil {
		return err
	}

	if s.cfg.KeyFile != "" {
		der, err := x509.MarshalECPrivateKey(key)
		if err != nil {
			return fmt.Errorf("session: marshal device key: %w", err)
		}
		pemData := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
		if err := os.WriteFile(s.cfg.KeyFile, pemData, 0o600); err != nil {
			return fmt.Errorf("session: write keyfile: %w", err)
		}
	}
	return nil
}

// StartWebLogin starts the interactive web login and returns the
// countdown in seconds before the code can be resent.
func (s *Session) StartWebLogin(ctx context.Context) (int, error) {
	var resp struct {
		ProcessID          string          `json:"processId"`
		CountdownInSeconds int             `json:"countdownInSeconds"`
		Errors             json.RawMessage `json:"errors"`
	}
	err := s.plainRequest(ctx, s.web, http.MethodPost, "/api/v1/auth/web/login",
		map[string]string{"phoneNumber": s.cfg.PhoneNo, "pin": s.cfg.PIN}, &resp, userAgentWeb)
	if err != nil {
		return 0, err
	}
	if resp.ProcessID == "" {
		if len(resp.Errors) > 0 {
			return 0, fmt.Errorf("session: web login rejected: %s", resp.Errors)
		}
		return 0, fmt.Errorf("session: web login response missing processId")
	}

	s.mu.Lock()
	s.processID = resp.ProcessID
	s.mu.Unlock()
	return resp.CountdownInSeconds + 1, nil
}

// ResendWebLoginCode asks the broker to resend the verification code.
func (s *Session) ResendWebLoginCode(ctx context.Context) error {
	s.mu.Lock()
	processID := s.processID
	s.mu.Unlock()
	if processID == "" {
		return fmt.Errorf("session: call StartWebLogin first")
	}
	path := fmt.Sprintf("/api/v1/auth/web/login/%s/resend", processID)
	return s.plainRequest(ctx, s.web, http.MethodPost, path, nil, nil, userAgentWeb)
}

// CompleteWebLogin finishes the web login with the verification code.
// The session cookies land in the jar; from here on the websocket
// authenticates via cookies and subscribe payloads carry no token.
func (s *Session) CompleteWebLogin(ctx context.Context, code string) error {
	s.mu.Lock()
	processID := s.processID
	s.mu.Unlock()
	if processID == "" {
		return fmt.Errorf("session: call StartWebLogin first")
	}

	path := fmt.Sprintf("/api/v1/auth/web/login/%s/%s", processID, code)
	if err := s.plainRequest(ctx, s.web, http.MethodPost, path, nil, nil, userAgentWeb); err != nil {
		return err
	}

	s.mu.Lock()
	s.webLogin = true
	// El login recién completado ya es una sesión viva: abre la misma
	// ventana de 290s que un keep-alive.
	s.webExpiresAt = s.now().Add(sessionTokenTTL)
	s.mu.Unlock()
	return nil
}

// webRequest performs a cookie-authenticated call, refreshing the web
// session first when its 290s window has passed.
func (s *Session) webRequest(ctx context.Context, method, path string, out any) error {
	s.mu.Lock()
	stale := s.now().After(s.webExpiresAt)
	s.mu.Unlock()

	if stale {
		if err := s.plainRequest(ctx, s.web, http.MethodGet, "/api/v1/auth/web/session", nil, nil, userAgentWeb); err != nil {
			return err
		}
		s.mu.Lock()
		s.webExpiresAt = s.now().Add(sessionTokenTTL)
		s.mu.Unlock()
	}

	return s.plainRequest(ctx, s.web, method, path, nil, out, userAgentWeb)
}

// Settings fetches the account settings through whichever auth mode is
// active. Useful as a cheap "is this session alive" probe.
func (s *Session) Settings(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if s.WebAuthenticated() {
		if err := s.webRequest(ctx, http.MethodGet, "/api/v1/auth/account", &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.signedRequest(ctx, http.MethodGet, "/api/v1/auth/account", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// plainRequest is an unsigned JSON request helper for the pairing and
// web login endpoints.
func (s *Session) plainRequest(ctx context.Context, client *http.Client, method, path string, payload, out any, userAgent string) error {
	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("session: marshal payload: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.host+path, reader)
	if err != nil {
		return fmt.Errorf("session: new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("session: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &AuthError{Status: resp.StatusCode, Body: string(body)}
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("session: decode %s response: %w", path, err)
		}
	}
	return nil
}
