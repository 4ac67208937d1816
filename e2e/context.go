// Package e2e drives a running dukcapil server through Gherkin scenarios.
//
// Start a fresh server first, with the same signing key and a registry office
// that matches the scenarios:
//
//	DUKCAPIL_BLOB_DRIVER=memory DUKCAPIL_JWT_SIGNING_KEY=e2e-key \
//	DUKCAPIL_REGISTRY_OFFICES=0xregistry dukcapil serve
//	DUKCAPIL_E2E_BASE_URL=http://localhost:8080 go test ./...
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestContext is the per-scenario state shared by every step package.
type TestContext struct {
	baseURL    string
	signingKey []byte
	issuer     string
	client     *http.Client

	actor      string
	lastStatus int
	lastBody   []byte
	vars       map[string]string
}

func NewTestContext() *TestContext {
	return &TestContext{
		baseURL:    strings.TrimRight(envOr("DUKCAPIL_E2E_BASE_URL", "http://localhost:8080"), "/"),
		signingKey: []byte(envOr("DUKCAPIL_E2E_JWT_SIGNING_KEY", "e2e-key")),
		issuer:     envOr("DUKCAPIL_E2E_JWT_ISSUER", "dukcapil"),
		client:     &http.Client{Timeout: 10 * time.Second},
		vars:       make(map[string]string),
	}
}

// Reset clears scenario state.
func (tc *TestContext) Reset() {
	tc.actor = ""
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.vars = make(map[string]string)
}

// As makes subsequent requests on behalf of actor. An empty actor sends no
// token.
func (tc *TestContext) As(actor string) { tc.actor = actor }

func (tc *TestContext) Actor() string { return tc.actor }

func (tc *TestContext) POST(path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return tc.do(http.MethodPost, path, raw)
}

// POSTRaw sends body verbatim after placeholder expansion.
func (tc *TestContext) POSTRaw(path string, body []byte) error {
	return tc.do(http.MethodPost, path, []byte(tc.Expand(string(body))))
}

func (tc *TestContext) GET(path string) error {
	return tc.do(http.MethodGet, path, nil)
}

func (tc *TestContext) do(method, path string, body []byte) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, tc.baseURL+tc.Expand(path), rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if tc.actor != "" {
		token, err := tc.token(tc.actor)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}

func (tc *TestContext) token(actor string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"actor": actor,
		"sub":   actor,
		"iss":   tc.issuer,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tc.signingKey)
}

func (tc *TestContext) Status() int { return tc.lastStatus }

func (tc *TestContext) Body() string { return string(tc.lastBody) }

// Field returns a top-level field of the last JSON response.
func (tc *TestContext) Field(name string) (any, error) {
	var out map[string]any
	if err := json.Unmarshal(tc.lastBody, &out); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w: %s", err, tc.lastBody)
	}
	v, ok := out[name]
	if !ok {
		return nil, fmt.Errorf("field %q missing from response: %s", name, tc.lastBody)
	}
	return v, nil
}

func (tc *TestContext) Save(key, value string) { tc.vars[key] = value }

func (tc *TestContext) Var(key string) string { return tc.vars[key] }

var placeholder = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Expand replaces {{name}} with saved values.
func (tc *TestContext) Expand(s string) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		if v, ok := tc.vars[m[2:len(m)-2]]; ok {
			return v
		}
		return m
	})
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
