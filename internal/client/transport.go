package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
)

const maxErrorBody = 64 << 10

// apiClient speaks the wire format without any session handling.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func (c *apiClient) send(ctx context.Context, method, path, token string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}
	return res, nil
}

// doJSON sends in as JSON and decodes a 2xx body into out. Error bodies go
// through decodeError.
func (c *apiClient) doJSON(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	res, err := c.send(ctx, method, path, token, body, contentType)
	if err != nil {
		return err
	}
	return readJSON(method+" "+path, res, out)
}

func readJSON(op string, res *http.Response, out any) error {
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return decodeError(op, res.StatusCode, raw)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// Transport sends authenticated requests. A 401 response ends the session
// and surfaces an *AuthError; it is never retried.
type Transport struct {
	api     *apiClient
	session *SessionManager
	log     *slog.Logger
}

func (t *Transport) authorize(ctx context.Context) (string, error) {
	return t.session.AccessToken(ctx)
}

// unauthorized ends the session a 401 was issued against. token is the
// access token the failed request carried.
func (t *Transport) unauthorized(op, token string, err error) error {
	if !IsAuth(err) {
		return err
	}
	if cleared, _ := t.session.expireIf(context.Background(), token); cleared {
		t.log.Warn("request unauthorized, signing out", "op", op)
	} else {
		t.log.Debug("ignoring 401 for a previous session", "op", op)
	}
	return err
}

// Do sends a JSON request.
func (t *Transport) Do(ctx context.Context, method, path string, in, out any) error {
	token, err := t.authorize(ctx)
	if err != nil {
		return err
	}
	err = t.api.doJSON(ctx, method, path, token, in, out)
	return t.unauthorized(method+" "+path, token, err)
}

// DoMultipart posts a prepared multipart body.
func (t *Transport) DoMultipart(ctx context.Context, path string, body io.Reader, contentType string, out any) error {
	token, err := t.authorize(ctx)
	if err != nil {
		return err
	}
	op := http.MethodPost + " " + path
	res, err := t.api.send(ctx, http.MethodPost, path, token, body, contentType)
	if err != nil {
		return err
	}
	return t.unauthorized(op, token, readJSON(op, res, out))
}

// Download fetches a binary body and the filename the server suggested.
func (t *Transport) Download(ctx context.Context, path string) ([]byte, string, error) {
	token, err := t.authorize(ctx)
	if err != nil {
		return nil, "", err
	}
	op := http.MethodGet + " " + path
	res, err := t.api.send(ctx, http.MethodGet, path, token, nil, "")
	if err != nil {
		return nil, "", err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, "", t.unauthorized(op, token, readJSON(op, res, nil))
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", &NetworkError{Op: op, Err: err}
	}
	return data, attachmentFilename(res.Header.Get("Content-Disposition")), nil
}

func attachmentFilename(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["filename"])
}
