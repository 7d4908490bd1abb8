package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/notesafe/notesafe/internal/models"
)

// ErrTokenExpired is returned before a request is even attempted when the
// bearer token's exp claim has passed. The host is expected to refresh the
// token via SetToken; until then the engine treats it as a connectivity
// failure.
var ErrTokenExpired = errors.New("access token expired")

// HTTPClient talks to the sync server over plain HTTP. One request per
// record on the way out, one polling request on the way in.
type HTTPClient struct {
	baseURL string
	http    *http.Client

	mu          sync.RWMutex
	accessToken string
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// SetToken installs the bearer token used on every request.
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *HTTPClient) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// checkToken inspects the token's exp claim locally, without verifying the
// signature (verification is the server's job; we only want to avoid a
// guaranteed 401 round trip).
func (c *HTTPClient) checkToken() error {
	token := c.token()
	if token == "" {
		return nil
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		// opaque non-JWT tokens are passed through untouched
		return nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if exp.Before(time.Now()) {
		return ErrTokenExpired
	}
	return nil
}

type pushResponse struct {
	Sequence int64 `json:"sequence"`
}

func (c *HTTPClient) Push(ctx context.Context, rec *models.SyncRecord) (int64, error) {
	var resp pushResponse
	if err := c.do(ctx, http.MethodPost, "/sync/records", rec, &resp); err != nil {
		return 0, err
	}
	return resp.Sequence, nil
}

type pollResponse struct {
	Records []Record `json:"records"`
}

func (c *HTTPClient) Poll(ctx context.Context, since int64) ([]Record, error) {
	var resp pollResponse
	path := "/sync/records?since=" + strconv.FormatInt(since, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

type noteFilesRequest struct {
	NoteIDs []string `json:"note_ids"`
}

type noteFilesResponse struct {
	Files map[string][]string `json:"files"`
}

func (c *HTTPClient) NoteFiles(ctx context.Context, noteIDs []string) (map[string][]string, error) {
	var resp noteFilesResponse
	if err := c.do(ctx, http.MethodPost, "/sync/files/query", noteFilesRequest{NoteIDs: noteIDs}, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

type fileURLResponse struct {
	URL string `json:"url"`
}

func (c *HTTPClient) UploadURL(ctx context.Context, noteID, fileID string) (string, error) {
	return c.fileURL(ctx, noteID, fileID, "upload-url")
}

func (c *HTTPClient) DownloadURL(ctx context.Context, noteID, fileID string) (string, error) {
	return c.fileURL(ctx, noteID, fileID, "download-url")
}

func (c *HTTPClient) fileURL(ctx context.Context, noteID, fileID, kind string) (string, error) {
	var resp fileURLResponse
	path := fmt.Sprintf("/sync/files/%s/%s/%s", url.PathEscape(noteID), url.PathEscape(fileID), kind)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.checkToken(); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
