package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fenix-social/realtime/pkg/messages"
	"github.com/fenix-social/realtime/pkg/session"
)

// Client talks to the backend REST API on behalf of the signed-in user.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      func() string
}

// NewClient returns a client that authenticates with whatever token returns
// at the time of each request.
func NewClient(apiURL string, timeout time.Duration, token func() string) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		token:      token,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, auth bool, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if auth {
		token := ""
		if c.token != nil {
			token = c.token()
		}
		if token == "" {
			return ErrNoToken
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in interface{}, auth bool, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		marshaled, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(marshaled)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, body, contentType, auth, out)
}

// Notifications fetches the notification snapshot. Rows are returned raw so
// the caller can map each one on its own and drop the ones it can't read.
func (c *Client) Notifications(ctx context.Context) ([]json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/notifications", nil, true, &raw); err != nil {
		return nil, err
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var rows []json.RawMessage
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}

	// some deployments wrap the list
	var wrapped struct {
		Notifications []json.RawMessage `json:"notifications"`
		Data          []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Notifications != nil {
		return wrapped.Notifications, nil
	}
	return wrapped.Data, nil
}

type markReadRequest struct {
	Ids []int64 `json:"ids"`
}

// MarkRead marks notification ids as read. The server treats ids that are
// already read as a no-op.
func (c *Client) MarkRead(ctx context.Context, ids []int64) error {
	return c.doJSON(ctx, http.MethodPatch, "/notifications/read", markReadRequest{Ids: ids}, true, nil)
}

// History returns the stored messages between the signed-in user and peer.
func (c *Client) History(ctx context.Context, peerId int64) ([]messages.Message, error) {
	var out []messages.Message
	if err := c.doJSON(ctx, http.MethodGet, "/messages/"+strconv.FormatInt(peerId, 10), nil, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Upload streams r as a multipart file and returns its public URL. progress,
// if set, is called with the fraction sent so far when the size is known and
// with 1 once the file is fully written.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader, progress func(float64)) (string, error) {
	size := int64(-1)
	if l, ok := r.(interface{ Len() int }); ok {
		size = int64(l.Len())
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		part, err := form.CreateFormFile("file", name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, &progressReader{r: r, size: size, progress: progress}); err != nil {
			pw.CloseWithError(err)
			return
		}
		if progress != nil {
			progress(1)
		}
		if err := form.Close(); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()

	var out uploadResponse
	if err := c.do(ctx, http.MethodPost, "/uploads", pr, form.FormDataContentType(), true, &out); err != nil {
		pr.CloseWithError(err)
		return "", err
	}
	if out.URL == "" {
		return "", ErrNoURL
	}
	return out.URL, nil
}

type progressReader struct {
	r        io.Reader
	size     int64
	read     int64
	progress func(float64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.progress != nil && p.size > 0 && n > 0 {
		p.progress(float64(p.read) / float64(p.size))
	}
	return n, err
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh trades a refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (session.Tokens, error) {
	var out session.Tokens
	err := c.doJSON(ctx, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: refreshToken}, false, &out)
	return out, err
}
