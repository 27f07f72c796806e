package voucher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultAPIURL     = "http://localhost/esp32-api/index.php"
	DefaultUploadsURL = "http://localhost/esp32-api/uploads/"
	DefaultDeviceURL  = "http://localhost/esp32-api/run_react.php"

	defaultTitle = "Voucher"
)

// uploadedAtLayouts are the timestamp formats the backend has been seen to emit
var uploadedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ClientConfig locates the backend endpoints
type ClientConfig struct {
	APIURL     string
	UploadsURL string
	DeviceURL  string
}

// Client talks to the voucher backend. It holds no voucher state.
type Client struct {
	apiURL     string
	uploadsURL string
	deviceURL  string
	http       *http.Client
	timeSource TimeSource
}

// NewClient creates a new Client with a default HTTP client and time source
func NewClient(cfg ClientConfig) *Client {
	return NewClientWithDeps(cfg, &http.Client{Timeout: 30 * time.Second}, &defaultTimeSource{})
}

// NewClientWithDeps creates a new Client with custom dependencies. A nil
// timeSrc uses the wall clock.
func NewClientWithDeps(cfg ClientConfig, httpClient *http.Client, timeSrc TimeSource) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.UploadsURL == "" {
		cfg.UploadsURL = DefaultUploadsURL
	}
	if !strings.HasSuffix(cfg.UploadsURL, "/") {
		cfg.UploadsURL += "/"
	}
	if cfg.DeviceURL == "" {
		cfg.DeviceURL = DefaultDeviceURL
	}
	if timeSrc == nil {
		timeSrc = &defaultTimeSource{}
	}
	return &Client{
		apiURL:     cfg.APIURL,
		uploadsURL: cfg.UploadsURL,
		deviceURL:  cfg.DeviceURL,
		http:       httpClient,
		timeSource: timeSrc,
	}
}

// wireID accepts ids encoded either as JSON numbers or strings
type wireID string

func (w *wireID) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*w = ""
		return nil
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*w = wireID(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return fmt.Errorf("voucher id must be a number or string: %w", err)
		}
		*w = wireID(n.String())
		return nil
	}
}

// apiVoucher is a voucher as the backend encodes it
type apiVoucher struct {
	ID         wireID `json:"id"`
	Filename   string `json:"filename"`
	OCRText    string `json:"ocr_text"`
	UploadedAt string `json:"uploaded_at"`
	Title      string `json:"title"`
}

type createResponse struct {
	Filename string `json:"filename"`
}

type deleteRequest struct {
	ID string `json:"id"`
}

type updateRequest struct {
	ID          string  `json:"id"`
	NewFilename string  `json:"new_filename"`
	Title       *string `json:"title,omitempty"`
	OCRText     *string `json:"ocr_text,omitempty"`
}

type deviceResponse struct {
	Status string `json:"status"`
}

// toVoucher maps a wire record onto the domain model, applying defaults
func (c *Client) toVoucher(item apiVoucher) *Voucher {
	title := item.Title
	if title == "" {
		title = defaultTitle
	}
	return &Voucher{
		ID:         string(item.ID),
		Filename:   item.Filename,
		Title:      title,
		ImageURL:   c.uploadsURL + url.PathEscape(item.Filename),
		OCRText:    item.OCRText,
		UploadDate: c.parseUploadedAt(item.UploadedAt),
	}
}

func (c *Client) parseUploadedAt(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return c.timeSource.Now()
	}
	for _, layout := range uploadedAtLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	slog.Warn("Unparseable upload timestamp", "value", value)
	return c.timeSource.Now()
}

// do sends req and returns the response only for 2xx statuses
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, req.Method, req.URL.Redacted(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s %s (status %d): %s", ErrNetwork, req.Method, req.URL.Redacted(), resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

func (c *Client) sendJSON(ctx context.Context, method string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// List fetches all vouchers from the backend
func (c *Client) List(ctx context.Context) ([]*Voucher, error) {
	items, err := c.listRaw(ctx)
	if err != nil {
		return nil, err
	}
	vouchers := make([]*Voucher, 0, len(items))
	for _, item := range items {
		vouchers = append(vouchers, c.toVoucher(item))
	}
	return vouchers, nil
}

func (c *Client) listRaw(ctx context.Context) ([]apiVoucher, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var items []apiVoucher
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: decoding voucher list: %v", ErrNetwork, err)
	}
	return items, nil
}

// Get fetches a single voucher by id
func (c *Client) Get(ctx context.Context, id string) (*Voucher, error) {
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("parsing api url: %w", err)
	}
	q := u.Query()
	q.Set("id", id)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decoding voucher %s: %v", ErrNetwork, id, err)
	}

	// Some backends answer a lookup with a one-element list
	var item apiVoucher
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []apiVoucher
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: decoding voucher %s: %v", ErrNetwork, id, err)
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		item = items[0]
	} else if err := json.Unmarshal(trimmed, &item); err != nil {
		return nil, fmt.Errorf("%w: decoding voucher %s: %v", ErrNetwork, id, err)
	}

	if item.ID == "" && item.Filename == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.toVoucher(item), nil
}

// Create uploads an image and returns the voucher the backend created for it.
// The backend does not return an id, so the new record is located by filename.
func (c *Client) Create(ctx context.Context, filename string, data []byte, contentType string) (*Voucher, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, escapeQuotes(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("creating form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("writing form part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, &body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var created createResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: decoding upload response: %v", ErrNetwork, decodeErr)
	}
	storedName := created.Filename
	if storedName == "" {
		storedName = filename
	}

	items, err := c.listRaw(ctx)
	if err != nil {
		return nil, err
	}

	var match *apiVoucher
	matches := 0
	for i := range items {
		if items[i].Filename != storedName {
			continue
		}
		if match == nil {
			match = &items[i]
		}
		matches++
	}
	if match == nil {
		return nil, fmt.Errorf("%w: no record for uploaded file %s", ErrNotFound, storedName)
	}
	if matches > 1 {
		slog.Warn("Uploaded filename matches several vouchers, using the first",
			"filename", storedName,
			"matches", matches,
			"id", string(match.ID),
		)
	}
	return c.toVoucher(*match), nil
}

// Remove deletes a voucher by id
func (c *Client) Remove(ctx context.Context, id string) error {
	resp, err := c.sendJSON(ctx, http.MethodDelete, deleteRequest{ID: id})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Update applies patch and returns the voucher as the backend now stores it
func (c *Client) Update(ctx context.Context, id string, patch Patch) (*Voucher, error) {
	resp, err := c.sendJSON(ctx, http.MethodPut, updateRequest{
		ID:          id,
		NewFilename: patch.Filename,
		Title:       patch.Title,
		OCRText:     patch.OCRText,
	})
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	updated, err := c.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching updated voucher: %w", err)
	}
	return updated, nil
}

// TriggerDevice asks the backend to capture a document with the attached ESP32 camera
func (c *Client) TriggerDevice(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.deviceURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var reply deviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("%w: decoding device reply: %v", ErrNetwork, err)
	}
	return reply.Status, nil
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
