package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"greendrake/housemarket/internal/apperr"
	"greendrake/housemarket/internal/models"
	"greendrake/housemarket/internal/services"
)

// apiClient talks to the listing API over HTTP.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: http.DefaultClient}
}

type errorBody struct {
	Error  string              `json:"error"`
	Fields []apperr.FieldError `json:"fields"`
}

// do sends req and decodes a JSON response into out, mapping error statuses back to
// the apperr taxonomy.
func (c *apiClient) do(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	logrus.WithFields(logrus.Fields{"method": req.Method, "url": req.URL.String()}).Debug("API request")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Transport(req.Method+" "+req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var body errorBody
		_ = json.NewDecoder(resp.Body).Decode(&body)
		switch resp.StatusCode {
		case http.StatusBadRequest:
			if len(body.Fields) > 0 {
				return &apperr.ValidationError{Fields: body.Fields}
			}
			return apperr.Invalid("request", "%s", body.Error)
		case http.StatusUnauthorized:
			return fmt.Errorf("%s: %w", body.Error, apperr.ErrUnauthenticated)
		case http.StatusForbidden:
			return fmt.Errorf("%s: %w", body.Error, apperr.ErrForbidden)
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", body.Error, apperr.ErrNotFound)
		}
		return apperr.Transport(req.Method+" "+req.URL.Path, fmt.Errorf("status %d: %s", resp.StatusCode, body.Error))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Transport("decode response", err)
	}
	return nil
}

func (c *apiClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *apiClient) postJSON(ctx context.Context, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// FetchPage satisfies feed.PageFetcher.
func (c *apiClient) FetchPage(ctx context.Context, q services.ListingQuery) (*services.ListingPage, error) {
	query := url.Values{}
	if q.Offer != nil {
		query.Set("offer", strconv.FormatBool(*q.Offer))
	}
	if q.Type != nil {
		query.Set("type", string(*q.Type))
	}
	if q.UserRef != nil {
		query.Set("user", q.UserRef.Hex())
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		query.Set("cursor", q.Cursor)
	}

	var page services.ListingPage
	if err := c.getJSON(ctx, "/v1/listings", query, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *apiClient) Recommended(ctx context.Context, n int) ([]models.Listing, error) {
	query := url.Values{}
	if n > 0 {
		query.Set("limit", strconv.Itoa(n))
	}
	var body struct {
		Data []models.Listing `json:"data"`
	}
	if err := c.getJSON(ctx, "/v1/listings/recommended", query, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

func (c *apiClient) SignUp(ctx context.Context, name, email, password string) (*services.Session, error) {
	var session services.Session
	err := c.postJSON(ctx, "/v1/auth/sign-up", map[string]string{"name": name, "email": email, "password": password}, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *apiClient) SignIn(ctx context.Context, email, password string) (*services.Session, error) {
	var session services.Session
	err := c.postJSON(ctx, "/v1/auth/sign-in", map[string]string{"email": email, "password": password}, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Submit creates a listing, or edits listingID when it is non-empty. Image order on
// the command line is the selection order; the first image becomes the cover.
func (c *apiClient) Submit(ctx context.Context, listingID string, fields map[string]string, imagePaths []string) (*models.Listing, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	for _, path := range imagePaths {
		if err := writeImagePart(w, path); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	method, path := http.MethodPost, "/v1/listings"
	if listingID != "" {
		method, path = http.MethodPut, "/v1/listings/"+url.PathEscape(listingID)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var listing models.Listing
	if err := c.do(req, &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

func writeImagePart(w *multipart.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read image %s: %w", path, err)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename="%s"`, filepath.Base(path)))
	h.Set("Content-Type", http.DetectContentType(data))
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, bytes.NewReader(data))
	return err
}

// describeError renders an API error for the terminal.
func describeError(err error) string {
	var verr *apperr.ValidationError
	if errors.As(err, &verr) {
		lines := make([]string, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			lines = append(lines, fmt.Sprintf("  %s: %s", f.Field, f.Message))
		}
		return "validation failed:\n" + strings.Join(lines, "\n")
	}
	return err.Error()
}
