package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/rclone/rclone/fs"
	"github.com/rclone/rclone/fs/fserrors"
	"github.com/rclone/rclone/fs/fshttp"
	"github.com/rclone/rclone/lib/pacer"
	"github.com/rclone/rclone/lib/rest"

	"souviens/internal/snapshot"
)

const (
	restPath    = "/rest/v1/"
	storagePath = "/storage/v1/object/"
	listPath    = "/storage/v1/object/list/"
)

// retryErrorCodes are the HTTP statuses retried by the pacer.
var retryErrorCodes = []int{429, 500, 502, 503, 504, 509}

// SupabaseGateway talks to a Supabase project over its REST and storage APIs
// using the service role key.
type SupabaseGateway struct {
	url      string
	srv      *rest.Client
	pacer    *fs.Pacer
	pageSize int
}

// SupabaseOptions configures a SupabaseGateway.
type SupabaseOptions struct {
	URL        string
	ServiceKey string
	// PageSize enables paged row fetches when positive. Zero fetches each
	// table in a single request.
	PageSize int
	// Retries is the number of attempts per request. Zero keeps the default.
	Retries int
}

// NewSupabaseGateway creates a gateway for the project at opts.URL.
func NewSupabaseGateway(ctx context.Context, opts SupabaseOptions) (*SupabaseGateway, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("supabase gateway requires a url")
	}
	if opts.ServiceKey == "" {
		return nil, fmt.Errorf("supabase gateway requires a service key")
	}

	root := strings.TrimRight(opts.URL, "/")
	srv := rest.NewClient(fshttp.NewClient(ctx)).SetRoot(root)
	srv.SetHeader("apikey", opts.ServiceKey)
	srv.SetHeader("Authorization", "Bearer "+opts.ServiceKey)
	srv.SetErrorHandler(errorHandler)

	p := fs.NewPacer(ctx, pacer.NewDefault(pacer.MinSleep(10*time.Millisecond), pacer.MaxSleep(2*time.Second), pacer.DecayConstant(2)))
	if opts.Retries > 0 {
		p.SetRetries(opts.Retries)
	}

	return &SupabaseGateway{
		url:      root,
		srv:      srv,
		pacer:    p,
		pageSize: opts.PageSize,
	}, nil
}

// URL returns the project URL the gateway talks to.
func (g *SupabaseGateway) URL() string {
	return g.url
}

func (g *SupabaseGateway) shouldRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if fserrors.ContextError(ctx, &err) {
		return false, err
	}
	return fserrors.ShouldRetry(err) || fserrors.ShouldRetryHTTP(resp, retryErrorCodes), err
}

// FetchAllRows returns every row of table in the order the API returns them.
func (g *SupabaseGateway) FetchAllRows(ctx context.Context, table string) ([]snapshot.Row, error) {
	if g.pageSize <= 0 {
		return g.fetchRows(ctx, table, url.Values{"select": {"*"}})
	}

	var all []snapshot.Row
	for offset := 0; ; offset += g.pageSize {
		params := url.Values{
			"select": {"*"},
			"order":  {"id"},
			"limit":  {strconv.Itoa(g.pageSize)},
			"offset": {strconv.Itoa(offset)},
		}
		page, err := g.fetchRows(ctx, table, params)
		if err != nil {
			return nil, fmt.Errorf("fetching rows from offset %d: %w", offset, err)
		}
		all = append(all, page...)
		if len(page) < g.pageSize {
			return all, nil
		}
	}
}

func (g *SupabaseGateway) fetchRows(ctx context.Context, table string, params url.Values) ([]snapshot.Row, error) {
	var rows []snapshot.Row
	var resp *http.Response
	err := g.pacer.Call(func() (bool, error) {
		rows = nil
		var err error
		resp, err = g.srv.CallJSON(ctx, &rest.Opts{
			Method:     "GET",
			Path:       restPath + rest.URLPathEscape(table),
			Parameters: params,
		}, nil, &rows)
		return g.shouldRetry(ctx, resp, err)
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// UpsertRows posts rows to table, merging on conflictKey.
func (g *SupabaseGateway) UpsertRows(ctx context.Context, table string, rows []snapshot.Row, conflictKey string) error {
	var resp *http.Response
	return g.pacer.Call(func() (bool, error) {
		var err error
		resp, err = g.srv.CallJSON(ctx, &rest.Opts{
			Method:     "POST",
			Path:       restPath + rest.URLPathEscape(table),
			Parameters: url.Values{"on_conflict": {conflictKey}},
			ExtraHeaders: map[string]string{
				"Prefer": "resolution=merge-duplicates,return=minimal",
			},
			NoResponse: true,
		}, rows, nil)
		return g.shouldRetry(ctx, resp, err)
	})
}

// listRequest is the body of a storage list call.
type listRequest struct {
	Prefix string      `json:"prefix"`
	Limit  int         `json:"limit,omitempty"`
	Offset int         `json:"offset,omitempty"`
	SortBy *listSortBy `json:"sortBy,omitempty"`
	Search string      `json:"search,omitempty"`
}

type listSortBy struct {
	Column string `json:"column"`
	Order  string `json:"order"`
}

// objectEntry is one element of a storage list response. Folders come back
// with a null id.
type objectEntry struct {
	ID        *string   `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Metadata  *struct {
		Size int64 `json:"size"`
	} `json:"metadata"`
}

// ListBlobs lists the entries of bucket.
func (g *SupabaseGateway) ListBlobs(ctx context.Context, bucket string, opts snapshot.ListOptions) ([]snapshot.BlobEntry, error) {
	req := listRequest{
		Prefix: opts.Prefix,
		Limit:  opts.Limit,
		Offset: opts.Offset,
		Search: opts.Search,
	}
	if opts.SortBy.Column != "" {
		req.SortBy = &listSortBy{Column: opts.SortBy.Column, Order: string(opts.SortBy.Order)}
	}

	var result []objectEntry
	var resp *http.Response
	err := g.pacer.Call(func() (bool, error) {
		result = nil
		var err error
		resp, err = g.srv.CallJSON(ctx, &rest.Opts{
			Method: "POST",
			Path:   listPath + rest.URLPathEscape(bucket),
		}, &req, &result)
		return g.shouldRetry(ctx, resp, err)
	})
	if err != nil {
		return nil, err
	}

	entries := make([]snapshot.BlobEntry, 0, len(result))
	for _, o := range result {
		e := snapshot.BlobEntry{
			Name:      o.Name,
			CreatedAt: o.CreatedAt,
			UpdatedAt: o.UpdatedAt,
		}
		if o.ID != nil {
			e.ID = *o.ID
		}
		if o.Metadata != nil {
			e.Size = o.Metadata.Size
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func objectPath(bucket, name string) string {
	return storagePath + rest.URLPathEscape(bucket) + "/" + rest.URLPathEscape(name)
}

// DownloadBlob writes the content of bucket/name to w.
func (g *SupabaseGateway) DownloadBlob(ctx context.Context, bucket, name string, w io.Writer) error {
	var resp *http.Response
	err := g.pacer.Call(func() (bool, error) {
		var err error
		resp, err = g.srv.Call(ctx, &rest.Opts{
			Method: "GET",
			Path:   objectPath(bucket, name),
		})
		return g.shouldRetry(ctx, resp, err)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("reading object body: %w", err)
	}
	return nil
}

// UploadBlob creates bucket/name.
func (g *SupabaseGateway) UploadBlob(ctx context.Context, bucket, name string, r io.Reader, size int64) error {
	return g.putObject(ctx, "POST", bucket, name, r, size)
}

// ReplaceBlob overwrites bucket/name.
func (g *SupabaseGateway) ReplaceBlob(ctx context.Context, bucket, name string, r io.Reader, size int64) error {
	return g.putObject(ctx, "PUT", bucket, name, r, size)
}

// putObject sends the object body. The body is buffered so that a retried
// request can resend it.
func (g *SupabaseGateway) putObject(ctx context.Context, method, bucket, name string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading upload body: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	var resp *http.Response
	return g.pacer.Call(func() (bool, error) {
		length := int64(len(data))
		var err error
		resp, err = g.srv.Call(ctx, &rest.Opts{
			Method:        method,
			Path:          objectPath(bucket, name),
			Body:          bytes.NewReader(data),
			ContentType:   contentType(name, data),
			ContentLength: &length,
			NoResponse:    true,
		})
		return g.shouldRetry(ctx, resp, err)
	})
}

func contentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

var _ snapshot.Gateway = (*SupabaseGateway)(nil)
