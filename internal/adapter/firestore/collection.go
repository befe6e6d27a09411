package firestore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"

	"github.com/jun/gophstore/internal/adapter"
	"github.com/jun/gophstore/internal/codec"
)

type document struct {
	Name       string                     `json:"name,omitempty"`
	Fields     map[string]codec.WireValue `json:"fields"`
	CreateTime string                     `json:"createTime,omitempty"`
	UpdateTime string                     `json:"updateTime,omitempty"`
}

type listResponse struct {
	Documents     []document `json:"documents"`
	NextPageToken string     `json:"nextPageToken"`
}

// Collection is an adapter.Collection over one collection path.
type Collection struct {
	client *Client
	path   string
}

var _ adapter.Collection = (*Collection)(nil)

func (c *Collection) Path() string { return c.path }

func (c *Collection) url() string {
	return c.client.DocumentsURL() + "/" + c.path
}

// Add posts rec and returns the id the server assigned.
func (c *Collection) Add(ctx context.Context, rec codec.Record) (string, error) {
	data, status, err := c.client.send(ctx, http.MethodPost, c.url(), document{Fields: codec.EncodeRecord(rec)}, true)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", adapter.StatusError(true, status, string(data))
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", &adapter.WriteError{StatusCode: status, Body: string(data), Err: fmt.Errorf("decode response: %w", err)}
	}
	if doc.Name == "" {
		return "", &adapter.WriteError{StatusCode: status, Body: string(data), Err: fmt.Errorf("response has no document name")}
	}
	return path.Base(doc.Name), nil
}

// Get lists every document, following page tokens until exhausted.
func (c *Collection) Get(ctx context.Context) ([]codec.Record, error) {
	out := []codec.Record{}
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("pageSize", strconv.Itoa(c.client.pageSize))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		data, status, err := c.client.send(ctx, http.MethodGet, c.url()+"?"+q.Encode(), nil, false)
		if err != nil {
			return nil, err
		}
		if status == http.StatusNotFound && pageToken == "" {
			// Never-written collection.
			return out, nil
		}
		if status != http.StatusOK {
			return nil, adapter.StatusError(false, status, string(data))
		}

		var page listResponse
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, &adapter.ReadError{StatusCode: status, Body: string(data), Err: fmt.Errorf("decode response: %w", err)}
		}
		for _, doc := range page.Documents {
			rec := codec.DecodeRecord(doc.Fields)
			out = append(out, rec.With(adapter.IDField, codec.String(path.Base(doc.Name))))
		}

		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

// Set creates or replaces the document id.
func (c *Collection) Set(ctx context.Context, id string, rec codec.Record) error {
	if id == "" {
		return &adapter.WriteError{Err: fmt.Errorf("document id is empty")}
	}
	data, status, err := c.client.send(ctx, http.MethodPatch, c.url()+"/"+url.PathEscape(id), document{Fields: codec.EncodeRecord(rec)}, true)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return adapter.StatusError(true, status, string(data))
	}
	return nil
}
