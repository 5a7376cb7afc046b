package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/insikl/messaging-admin-ambassador/internal/models"
)

// GetConfig reads objects of one type. An empty name lists all of them.
func (c *Client) GetConfig(ctx context.Context, t models.ObjectType, name string) (*models.ConfigDocument, error) {
	path := DomainConfiguration + string(t)
	if name != "" {
		path += "/" + escape(name)
	}
	var doc models.ConfigDocument
	if err := c.callJSON(ctx, http.MethodGet, path, nil, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetObject reads the properties of one named object.
func (c *Client) GetObject(ctx context.Context, t models.ObjectType, name string) (models.Properties, error) {
	doc, err := c.GetConfig(ctx, t, name)
	if err != nil {
		return nil, err
	}
	if t.Singleton() {
		return doc.Single(t)
	}
	named, err := doc.Named(t)
	if err != nil {
		return nil, err
	}
	props, ok := named[name]
	if !ok {
		return nil, &APIError{
			Status:  http.StatusNotFound,
			Code:    models.CodeNotFound,
			Message: fmt.Sprintf("The item or object cannot be found. Type: %s Name: %s", t, name),
		}
	}
	return props, nil
}

// GetConfigAll reads the whole configuration of the server.
func (c *Client) GetConfigAll(ctx context.Context) (*models.ConfigDocument, error) {
	var doc models.ConfigDocument
	if err := c.callJSON(ctx, http.MethodGet, DomainConfiguration, nil, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// SetConfig posts a configuration document. The document may create,
// update or, with null values, delete several objects at once.
func (c *Client) SetConfig(ctx context.Context, payload []byte) (*models.Response, error) {
	if !json.Valid(payload) {
		return nil, fmt.Errorf("configuration payload is not valid JSON")
	}
	data, err := c.call(ctx, http.MethodPost, DomainConfiguration, nil, payload)
	if err != nil {
		return nil, err
	}
	return decodeResponse(data)
}

// SetObject creates or updates one object.
func (c *Client) SetObject(ctx context.Context, t models.ObjectType, name string, props models.Properties) (*models.Response, error) {
	if props == nil {
		props = models.Properties{}
	}
	payload, err := models.NamedPayload(t, name, props)
	if err != nil {
		return nil, err
	}
	return c.SetConfig(ctx, payload)
}

// DeleteConfig deletes one named object.
func (c *Client) DeleteConfig(ctx context.Context, t models.ObjectType, name string) (*models.Response, error) {
	path := DomainConfiguration + string(t)
	if name != "" {
		path += "/" + escape(name)
	}
	data, err := c.call(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeResponse(data)
}

// PutFile uploads a file (certificate, key, plugin archive) for later
// reference by name from configuration objects.
func (c *Client) PutFile(ctx context.Context, name string, content []byte) (*models.Response, error) {
	data, err := c.call(ctx, http.MethodPut, DomainFile+escape(name), nil, content)
	if err != nil {
		return nil, err
	}
	return decodeResponse(data)
}

func decodeResponse(data []byte) (*models.Response, error) {
	var r models.Response
	if len(data) == 0 {
		return &r, nil
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode admin response: %w", err)
	}
	return &r, nil
}
