package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
)

// Collection gives typed access to a single Firestore collection.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a typed collection to the provider.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// Create writes value under id and fails with a conflict error when the document exists.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) error {
	doc, err := c.Doc(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Create(ctx, value); err != nil {
		return WrapError(c.op("create"), err)
	}
	return nil
}

// Set upserts value under id.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) error {
	doc, err := c.Doc(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Set(ctx, value); err != nil {
		return WrapError(c.op("set"), err)
	}
	return nil
}

// Get fetches and decodes the document stored under id.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var out T
	doc, err := c.Doc(ctx, id)
	if err != nil {
		return out, err
	}
	snap, err := doc.Get(ctx)
	if err != nil {
		return out, WrapError(c.op("get"), err)
	}
	if err := snap.DataTo(&out); err != nil {
		return out, fmt.Errorf("firestore: decode %s/%s: %w", c.name, id, err)
	}
	return out, nil
}

// Where decodes every document whose field at path equals value.
func (c *Collection[T]) Where(ctx context.Context, path string, value any) ([]T, error) {
	if c.provider == nil || c.name == "" {
		return nil, WrapError(c.op("query"), errors.New("firestore: collection is not configured"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	snaps, err := client.Collection(c.name).Where(path, "==", value).Documents(ctx).GetAll()
	if err != nil {
		return nil, WrapError(c.op("query"), err)
	}
	out := make([]T, 0, len(snaps))
	for _, snap := range snaps {
		var value T
		if err := snap.DataTo(&value); err != nil {
			return nil, fmt.Errorf("firestore: decode %s/%s: %w", c.name, snap.Ref.ID, err)
		}
		out = append(out, value)
	}
	return out, nil
}

// Doc returns the document reference for id, for use inside transactions.
func (c *Collection[T]) Doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("document"), errors.New("firestore: document id is required"))
	}
	if c.provider == nil || c.name == "" {
		return nil, WrapError(c.op("document"), errors.New("firestore: collection is not configured"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name).Doc(id), nil
}

func (c *Collection[T]) op(action string) string {
	return c.name + "." + action
}
