package models

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// classified wraps a chat model so its call errors pass through HandleError.
type classified struct {
	inner model.ToolCallingChatModel
}

// Classify returns m with call errors classified by HandleError.
func Classify(m model.ToolCallingChatModel) model.ToolCallingChatModel {
	if m == nil {
		return nil
	}
	if _, ok := m.(*classified); ok {
		return m
	}
	return &classified{inner: m}
}

func (c *classified) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	msg, err := c.inner.Generate(ctx, input, opts...)
	return msg, HandleError(err)
}

func (c *classified) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	sr, err := c.inner.Stream(ctx, input, opts...)
	return sr, HandleError(err)
}

func (c *classified) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	bound, err := c.inner.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &classified{inner: bound}, nil
}
