package uc

import (
	"context"

	"github.com/ragline/ragline/engine/rag/retriever"
)

type BuildContextInput struct {
	TenantID  string
	Namespace string
	Query     string
	TopK      int
}

type BuildContextOutput struct {
	Bundle *retriever.ContextBundle
}

type BuildContext struct {
	builder *retriever.ContextBuilder
}

func NewBuildContext(builder *retriever.ContextBuilder) *BuildContext {
	return &BuildContext{builder: builder}
}

func (uc *BuildContext) Execute(ctx context.Context, in *BuildContextInput) (*BuildContextOutput, error) {
	if in == nil {
		return nil, ErrInvalidInput
	}
	bundle, err := uc.builder.Build(ctx, in.TenantID, in.Namespace, in.Query, in.TopK)
	if err != nil {
		return nil, err
	}
	return &BuildContextOutput{Bundle: bundle}, nil
}
