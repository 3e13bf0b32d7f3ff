package llm

import (
	"context"
	"sync/atomic"
)

// fakeProvider is a scripted Provider for tests.
type fakeProvider struct {
	name      string
	available bool
	text      string
	err       error
	block     bool
	calls     atomic.Int32
}

func (f *fakeProvider) Name() string         { return f.name }
func (f *fakeProvider) DefaultModel() string { return f.name + "-model" }
func (f *fakeProvider) Available() bool      { return f.available }

func (f *fakeProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	model := req.Model
	if model == "" {
		model = f.DefaultModel()
	}
	return &Response{
		Text:     f.text,
		Provider: f.name,
		Model:    model,
		Usage:    Usage{InputTokens: 10, OutputTokens: 3},
	}, nil
}
