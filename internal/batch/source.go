package batch

import "context"

// Source delivers a batch. Load is the only blocking call a surface makes
// during ingestion and is never invoked while surface state is locked.
type Source interface {
	Load(ctx context.Context) (*Batch, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*Batch, error)

// Load implements Source.
func (f SourceFunc) Load(ctx context.Context) (*Batch, error) { return f(ctx) }

// Static returns a Source that always yields b.
func Static(b *Batch) Source {
	return SourceFunc(func(context.Context) (*Batch, error) { return b, nil })
}
