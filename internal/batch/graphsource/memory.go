package graphsource

import (
	"context"
	"sync"
)

// MemoryClient answers reads from canned results. It backs tests and local
// runs without a graph database.
type MemoryClient struct {
	mu      sync.Mutex
	results []Result
	queries []string
	params  []map[string]any
	err     error
}

// NewMemoryClient returns a client that replays results in order and then
// returns empty results.
func NewMemoryClient(results ...Result) *MemoryClient {
	return &MemoryClient{results: results}
}

// WithError makes every subsequent read fail with err.
func (m *MemoryClient) WithError(err error) *MemoryClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

func (m *MemoryClient) ExecuteRead(_ context.Context, cypher string, params map[string]any) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return Result{}, m.err
	}
	m.queries = append(m.queries, cypher)
	m.params = append(m.params, params)

	if len(m.results) == 0 {
		return Result{}, nil
	}
	res := m.results[0]
	m.results = m.results[1:]
	return res, nil
}

func (m *MemoryClient) VerifyConnectivity(context.Context) error { return nil }

func (m *MemoryClient) Close(context.Context) error { return nil }

// Params returns the parameters of every executed read.
func (m *MemoryClient) Params() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.params...)
}
