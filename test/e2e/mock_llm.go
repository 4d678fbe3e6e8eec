package e2e

import (
	"context"
	"fmt"
	"sync"

	"github.com/dineseek/dineseek/pkg/llm"
)

// LLMScriptEntry defines a single scripted LLM response.
type LLMScriptEntry struct {
	// Response content (exactly one should be set)
	Text  string // raw completion text, usually a JSON document
	Error error  // returned instead of a response

	// Test control
	BlockUntilCancelled bool            // block Complete() until ctx is cancelled, then return ctx.Err()
	WaitCh              <-chan struct{} // block Complete() until closed, then return normally
	OnBlock             chan<- struct{} // notified when Complete() enters its blocking path
}

// ScriptedLLMClient implements llm.Client with per-purpose routing. The
// pipeline fires base_filters and post_constraints concurrently, so call
// order across purposes is non-deterministic; routing by purpose keeps
// every script deterministic regardless of scheduling.
type ScriptedLLMClient struct {
	mu       sync.Mutex
	routes   map[string][]LLMScriptEntry
	index    map[string]int
	captured []llm.Request
}

// NewScriptedLLMClient creates an empty scripted client. Completions for
// purposes with no script fail loudly so test authoring bugs surface as
// pipeline errors instead of silent hangs.
func NewScriptedLLMClient() *ScriptedLLMClient {
	return &ScriptedLLMClient{
		routes: make(map[string][]LLMScriptEntry),
		index:  make(map[string]int),
	}
}

// Add appends an entry to the purpose's script. Entries are consumed in
// order; the last entry repeats once the script is exhausted, which keeps
// retried stages and repeated narrations from needing duplicate entries.
func (c *ScriptedLLMClient) Add(purpose string, entry LLMScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[purpose] = append(c.routes[purpose], entry)
}

// AddText is shorthand for Add with a plain text response.
func (c *ScriptedLLMClient) AddText(purpose, text string) {
	c.Add(purpose, LLMScriptEntry{Text: text})
}

// Complete implements llm.Client.
func (c *ScriptedLLMClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	c.mu.Lock()
	c.captured = append(c.captured, req)
	entry, err := c.nextEntry(req.Purpose)
	c.mu.Unlock()

	if err != nil {
		return llm.Response{}, err
	}

	if entry.BlockUntilCancelled {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		<-ctx.Done()
		return llm.Response{}, ctx.Err()
	}

	if entry.WaitCh != nil {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		select {
		case <-entry.WaitCh:
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
	}

	if entry.Error != nil {
		return llm.Response{}, entry.Error
	}
	return llm.Response{Text: entry.Text, Model: "scripted-model"}, nil
}

// nextEntry pops the next entry for purpose. Called with the mutex held.
func (c *ScriptedLLMClient) nextEntry(purpose string) (LLMScriptEntry, error) {
	script := c.routes[purpose]
	if len(script) == 0 {
		return LLMScriptEntry{}, fmt.Errorf("scripted llm: no entries for purpose %q", purpose)
	}
	i := c.index[purpose]
	if i >= len(script) {
		return script[len(script)-1], nil
	}
	c.index[purpose] = i + 1
	return script[i], nil
}

// CallsFor returns how many completions were requested for purpose.
func (c *ScriptedLLMClient) CallsFor(purpose string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, req := range c.captured {
		if req.Purpose == purpose {
			n++
		}
	}
	return n
}

// Requests returns a copy of every captured request in arrival order.
func (c *ScriptedLLMClient) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Request, len(c.captured))
	copy(out, c.captured)
	return out
}
