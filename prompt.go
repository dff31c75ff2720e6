package tracelens

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Prompt is a versioned prompt template fetched from the registry.
type Prompt struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Version   int            `json:"version"`
	Template  string         `json:"template"`
	Config    map[string]any `json:"config,omitempty"`
	Labels    []string       `json:"labels,omitempty"`
	CreatedAt string         `json:"createdAt,omitempty"`
}

// Compile substitutes variables into the template. Both {{var}} and {var}
// syntax are supported.
func (p *Prompt) Compile(variables map[string]any) string {
	result := p.Template
	for key, value := range variables {
		result = strings.ReplaceAll(result, fmt.Sprintf("{{%s}}", key), fmt.Sprint(value))
		result = strings.ReplaceAll(result, fmt.Sprintf("{%s}", key), fmt.Sprint(value))
	}
	return result
}

// ChatMessage represents a chat message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var chatRoleRegex = regexp.MustCompile(`(?i)^(system|user|assistant|function):\s*(.*)$`)

// CompileChat compiles the template and splits it into chat messages on
// "role:" line prefixes.
func (p *Prompt) CompileChat(variables map[string]any) []ChatMessage {
	compiled := p.Compile(variables)
	messages := []ChatMessage{}

	var currentRole string
	var currentContent []string

	appendCurrent := func() {
		if currentRole != "" && len(currentContent) > 0 {
			messages = append(messages, ChatMessage{
				Role:    strings.ToLower(currentRole),
				Content: strings.TrimSpace(strings.Join(currentContent, "\n")),
			})
		}
	}

	for _, line := range strings.Split(strings.TrimSpace(compiled), "\n") {
		if matches := chatRoleRegex.FindStringSubmatch(line); matches != nil {
			appendCurrent()
			currentRole = matches[1]
			if matches[2] != "" {
				currentContent = []string{matches[2]}
			} else {
				currentContent = []string{}
			}
		} else {
			currentContent = append(currentContent, line)
		}
	}
	appendCurrent()

	return messages
}

var (
	doubleBraceVar = regexp.MustCompile(`\{\{(\w+)\}\}`)
	singleBraceVar = regexp.MustCompile(`\{(\w+)\}`)
)

// Variables extracts the variable names referenced by the template.
func (p *Prompt) Variables() []string {
	seen := make(map[string]struct{})
	for _, match := range doubleBraceVar.FindAllStringSubmatch(p.Template, -1) {
		seen[match[1]] = struct{}{}
	}
	for _, match := range singleBraceVar.FindAllStringSubmatch(p.Template, -1) {
		seen[match[1]] = struct{}{}
	}

	variables := make([]string, 0, len(seen))
	for v := range seen {
		variables = append(variables, v)
	}
	return variables
}

const defaultPromptCacheTTL = time.Minute

// promptCache is the client-scoped prompt cache. Concurrent fetches for the
// same key are collapsed into one request.
type promptCache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]cachedPrompt
	group singleflight.Group
}

type cachedPrompt struct {
	prompt   *Prompt
	cachedAt time.Time
}

func newPromptCache() *promptCache {
	return &promptCache{
		ttl:   defaultPromptCacheTTL,
		items: make(map[string]cachedPrompt),
	}
}

func (pc *promptCache) get(key string, ttl time.Duration) (*Prompt, bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	cached, ok := pc.items[key]
	if !ok || time.Since(cached.cachedAt) >= ttl {
		return nil, false
	}
	return cached.prompt, true
}

func (pc *promptCache) defaultTTL() time.Duration {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.ttl
}

func (pc *promptCache) put(key string, p *Prompt) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.items[key] = cachedPrompt{prompt: p, cachedAt: time.Now()}
}

// GetPromptOptions holds options for fetching a prompt.
type GetPromptOptions struct {
	Name    string
	Version *int
	Label   string

	// Fallback is used when the prompt does not exist on the server.
	Fallback string

	// CacheTTL overrides the default one-minute cache lifetime.
	CacheTTL time.Duration
}

// GetPrompt fetches a prompt from the registry, serving repeated lookups from
// a TTL cache. A missing prompt yields the Fallback template when one is set,
// otherwise ErrNotFound. Transport failures are returned, not masked.
func (c *Client) GetPrompt(ctx context.Context, opts GetPromptOptions) (*Prompt, error) {
	key := promptCacheKey(opts)
	ttl := opts.CacheTTL
	if ttl == 0 {
		ttl = c.prompts.defaultTTL()
	}

	if prompt, ok := c.prompts.get(key, ttl); ok {
		return prompt, nil
	}

	v, err, _ := c.prompts.group.Do(key, func() (any, error) {
		prompt, err := c.fetchPrompt(ctx, opts)
		if err != nil {
			return nil, err
		}
		c.prompts.put(key, prompt)
		return prompt, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) && opts.Fallback != "" {
			return &Prompt{
				ID:       "fallback",
				Name:     opts.Name,
				Template: opts.Fallback,
				Labels:   []string{"fallback"},
			}, nil
		}
		return nil, err
	}
	return v.(*Prompt), nil
}

func (c *Client) fetchPrompt(ctx context.Context, opts GetPromptOptions) (*Prompt, error) {
	query := url.Values{}
	query.Set("name", opts.Name)
	if opts.Version != nil {
		query.Set("version", fmt.Sprintf("%d", *opts.Version))
	}
	if opts.Label != "" {
		query.Set("label", opts.Label)
	}

	var prompt Prompt
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/prompts", query, nil, &prompt); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("tracelens: prompt %q: %w", opts.Name, ErrNotFound)
		}
		return nil, err
	}
	return &prompt, nil
}

func promptCacheKey(opts GetPromptOptions) string {
	parts := []string{opts.Name}
	if opts.Version != nil {
		parts = append(parts, fmt.Sprintf("v%d", *opts.Version))
	}
	if opts.Label != "" {
		parts = append(parts, "l:"+opts.Label)
	}
	return strings.Join(parts, ":")
}

// InvalidatePrompt drops every cached version of a named prompt.
func (c *Client) InvalidatePrompt(name string) {
	c.prompts.mu.Lock()
	defer c.prompts.mu.Unlock()

	for key := range c.prompts.items {
		if key == name || strings.HasPrefix(key, name+":") {
			delete(c.prompts.items, key)
		}
	}
}

// SetPromptCacheTTL sets the default cache lifetime for prompts.
func (c *Client) SetPromptCacheTTL(ttl time.Duration) {
	c.prompts.mu.Lock()
	defer c.prompts.mu.Unlock()
	c.prompts.ttl = ttl
}
