package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	xerrors "Auditum/internal/errors"
	"Auditum/pkg/module"
)

// SearchCapability 为 scraper 模块提供检索的能力名。
const SearchCapability = "search"

// Failure 记录一次加载失败，供 API 展示。
type Failure struct {
	Module string       `json:"module"`
	Path   string       `json:"path"`
	Code   xerrors.Code `json:"code"`
	Error  string       `json:"error"`
	At     time.Time    `json:"at"`
}

// SearchResult 是单个 scraper 模块对一次检索的返回。
type SearchResult struct {
	Module string `json:"module"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Catalog 由宿主持有，保存已加载的模块句柄。加载器本身不保留句柄。
type Catalog struct {
	mu       sync.RWMutex
	handles  map[string]*module.Handle
	names    []string
	failures []Failure
}

// NewCatalog 创建空的模块目录。
func NewCatalog() *Catalog {
	return &Catalog{handles: make(map[string]*module.Handle)}
}

// Add 登记句柄，模块名重复时返回错误。
func (c *Catalog) Add(h *module.Handle) error {
	if h == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "句柄不能为空")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.handles[h.Name()]; exists {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("模块 %s 已加载", h.Name()),
			xerrors.WithMetadata(module.MetaModule, h.Name()))
	}
	c.handles[h.Name()] = h
	c.names = append(c.names, h.Name())
	return nil
}

// Get 按名称查找句柄。
func (c *Catalog) Get(name string) (*module.Handle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handles[name]
	return h, ok
}

// List 按登记顺序返回全部句柄。
func (c *Catalog) List() []*module.Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*module.Handle, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, c.handles[name])
	}
	return out
}

// ByRole 返回指定角色的句柄。
func (c *Catalog) ByRole(role module.Role) []*module.Handle {
	var out []*module.Handle
	for _, h := range c.List() {
		if h.Role() == role {
			out = append(out, h)
		}
	}
	return out
}

// Len 返回已加载模块数量。
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.names)
}

// RecordFailure 记录加载失败。
func (c *Catalog) RecordFailure(m module.ManifestInfo, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, Failure{
		Module: m.Name,
		Path:   m.EntryPath,
		Code:   xerrors.RootCode(err),
		Error:  err.Error(),
		At:     time.Now().UTC(),
	})
}

// Failures 返回加载失败记录的副本。
func (c *Catalog) Failures() []Failure {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Failure(nil), c.failures...)
}

// LoadAll 按发现顺序逐个加载模块。失败的模块被记录并跳过，返回成功数量。
func (c *Catalog) LoadAll(ctx context.Context, loader *module.Loader, manifests []module.ManifestInfo) int {
	loaded := 0
	for _, m := range manifests {
		if ctx.Err() != nil {
			break
		}
		h, err := loader.Load(ctx, m)
		if err == nil {
			err = c.Add(h)
		}
		if err != nil {
			c.RecordFailure(m, err)
			continue
		}
		loaded++
	}
	return loaded
}

// Search 将查询分发给所有 scraper 模块，结果按登记顺序返回。单个模块出错不影响其他模块。
func (c *Catalog) Search(ctx context.Context, query string) []SearchResult {
	scrapers := c.ByRole(module.RoleScraper)
	results := make([]SearchResult, 0, len(scrapers))
	for _, h := range scrapers {
		res := SearchResult{Module: h.Name()}
		value, err := h.Invoke(ctx, SearchCapability, query)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Result = value
		}
		results = append(results, res)
	}
	return results
}
