package pkgproxy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// BuildFunc populates a freshly created module. It may import other modules
// through imp; those imports resolve through the same chain.
type BuildFunc func(m *Module, imp Importer) error

// ModuleSource describes a module that can be loaded by name.
type ModuleSource struct {
	// Name is the module name relative to its package (e.g. "util").
	// Top-level sources use the full dotted name.
	Name string

	// Doc becomes the module's __doc__.
	Doc string

	// Build populates the module namespace when it is imported.
	Build BuildFunc
}

// Package describes a package (a module that can have submodules) and its
// contents. Packages can contain modules and nested subpackages.
type Package struct {
	// Name is the package name as it appears in imports.
	Name string

	// Doc becomes the package's __doc__.
	Doc string

	// Init populates the package namespace, like a package initializer.
	Init BuildFunc

	// Modules contains the modules in this package.
	Modules []ModuleSource

	// Packages contains nested subpackages.
	Packages []Package
}

type catalogEntry struct {
	name      string
	doc       string
	build     BuildFunc
	isPackage bool
}

// Catalog is the resolver that finds real module source. It sits at the end
// of a resolution chain and serves every name it has an entry for.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*catalogEntry
}

// NewCatalog returns a catalog holding pkgs.
func NewCatalog(pkgs ...Package) *Catalog {
	c := &Catalog{entries: make(map[string]*catalogEntry)}
	for _, p := range pkgs {
		c.AddPackage(p)
	}
	return c
}

// AddModule registers a top-level module under its full dotted name.
func (c *Catalog) AddModule(src ModuleSource) {
	c.add(&catalogEntry{name: src.Name, doc: src.Doc, build: src.Build})
}

// AddPackage registers p, its modules and its subpackages under dotted names.
func (c *Catalog) AddPackage(p Package) {
	c.addPackage("", p)
}

func (c *Catalog) addPackage(prefix string, p Package) {
	name := p.Name
	if prefix != "" {
		name = prefix + "." + p.Name
	}
	c.add(&catalogEntry{name: name, doc: p.Doc, build: p.Init, isPackage: true})
	for _, m := range p.Modules {
		c.add(&catalogEntry{name: name + "." + m.Name, doc: m.Doc, build: m.Build})
	}
	for _, sub := range p.Packages {
		c.addPackage(name, sub)
	}
}

func (c *Catalog) add(e *catalogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.name] = e
}

// Has reports whether name has source in the catalog.
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[name]
	return ok
}

// Names returns the sorted names the catalog can load.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for k := range c.entries {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Resolve implements Resolver.
func (c *Catalog) Resolve(name string) Loader {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	return sourceLoader{entry: e}
}

// sourceLoader runs a catalog entry's build function.
type sourceLoader struct {
	entry *catalogEntry
}

func (l sourceLoader) Create(name string) (any, error) {
	m := NewModule(name)
	if l.entry.doc != "" {
		m.Set("__doc__", l.entry.doc)
	}
	if l.entry.isPackage {
		m.Set("__package__", name)
		m.Set("__path__", []string{name})
	} else if i := strings.LastIndexByte(name, '.'); i > 0 {
		m.Set("__package__", name[:i])
	}
	return m, nil
}

func (l sourceLoader) Exec(mod any, imp Importer) error {
	m, ok := mod.(*Module)
	if !ok {
		return fmt.Errorf("source loader cannot execute %T", mod)
	}
	if l.entry.build == nil {
		return nil
	}
	return l.entry.build(m, imp)
}
