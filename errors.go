package pkgproxy

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below match these via errors.Is so callers can
// test for a category without caring about the concrete type.
var (
	// ErrNotFound reports an attribute or module that does not exist on the
	// provider. Existence checks (HasAttr, ImportFrom) rely on it.
	ErrNotFound = errors.New("not found")

	// ErrReentrant reports a recursive entry into the import isolation section.
	ErrReentrant = errors.New("isolation section entered recursively")

	// ErrAbstract reports an attempt to instantiate an incomplete abstract class.
	ErrAbstract = errors.New("cannot instantiate abstract class")

	// ErrConfiguration reports a missing or unresolvable provider locator.
	ErrConfiguration = errors.New("configuration error")

	// ErrPinned reports a release of a module or class handle. Those live as
	// long as the provider.
	ErrPinned = errors.New("handle is pinned")
)

// AttributeError is returned when an attribute lookup misses.
type AttributeError struct {
	// Owner describes the object the lookup ran against (e.g. "module 'pkg.util'").
	Owner string

	// Name is the attribute that was requested.
	Name string
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("%s has no attribute %q", e.Owner, e.Name)
}

func (e *AttributeError) Is(target error) bool { return target == ErrNotFound }

// ModuleNotFoundError is returned when no resolver in the chain can load a module.
type ModuleNotFoundError struct {
	Name string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("no module named %q", e.Name)
}

func (e *ModuleNotFoundError) Is(target error) bool { return target == ErrNotFound }

// ImportNameError is returned by ImportFrom when a name is neither an
// attribute of the module nor an importable submodule.
type ImportNameError struct {
	Module string
	Name   string
	Err    error
}

func (e *ImportNameError) Error() string {
	return fmt.Sprintf("cannot import name %q from %q", e.Name, e.Module)
}

func (e *ImportNameError) Unwrap() error { return e.Err }

func (e *ImportNameError) Is(target error) bool { return target == ErrNotFound }

// ConstructionError wraps the rejection raised by a real class while an
// instance was being created for CreateObject.
type ConstructionError struct {
	Class string
	Err   error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("constructing %s: %v", e.Class, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// AbstractError is returned when a class with unimplemented abstract methods
// is instantiated. Proxies and local subclasses return the same type.
type AbstractError struct {
	Class   string
	Methods []string
}

func (e *AbstractError) Error() string {
	return fmt.Sprintf("can't instantiate abstract class %s with abstract methods %v", e.Class, e.Methods)
}

func (e *AbstractError) Is(target error) bool { return target == ErrAbstract }

// ConfigurationError reports a bad or missing provider locator. It surfaces at
// the first interceptor use and is fatal for that interceptor.
type ConfigurationError struct {
	Locator string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Locator == "" {
		return fmt.Sprintf("pkgproxy configuration: %s", e.Reason)
	}
	return fmt.Sprintf("pkgproxy configuration: provider %q: %s", e.Locator, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ReentrancyError is returned when the goroutine holding the isolation section
// asks for another real import through the provider.
type ReentrancyError struct {
	Module string
	Active string
}

func (e *ReentrancyError) Error() string {
	return fmt.Sprintf("real import of %q requested while %q is being imported in the same isolation section", e.Module, e.Active)
}

func (e *ReentrancyError) Is(target error) bool { return target == ErrReentrant }

// NotCallableError is returned by Call when the named attribute is not callable.
type NotCallableError struct {
	Owner string
	Name  string
}

func (e *NotCallableError) Error() string {
	return fmt.Sprintf("%s attribute %q is not callable", e.Owner, e.Name)
}

// UnknownHandleError is returned when a handle is not (or no longer) present
// in the handle table.
type UnknownHandleError struct {
	Handle Handle
}

func (e *UnknownHandleError) Error() string {
	return fmt.Sprintf("unknown handle %d", e.Handle)
}

// NotUnderRootError is returned by GetModule for names outside the target root.
type NotUnderRootError struct {
	Name string
	Root string
}

func (e *NotUnderRootError) Error() string {
	return fmt.Sprintf("module %q is not under target root %q", e.Name, e.Root)
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
