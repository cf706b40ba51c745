// Package pkgproxy lets a consumer import and use a package that does not
// exist locally. Imports under a configured target root are intercepted and
// served with proxy objects; every attribute access, call and construction on
// a proxy is forwarded to a provider that holds the real objects.
//
// # Architecture Overview
//
// The client and the provider share one ImportSystem: a Registry of loaded
// modules plus an ordered chain of resolvers. Three pieces sit on top of it:
//
//  1. Interceptor: the front resolver. It accepts the target root and its
//     submodules, asks the provider for a module handle and returns an inert
//     ModuleProxy. Everything else falls through to the rest of the chain.
//
//  2. Provider: the five-operation protocol (GetModule, GetAttr, SetAttr,
//     CreateObject, Call) answered against a HandleTable. LocalProvider
//     performs real imports through an IsolationScope. The scope imports
//     through a private view without the interceptor and commits what it
//     loaded to the registry under RemotePrefix once the import returns.
//
//  3. Synthesis: each value fetched with GetAttr is classified. Classes become
//     a ClassProxy, callables a CallableProxy, submodules their ModuleProxy;
//     plain data passes through. Synthesized proxies are cached on their owner
//     and never rebuilt, while plain data is fetched on every access.
//
// # Usage
//
// Real source is described with a Catalog of packages and modules whose
// contents are built by Go functions:
//
//	catalog := pkgproxy.NewCatalog(pkgproxy.Package{
//		Name: "pkg",
//		Modules: []pkgproxy.ModuleSource{{
//			Name: "util",
//			Build: func(m *pkgproxy.Module, _ pkgproxy.Importer) error {
//				m.Define(pkgproxy.NewFunc("add", add))
//				return nil
//			},
//		}},
//	})
//
//	sys := pkgproxy.NewImportSystem(nil, pkgproxy.WithResolvers(catalog))
//	session, err := pkgproxy.Bootstrap(sys, pkgproxy.Config{Target: "pkg", Provider: "local"})
//	if err != nil {
//		return err
//	}
//	defer session.Close()
//
//	got, err := pkgproxy.ImportFrom(sys, "pkg.util", "add")
//	sum, err := got[0].(*pkgproxy.CallableProxy).Call(2, 3)
//
// # Classes
//
// A ClassProxy mirrors the remote class's declared bases through its
// ClassDescriptor, so IsSubclassOf and ObjectProxy.IsInstance work without
// the real types. New issues exactly one CreateObject. Subclass derives a
// local class whose methods run on the client; if the remote class is
// abstract, a local subclass that leaves an abstract method unimplemented
// cannot be instantiated and fails with *AbstractError, the same error the
// object model returns for real classes.
//
// # Errors
//
// Missing attributes and modules match ErrNotFound, so HasAttr and
// ImportFrom can tell "absent" from other failures. Errors raised by real
// objects reach the caller of Call and CreateObject unchanged (CreateObject
// wraps them in *ConstructionError, which unwraps to the original).
//
// # Handle Lifetime
//
// Module and class handles are pinned for the provider's lifetime. Instance
// handles can be released through the optional Releaser interface
// (ObjectProxy.Release) or evicted by a TTL sweep configured with
// Config.HandleTTL.
//
// # Call Results
//
// Only GetAttr results are synthesized into proxies. Call returns the raw
// result from the provider, even when that result is a class or a callable.
package pkgproxy
