// Package internal contains the implementation packages behind the devbridge
// bridge and CLI.
//
// # Package Organization
//
//   - buildtool: Build tool contract, config resolution and the resolved config cache
//   - classify: Asset path classification
//   - config: Run options, file config, mode and verbosity
//   - document: Closest-document lookup, HTML transforms and the template cache
//   - errors: Typed build and config errors with HTTP status mapping
//   - hmr: WebSocket relay to the dev server
//   - logging: Structured logger and the switchable destination
//   - middleware: Host application middleware for the CLI server
//   - resolve: Request path normalisation and containment checks
//   - static: Output directory and dev-server asset handlers
//   - testutils: Project fixtures and a fake build tool
//   - version: Build metadata
//   - vite: Vite adapter driven through node
//   - watcher: Output directory watcher with debouncing
//
// # Dependencies
//
// The bridge owns one of each per bind: a dev server or a template cache, a
// watcher in production, and the layers spliced into the host application.
// Packages below pkg/ never import pkg/bridge.
package internal
