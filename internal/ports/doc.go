// Package ports defines the interfaces (ports) that connect the application
// layer to infrastructure adapters.
//
// In Clean Architecture / Hexagonal Architecture, ports are the boundaries
// between the application core and the outside world. They define what the
// application needs from external systems without specifying how those needs
// are fulfilled.
//
// # Port Interfaces
//
//   - [Discoverer]: Finds cartridge roots under a working directory
//   - [Packager]: Builds one archive per cartridge
//   - [RemoteStore]: The four remote primitives plus the deploy sequence
//   - [Watcher]: Streams filesystem changes for one cartridge
//   - [PathNormalizer]: Maps a local path to its remote-relative form
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//
// # Usage
//
// The application layer (internal/app) depends only on these interfaces.
// Infrastructure adapters (internal/adapters, internal/discovery,
// internal/packager) implement them.
package ports
