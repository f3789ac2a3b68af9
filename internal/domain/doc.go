// Package domain contains the core domain entities and value objects for upy.
//
// This package represents the innermost layer of the Clean Architecture. It has
// no dependencies on infrastructure concerns (HTTP, file system, logging) and
// contains only the types the synchronization engine reasons about.
//
// # Entities
//
//   - [Cartridge]: A deployable unit identified by a .project marker
//   - [Archive]: The zip built from a cartridge for the initial deploy
//   - [WatchEvent]: A filesystem change observed inside a cartridge
//   - [RemoteOp]: A single remote operation derived from one or more events
//
// # Errors
//
// Every failure kind the engine distinguishes is a typed error in this
// package (see errors.go). They all unwrap to their cause so callers can
// use errors.Is and errors.As through any amount of wrapping.
package domain
