// Package internal holds cryptographic helpers shared by the engine:
// uniformly distributed numeric one-time codes and raw secret generation.
// Nothing here is part of the public API.
package internal
