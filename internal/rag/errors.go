package rag

import "errors"

var (
	// ErrConfig marks invalid chunking/embedding parameters. Fatal at startup.
	ErrConfig = errors.New("invalid rag configuration")

	// ErrInvalidArgument marks caller misuse (e.g. k <= 0). Never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEmbeddingService marks a failed embedding call after all retry
	// attempts were exhausted.
	ErrEmbeddingService = errors.New("embedding service failure")

	// ErrOwnershipViolation marks a chunk surfacing for the wrong owner.
	// It should be unreachable; when it trips, the search fails loudly
	// instead of silently filtering, because it signals a security bug.
	ErrOwnershipViolation = errors.New("ownership violation in search results")

	// ErrStorage marks a persistence-layer failure. Propagated, never
	// masked as an empty result set.
	ErrStorage = errors.New("vector storage failure")
)
