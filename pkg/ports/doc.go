/*
Package ports defines the driven ports (interfaces) of the lab-order assistant.

These interfaces decouple the conversation core from external implementations,
allowing it to work with various reasoning engines, catalog services and storage
backends.

# Key Interfaces

  - ReasoningEngine: Chat completion with function calling (e.g., OpenAI or Azure OpenAI).
  - CatalogSearcher: Similarity search over the product catalog.
  - TranscriptStore: Durable, idempotent storage of sessions, transcripts, drafts and orders.
  - DistributedLocker: Provides distributed locking for handling concurrent session access.
*/
package ports
