/*
Package domain contains the core models of the lab-order assistant.

It defines the entities that flow through a conversation, from the first user
message to the confirmed laboratory order. This package is kept pure and free of
external dependencies like I/O or persistence, following Hexagonal Architecture
principles.

# Key Entities

  - Session: One conversation with a dental professional and its lifecycle status.
  - Message: A single entry of the transcript (user, assistant or tool).
  - OrderDraft: The in-progress set of order attributes collected so far.
  - Order: The immutable record created once the draft is complete and confirmed.
  - ToolCall / ToolResult: The structured exchange between the reasoning engine and the tools.
*/
package domain
