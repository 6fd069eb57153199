/*
Package orderdesk is a conversation engine that turns free-form chat with a
dental professional into a complete, validated laboratory order.

A reasoning engine (a chat-completion model with tool calling) drives the
conversation, but every fact it records goes through deterministic tools: an
explicit workflow state machine decides which field may be written next, a
rule engine validates bridges and material compatibility, and a staged
normalizer maps free-text material names onto the lab's vocabulary.

# Architecture

  - workflow: the order-collection state machine, derived from the draft alone.
  - rules: FDI tooth parsing, bridge validation, material compatibility tables.
  - normalizer: alias, fuzzy and model stages with a process-wide cache.
  - tools: the dispatcher that validates, writes and redirects.
  - session: per-session locks, the live registry and the durable write mirror.
  - agent: the bounded reason-act loop for one user turn.

Adapters for OpenAI, catalog search, Redis, SQLite, HTTP and MCP live under
pkg/adapters.

# Usage

	engine, err := openai.New(openai.Config{APIKey: os.Getenv("OPENAI_API_KEY")})
	if err != nil {
		log.Fatal(err)
	}
	products, err := catalog.LoadStaticSearcher("")
	if err != nil {
		log.Fatal(err)
	}

	assistant, err := orderdesk.New(engine, products, orderdesk.WithStore(memory.NewStore()))
	if err != nil {
		log.Fatal(err)
	}
	defer assistant.Close()

	reply := assistant.RunTurn(ctx, "", "dr-lee", "I need a crown on 36")
	fmt.Println(reply.SessionID, reply.Text)

RunTurn never fails: collaborator errors, content-filter refusals and an
exhausted iteration budget all come back as a fixed reply with an Outcome.
*/
package orderdesk
