// Package tools is the tool dispatcher: it maps a tool name requested by the
// reasoning engine to a handler over the rule engine, the normalizer and the
// catalog, and returns a domain.ToolResult envelope.
//
// Handlers never write the draft directly. They consult workflow.Machine
// first; a write the machine refuses comes back as a redirect result
// ({valid:false, data:{redirect:true, expected_step}}) instead of an error.
package tools
