// Package mcp implements the client side of the MCP (Model Context
// Protocol) stdio transport used to talk to the tool-provider child
// process.
//
// The child speaks JSON-RPC 2.0, one JSON object per line, over its
// stdin/stdout. The client discovers tools via tools/list and invokes
// them via tools/call; discovered tools are bridged into the tool
// registry under an "mcp_" prefix so they appear as native tools to
// the model.
//
// The package is split along the transport's natural seams: Framer
// turns raw byte chunks into discrete messages, Client owns the
// pending-call table and request/response correlation, and Proc owns
// the child process lifecycle. Only the client may read the child's
// stdout.
package mcp
