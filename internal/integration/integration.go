// Package integration connects external capability providers to the
// pipeline over the Model Context Protocol.
//
// A connected server contributes in two places: tools that declare trigger
// patterns become direct actions in the L2 registry, and every tool within
// the latency budget is offered to the generation layer as a model tool.
// Per-tool rolling latency windows track real performance; unhealthy tools
// are withheld from the model until they recover.
package integration

import "time"

// Transport selects the connection mechanism for an integration server.
type Transport string

const (
	// TransportStdio spawns a subprocess and speaks MCP over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP speaks the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes one integration server connection.
type ServerConfig struct {
	// Name uniquely identifies the server within the host.
	Name string

	// Transport selects the connection mechanism.
	Transport Transport

	// Command is the executable (plus arguments) for stdio transport.
	Command string

	// URL is the endpoint for streamable-http transport.
	URL string

	// Env holds extra environment variables for stdio subprocesses.
	Env map[string]string
}

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	// Content is the textual output, ready for a response template or a
	// model context window.
	Content string

	// IsError marks an application-level failure reported by the tool.
	IsError bool

	// Duration is the measured round trip.
	Duration time.Duration
}

// actionAnnotation is the schema block a tool uses to volunteer as an L2
// direct action. It lives under the "x_action" key of the tool's input
// schema, outside the JSON Schema vocabulary.
type actionAnnotation struct {
	Patterns   []string `json:"patterns"`
	Template   string   `json:"template"`
	Domain     string   `json:"domain"`
	Confidence float64  `json:"confidence"`
}
