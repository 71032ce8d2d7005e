package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mkeller/taskpilot/internal/buildinfo"
	"github.com/mkeller/taskpilot/internal/config"
)

// protocolVersion is the MCP protocol version we advertise during initialization.
const protocolVersion = "2024-11-05"

// defaultCallTimeout bounds every request/response round trip.
const defaultCallTimeout = 30 * time.Second

// ToolDefinition is an MCP tool as returned by tools/list.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ContentBlock is a single content item in a tools/call response.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolOutput is the outcome of a tools/call round trip. IsError means
// the remote tool itself reported failure; transport-level failures are
// returned as errors instead.
type ToolOutput struct {
	Text    string
	IsError bool
}

// callToolResult is the result payload of a tools/call response.
type callToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// toolsListResult is the result payload of a tools/list response.
type toolsListResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// serverInfo is returned in the initialize response.
type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// serverCapabilities describes what an MCP server supports.
type serverCapabilities struct {
	Tools *struct{} `json:"tools,omitempty"`
}

// initializeResult is the full initialize response result.
type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      serverInfo         `json:"serverInfo"`
	Capabilities    serverCapabilities `json:"capabilities"`
}

// Client speaks JSON-RPC to the tool-provider child over a byte stream
// and provides typed access to the protocol operations (initialize,
// tools/list, tools/call).
//
// The client owns the pending-call table: entries are created on send
// and removed exactly once, by the matching response or by the per-call
// timeout. A single reader goroutine feeds the framer from the in
// stream and delivers responses by id, so requests may be in flight
// concurrently and responses may arrive in any order.
type Client struct {
	logger      *slog.Logger
	in          io.Reader
	out         io.Writer
	framer      *Framer
	callTimeout time.Duration

	nextID atomic.Int64

	// wmu serializes writes so each outbound line hits the stream whole.
	wmu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan *Response
	closed  bool
	readErr error

	initialized atomic.Bool
	serverName  string
	serverVer   string
	tools       []ToolDefinition
	toolsLoaded bool
}

// NewClient creates a client reading responses from in (the child's
// stdout) and writing requests to out (the child's stdin), and starts
// its reader goroutine. Nothing else may read from in once the client
// owns it.
func NewClient(in io.Reader, out io.Writer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		logger:      logger,
		in:          in,
		out:         out,
		framer:      NewFramer(logger),
		callTimeout: defaultCallTimeout,
		pending:     make(map[int64]chan *Response),
	}
	go c.readLoop()
	return c
}

// readLoop is the only reader of the in stream. It feeds raw chunks to
// the framer and routes each completed response to its pending call.
// On stream error (child exited, pipe closed) it fails all in-flight
// calls rather than leaving them to wait out their timeouts.
func (c *Client) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := c.in.Read(buf)
		if n > 0 {
			for _, msg := range c.framer.Feed(buf[:n]) {
				c.dispatch(msg)
			}
		}
		if err != nil {
			c.fail(fmt.Errorf("tool provider stream: %w", err))
			return
		}
	}
}

// dispatch delivers a response to its pending call. Non-response
// messages (server notifications, unsolicited requests) are logged and
// dropped; unmatched responses likewise.
func (c *Client) dispatch(msg *Incoming) {
	if !msg.IsResponse() {
		c.logger.Debug("ignoring server-originated message", "method", msg.Method)
		return
	}

	resp := msg.Response()

	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("dropping unmatched response", "id", resp.ID)
		return
	}
	ch <- resp
}

// fail marks the client closed and wakes every in-flight call with a
// transport error.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.readErr = err
	orphaned := c.pending
	c.pending = make(map[int64]chan *Response)
	c.mu.Unlock()

	for _, ch := range orphaned {
		close(ch)
	}
	if len(orphaned) > 0 {
		c.logger.Warn("failing in-flight rpc calls", "count", len(orphaned), "error", err)
	}
}

// Close shuts the client down and fails any in-flight calls. It does
// not terminate the child process; that is the supervisor's job.
func (c *Client) Close() error {
	c.fail(fmt.Errorf("rpc client closed"))
	return nil
}

// forget removes a pending entry, if still present.
func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Notify sends a JSON-RPC notification. Fire-and-forget: no pending
// entry is created and no response is awaited.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	line, err := encodeLine(NewNotification(method, params))
	if err != nil {
		return err
	}

	c.logger.Log(ctx, config.LevelTrace, "rpc notify", "payload", string(line))

	c.wmu.Lock()
	_, werr := c.out.Write(line)
	c.wmu.Unlock()
	if werr != nil {
		return fmt.Errorf("write notification: %w", werr)
	}
	return nil
}

// Call sends a request and waits for the response with the matching id.
// It returns *RPCError when the child reported a protocol-level error
// and *TimeoutError when no response arrived within the call timeout;
// in the timeout case the pending entry is gone before Call returns.
func (c *Client) Call(ctx context.Context, method string, params any) (*Response, error) {
	id := c.nextID.Add(1)
	ch := make(chan *Response, 1)

	c.mu.Lock()
	if c.closed {
		err := c.readErr
		c.mu.Unlock()
		return nil, fmt.Errorf("rpc client closed: %w", err)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	line, err := encodeLine(NewRequest(id, method, params))
	if err != nil {
		c.forget(id)
		return nil, err
	}

	c.logger.Log(ctx, config.LevelTrace, "rpc request", "payload", string(line))

	c.wmu.Lock()
	_, werr := c.out.Write(line)
	c.wmu.Unlock()
	if werr != nil {
		c.forget(id)
		return nil, fmt.Errorf("write request: %w", werr)
	}

	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		return c.finish(method, resp, ok)
	case <-timer.C:
		c.forget(id)
		// The response may have been delivered between the timer firing
		// and the entry being removed; prefer it over the timeout.
		select {
		case resp, ok := <-ch:
			return c.finish(method, resp, ok)
		default:
		}
		c.logger.Warn("rpc call timed out", "method", method, "id", id, "timeout", c.callTimeout)
		return nil, &TimeoutError{Method: method, Timeout: c.callTimeout.String()}
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

// finish converts a delivered response (or closed channel) into Call's result.
func (c *Client) finish(method string, resp *Response, ok bool) (*Response, error) {
	if !ok {
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		return nil, fmt.Errorf("awaiting %s response: %w", method, err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp, nil
}

// Initialize performs the MCP handshake: an initialize request followed
// by the notifications/initialized notification. It must complete
// before ListTools or CallTool; failure is fatal to the agent run.
func (c *Client) Initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "taskpilot",
			"version": buildinfo.Version,
		},
	}

	resp, err := c.Call(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("unmarshal initialize result: %w", err)
	}

	c.mu.Lock()
	c.serverName = result.ServerInfo.Name
	c.serverVer = result.ServerInfo.Version
	c.mu.Unlock()
	c.initialized.Store(true)

	c.logger.Info("tool provider initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)

	if err := c.Notify(ctx, "notifications/initialized", nil); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}

	return nil
}

// ListTools calls tools/list and returns the available tool
// definitions. Results are cached; the merged tool namespace is fixed
// for the duration of a run, so there is no rediscovery.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	if !c.initialized.Load() {
		return nil, fmt.Errorf("tools/list before initialize handshake")
	}

	c.mu.Lock()
	if c.toolsLoaded {
		defer c.mu.Unlock()
		return c.tools, nil
	}
	c.mu.Unlock()

	resp, err := c.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	var result toolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal tools/list result: %w", err)
	}

	c.mu.Lock()
	c.tools = result.Tools
	c.toolsLoaded = true
	c.mu.Unlock()

	c.logger.Info("discovered remote tools", "count", len(result.Tools))
	return result.Tools, nil
}

// CallTool invokes a remote tool by its unprefixed name. A remote tool
// reporting failure comes back as ToolOutput.IsError, not as an error:
// the conversation loop must be able to show the model what went wrong.
// Transport-level failures (*RPCError, *TimeoutError) are errors.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*ToolOutput, error) {
	if !c.initialized.Load() {
		return nil, fmt.Errorf("tools/call before initialize handshake")
	}

	params := map[string]any{
		"name":      name,
		"arguments": args,
	}

	resp, err := c.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}

	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal tools/call result: %w", err)
	}

	return &ToolOutput{
		Text:    extractText(result.Content),
		IsError: result.IsError,
	}, nil
}

// Ping checks whether the tool provider is responsive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, "ping", nil)
	return err
}

// ServerInfo returns the name and version reported during the handshake.
func (c *Client) ServerInfo() (name, version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverName, c.serverVer
}

// extractText joins all text content blocks into a single string.
// Non-text blocks are represented as inline markers.
func extractText(blocks []ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, b.Text)
		case "image":
			parts = append(parts, "[image]")
		case "resource":
			parts = append(parts, "[resource]")
		default:
			parts = append(parts, fmt.Sprintf("[%s]", b.Type))
		}
	}
	return strings.Join(parts, "\n")
}
