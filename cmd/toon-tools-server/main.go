// Command toon-tools-server is a small stdio tool server useful for trying
// the orchestrator end to end: point a stdio descriptor at this binary and
// call its tools.
package main

import (
	"context"
	"log"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type echoInput struct {
	Text string `json:"text" jsonschema:"the text to echo back"`
}

type echoOutput struct {
	Text string `json:"text" jsonschema:"the echoed text"`
}

type addInput struct {
	A float64 `json:"a" jsonschema:"first operand"`
	B float64 `json:"b" jsonschema:"second operand"`
}

type addOutput struct {
	Sum float64 `json:"sum" jsonschema:"the sum of a and b"`
}

type nowOutput struct {
	UTC  string `json:"utc" jsonschema:"current time in RFC 3339 UTC"`
	Unix int64  `json:"unix" jsonschema:"current time as a unix timestamp"`
}

func echo(_ context.Context, _ *mcp.CallToolRequest, in echoInput) (*mcp.CallToolResult, echoOutput, error) {
	return nil, echoOutput{Text: in.Text}, nil
}

func add(_ context.Context, _ *mcp.CallToolRequest, in addInput) (*mcp.CallToolResult, addOutput, error) {
	return nil, addOutput{Sum: in.A + in.B}, nil
}

func now(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, nowOutput, error) {
	t := time.Now().UTC()

	return nil, nowOutput{UTC: t.Format(time.RFC3339), Unix: t.Unix()}, nil
}

func main() {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "toon-tools",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Description: "Echo the given text back unchanged",
	}, echo)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add",
		Description: "Add two numbers",
	}, add)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "now",
		Description: "Report the current time",
	}, now)

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("toon-tools-server: %v", err)
	}
}
