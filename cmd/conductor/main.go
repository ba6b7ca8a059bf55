// Command conductor runs the multi-stage orchestration pipeline as an
// interactive chat, an HTTP service or an MCP server.
package main

func main() {
	Execute()
}
