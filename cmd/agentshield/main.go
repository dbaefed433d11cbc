// Command agentshield gates actions proposed by AI agents.
package main

import "github.com/agentshield/agentshield/cmd/agentshield/cmd"

func main() {
	cmd.Execute()
}
