// agentx-subagentctl is a CLI client for the agentx-subagentd admin API.
package main

import "github.com/agentx-go/subagent/cmd/agentx-subagentctl/commands"

func main() {
	commands.Execute()
}
