package mcpserver

// registerTools wires every tool onto the MCP server. Handlers resolve
// the calling session first; the agent id they act as always comes from
// the session registry, never from tool arguments.
func (s *Server) registerTools() {
	s.registerMessagingTools()
	s.registerStatusTools()
	s.registerBeadTools()
	s.registerProposalTools()
	s.registerQueryTools()
}
