package doctor

// DefaultChecks returns the full check suite in display order.
func DefaultChecks() []Check {
	return []Check{
		NewStateDirCheck(),
		NewPortCheck(),
		NewConfigCheck(),
		NewMCPConfigCheck(),
		NewStoreCheck(),
		NewProjectsFileCheck(),
		NewBDBinaryCheck(),
		NewTmuxBinaryCheck(),
		NewSessionsFileCheck(),
	}
}
