package doctor

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"
)

// PortCheck verifies the configured listen address is either free or
// already held by a running Adjutant (which answers /health).
type PortCheck struct {
	BaseCheck
}

// NewPortCheck creates the listen address check.
func NewPortCheck() *PortCheck {
	return &PortCheck{
		BaseCheck{
			CheckName:        "listen-addr",
			CheckDescription: "Configured port is free or held by Adjutant",
			CheckCategory:    CategoryCore,
		},
	}
}

// Run tries to bind the address; on failure it probes /health to tell a
// live Adjutant apart from a foreign process.
func (c *PortCheck) Run(ctx *CheckContext) *CheckResult {
	result := &CheckResult{Name: c.Name(), Category: c.Category()}
	addr := ctx.Config.ListenAddr

	ln, err := net.Listen("tcp", addr)
	if err == nil {
		ln.Close()
		result.Status = StatusOK
		result.Message = addr + " is free"
		return result
	}

	host := addr
	if strings.HasPrefix(host, ":") {
		host = "127.0.0.1" + host
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, probeErr := client.Get("http://" + host + "/health")
	if probeErr == nil {
		defer resp.Body.Close()
		var body struct {
			Success bool `json:"success"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Success {
			result.Status = StatusWarning
			result.Message = "an Adjutant server is already listening on " + addr
			return result
		}
	}

	result.Status = StatusError
	result.Message = addr + " is held by another process"
	result.FixHint = "Stop the other process or change listen_addr in the config"
	return result
}
