// Package version provides version information for the sui-oracle binary.
package version

// Version is the current version of sui-oracle.
const Version = "0.3.0"

// AgentString returns the user agent sent to exchanges and RPC nodes.
// Format: sui-oracle/v{version}
func AgentString() string {
	return "sui-oracle/v" + Version
}
