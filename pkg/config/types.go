package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
)

const (
	// DefaultBridgeName is the host bridge the namespace-facing veth ends
	// attach to when the configuration does not name one.
	DefaultBridgeName = "nsbr0"

	hostLinkPrefix      = "ves-"
	namespaceLinkPrefix = "vns-"

	// Linux interface names are limited to IFNAMSIZ-1 characters.
	maxInterfaceNameLength = 15
)

// Environment variables honored as a compatibility input layer. They are
// folded into the explicit configuration value at startup; no component
// reads the ambient process environment afterwards.
const (
	EnvName    = "NS_NAME"
	EnvAddress = "NS_IP"
	EnvGateway = "NS_GW"
	EnvDNS     = "NS_DNS"
)

// NamespaceConfig describes one isolated network environment. It is
// immutable after Validate has accepted it.
type NamespaceConfig struct {
	// Name identifies the namespace; link and device names derive from it.
	Name string `json:"name"`

	// Address is the local IP with prefix length (CIDR) assigned inside
	// the namespace. Always required.
	Address string `json:"address"`

	// Gateway is the optional default-route next hop inside the namespace.
	Gateway string `json:"gateway,omitempty"`

	// DNS is the optional resolver address written to a private
	// resolv.conf bind-mounted inside the namespace.
	DNS string `json:"dns,omitempty"`

	// Command is the optional program kept alive inside the namespace.
	Command string `json:"command,omitempty"`

	// DonatedDevice names a host interface relocated wholesale into the
	// namespace instead of (or in addition to) the veth pair.
	DonatedDevice string `json:"donatedDevice,omitempty"`

	// Bridge is the host bridge the veth host end attaches to.
	Bridge string `json:"bridge,omitempty"`

	// ProbeTarget is the address the reachability watchdog pings.
	// Defaults to Gateway when unset.
	ProbeTarget string `json:"probeTarget,omitempty"`
}

// Load reads a namespace configuration from a JSON file, applies defaults
// and validates the result.
func Load(configPath string) (*NamespaceConfig, error) {
	contents, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file's contents: %w", err)
	}

	conf := &NamespaceConfig{}
	if err := json.Unmarshal(contents, conf); err != nil {
		return nil, fmt.Errorf("failed to unmarshall the namespace configuration: %w", err)
	}

	conf.ApplyDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// FromEnvironment builds a configuration value from the NS_* compatibility
// variables. Unset variables yield empty fields; defaulting and validation
// are left to the caller, which usually overlays flag values first.
func FromEnvironment() *NamespaceConfig {
	return &NamespaceConfig{
		Name:    os.Getenv(EnvName),
		Address: os.Getenv(EnvAddress),
		Gateway: os.Getenv(EnvGateway),
		DNS:     os.Getenv(EnvDNS),
	}
}

// ApplyDefaults fills the optional fields that have well-known defaults.
func (c *NamespaceConfig) ApplyDefaults() {
	if c.Bridge == "" {
		c.Bridge = DefaultBridgeName
	}
	if c.ProbeTarget == "" {
		c.ProbeTarget = c.Gateway
	}
}

// Validate checks the invariants spelled out for NamespaceConfig: the name
// must be usable for interface-name derivation, the address is mandatory,
// and every optional address-typed field must parse when present.
func (c *NamespaceConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("namespace name must not be empty")
	}
	if len(namespaceLinkPrefix)+len(c.Name) > maxInterfaceNameLength {
		return fmt.Errorf(
			"namespace name %q too long: derived interface name would exceed %d characters",
			c.Name, maxInterfaceNameLength)
	}
	if c.Address == "" {
		return fmt.Errorf("namespace address must not be empty")
	}
	if _, _, err := net.ParseCIDR(c.Address); err != nil {
		return fmt.Errorf("invalid namespace address %q: %v", c.Address, err)
	}
	if c.Gateway != "" && net.ParseIP(c.Gateway) == nil {
		return fmt.Errorf("invalid gateway address %q", c.Gateway)
	}
	if c.DNS != "" && net.ParseIP(c.DNS) == nil {
		return fmt.Errorf("invalid DNS resolver address %q", c.DNS)
	}
	if c.ProbeTarget != "" && net.ParseIP(c.ProbeTarget) == nil {
		return fmt.Errorf("invalid probe target address %q", c.ProbeTarget)
	}
	if c.Command != "" && c.ProbeTarget == "" {
		return fmt.Errorf("a probe target (or gateway) is required when supervising a command")
	}
	return nil
}

// HostLinkName returns the name of the veth end left on the host.
func (c *NamespaceConfig) HostLinkName() string {
	return hostLinkPrefix + c.Name
}

// NamespaceLinkName returns the name of the veth end moved into the
// namespace.
func (c *NamespaceConfig) NamespaceLinkName() string {
	return namespaceLinkPrefix + c.Name
}
