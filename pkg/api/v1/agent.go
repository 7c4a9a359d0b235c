package v1

import "time"

// AgentStatus represents the lifecycle state of a registered agent.
type AgentStatus string

const (
	AgentStatusRegistering AgentStatus = "REGISTERING"
	AgentStatusOnline      AgentStatus = "ONLINE"
	AgentStatusOffline     AgentStatus = "OFFLINE"
	AgentStatusMaintenance AgentStatus = "MAINTENANCE"
	AgentStatusDeprecated  AgentStatus = "DEPRECATED"
)

// Protocol selects the transport used to reach an external agent.
type Protocol string

const (
	ProtocolHTTP Protocol = "HTTP"
	ProtocolMCP  Protocol = "MCP"
)

// AgentEndpoints declares how an agent is reached. Exactly one of HTTP/MCP is
// populated for external agents; internal agents carry no endpoints and are
// invoked in-process.
type AgentEndpoints struct {
	HTTP           string   `json:"http,omitempty"`
	MCP            string   `json:"mcp,omitempty"`
	Protocol       Protocol `json:"protocol,omitempty"`
	IsInternal     bool     `json:"is_internal"`
	HealthEndpoint string   `json:"health_endpoint,omitempty"`
}

// AgentPermissions holds the authentication material and resource allow-lists
// for an external agent. Empty allow-lists deny everything; an empty IP
// whitelist allows all callers.
type AgentPermissions struct {
	APIKey                  string   `json:"api_key,omitempty"`
	SecretID                string   `json:"secret_id,omitempty"`
	ServerCertificate       string   `json:"server_certificate,omitempty"`
	ServerFingerprint       string   `json:"server_fingerprint,omitempty"`
	IPWhitelist             []string `json:"ip_whitelist,omitempty"`
	AllowedRoles            []string `json:"allowed_roles,omitempty"`
	AllowedMemoryNamespaces []string `json:"allowed_memory_namespaces,omitempty"`
	AllowedTools            []string `json:"allowed_tools,omitempty"`
	AllowedLLMProviders     []string `json:"allowed_llm_providers,omitempty"`
	AllowedDatabases        []string `json:"allowed_databases,omitempty"`
	AllowedFilePaths        []string `json:"allowed_file_paths,omitempty"`
}

// AgentMetadata carries display and classification fields.
type AgentMetadata struct {
	Version  string   `json:"version,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Author   string   `json:"author,omitempty"`
	Category string   `json:"category,omitempty"`
}

// AgentDescriptor is the registry entry for one agent: identity, contract,
// endpoints, permissions, and lifecycle state.
type AgentDescriptor struct {
	AgentID         string           `json:"agent_id"`
	AgentType       string           `json:"agent_type"`
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	Endpoints       AgentEndpoints   `json:"endpoints"`
	Capabilities    []string         `json:"capabilities,omitempty"`
	Metadata        AgentMetadata    `json:"metadata"`
	Permissions     AgentPermissions `json:"permissions"`
	Status          AgentStatus      `json:"status"`
	IsSystemAgent   bool             `json:"is_system_agent"`
	ServiceIdentity string           `json:"service_identity,omitempty"`
	Load            int              `json:"load"`
	RegisteredAt    time.Time        `json:"registered_at"`
	LastHeartbeat   time.Time        `json:"last_heartbeat"`
}

// HasCapability reports whether the descriptor declares the given capability
// tag.
func (d *AgentDescriptor) HasCapability(capability string) bool {
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// HasTag reports whether the descriptor's metadata carries the given tag.
func (d *AgentDescriptor) HasTag(tag string) bool {
	for _, t := range d.Metadata.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// IsPublic reports whether the agent is visible without authentication: no
// api key and no secret id declared.
func (d *AgentDescriptor) IsPublic() bool {
	return d.Permissions.APIKey == "" && d.Permissions.SecretID == ""
}

// Clone returns a deep copy so registry snapshots cannot be mutated by
// callers.
func (d *AgentDescriptor) Clone() *AgentDescriptor {
	cp := *d
	cp.Capabilities = append([]string(nil), d.Capabilities...)
	cp.Metadata.Tags = append([]string(nil), d.Metadata.Tags...)
	cp.Permissions.IPWhitelist = append([]string(nil), d.Permissions.IPWhitelist...)
	cp.Permissions.AllowedRoles = append([]string(nil), d.Permissions.AllowedRoles...)
	cp.Permissions.AllowedMemoryNamespaces = append([]string(nil), d.Permissions.AllowedMemoryNamespaces...)
	cp.Permissions.AllowedTools = append([]string(nil), d.Permissions.AllowedTools...)
	cp.Permissions.AllowedLLMProviders = append([]string(nil), d.Permissions.AllowedLLMProviders...)
	cp.Permissions.AllowedDatabases = append([]string(nil), d.Permissions.AllowedDatabases...)
	cp.Permissions.AllowedFilePaths = append([]string(nil), d.Permissions.AllowedFilePaths...)
	return &cp
}

// AuthOutcomeStatus is the verifier's verdict.
type AuthOutcomeStatus string

const (
	AuthSuccess AuthOutcomeStatus = "SUCCESS"
	AuthFailed  AuthOutcomeStatus = "FAILED"
	AuthError   AuthOutcomeStatus = "ERROR"
)

// AuthenticationOutcome is produced by a verifier and consumed by the
// orchestrator pre-dispatch.
type AuthenticationOutcome struct {
	Status  AuthOutcomeStatus `json:"status"`
	AgentID string            `json:"agent_id"`
	Reason  string            `json:"reason,omitempty"`
}
