package api

import "time"

const SchemaVersion = "v1"

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Error         APIError  `json:"error"`
}

// Machine agent API.

type ConfigureRequest struct {
	Game        string `json:"game"`
	SessionID   string `json:"session_id"`
	Role        string `json:"role"`
	PlayerCount int    `json:"player_count,omitempty"`
	HostIP      string `json:"host_ip,omitempty"`
}

type StateInfo struct {
	Status      string `json:"status"`
	CurrentGame string `json:"current_game,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Role        string `json:"role,omitempty"`
	PlayerCount int    `json:"player_count,omitempty"`
	HostIP      string `json:"host_ip,omitempty"`
}

type CommandResponse struct {
	SchemaVersion string     `json:"schema_version"`
	GeneratedAt   time.Time  `json:"generated_at"`
	Status        string     `json:"status"`
	Message       string     `json:"message"`
	State         *StateInfo `json:"state,omitempty"`
}

type RegisterOrchestratorRequest struct {
	OrchestratorURL string `json:"orchestrator_url"`
}

type RegisterOrchestratorResponse struct {
	SchemaVersion     string    `json:"schema_version"`
	GeneratedAt       time.Time `json:"generated_at"`
	Status            string    `json:"status"`
	Message           string    `json:"message"`
	HeartbeatInterval float64   `json:"heartbeat_interval"`
}

type StatusResponse struct {
	SchemaVersion  string    `json:"schema_version"`
	GeneratedAt    time.Time `json:"generated_at"`
	State          StateInfo `json:"state"`
	SupportedGames []string  `json:"supported_games"`
}

// Hub (orchestrator) API.

type HeartbeatRequest struct {
	Name        string  `json:"name"`
	ID          int     `json:"id"`
	IP          string  `json:"ip"`
	Port        int     `json:"port"`
	Status      string  `json:"status"`
	CurrentGame string  `json:"current_game,omitempty"`
	SessionID   string  `json:"session_id,omitempty"`
	Timestamp   float64 `json:"timestamp"`
}

type HeartbeatResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Status        string    `json:"status"`
	Slot          int       `json:"slot,omitempty"`
}

type HeartbeatInfo struct {
	Name        string  `json:"name"`
	ID          int     `json:"id"`
	Status      string  `json:"status"`
	CurrentGame string  `json:"current_game,omitempty"`
	SessionID   string  `json:"session_id,omitempty"`
	Timestamp   float64 `json:"timestamp"`
	ReceivedAt  string  `json:"received_at"`
}

type SetupItem struct {
	Addr        string            `json:"addr"`
	ServiceName string            `json:"service_name,omitempty"`
	Slot        int               `json:"slot,omitempty"`
	Connected   bool              `json:"connected"`
	Online      bool              `json:"online"`
	Properties  map[string]string `json:"properties,omitempty"`
	Heartbeat   *HeartbeatInfo    `json:"heartbeat,omitempty"`
}

type SetupsEnvelope struct {
	SchemaVersion string      `json:"schema_version"`
	GeneratedAt   time.Time   `json:"generated_at"`
	Setups        []SetupItem `json:"setups"`
}

type StartRequest struct {
	Game       string `json:"game"`
	NumPlayers int    `json:"num_players"`
}

type SlotRequest struct {
	Game string `json:"game,omitempty"`
	Slot int    `json:"slot"`
}

type MachineResultItem struct {
	Addr   string `json:"addr"`
	Name   string `json:"name,omitempty"`
	ID     int    `json:"id,omitempty"`
	Slot   int    `json:"slot,omitempty"`
	Role   string `json:"role,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type SessionResponse struct {
	SchemaVersion   string              `json:"schema_version"`
	GeneratedAt     time.Time           `json:"generated_at"`
	SessionID       string              `json:"session_id"`
	Game            string              `json:"game"`
	NumPlayers      int                 `json:"num_players"`
	ConfiguredCount int                 `json:"configured_count"`
	SuccessCount    int                 `json:"success_count"`
	Results         []MachineResultItem `json:"results"`
}

type StopResponse struct {
	SchemaVersion string              `json:"schema_version"`
	GeneratedAt   time.Time           `json:"generated_at"`
	SuccessCount  int                 `json:"success_count"`
	Results       []MachineResultItem `json:"results"`
}

type RegisterSetupRequest struct {
	Addr string `json:"addr"`
}

type SessionRecordItem struct {
	SessionID       string              `json:"session_id"`
	Game            string              `json:"game"`
	NumPlayers      int                 `json:"num_players"`
	ConfiguredCount int                 `json:"configured_count"`
	SuccessCount    int                 `json:"success_count"`
	StartedAt       string              `json:"started_at"`
	Results         []MachineResultItem `json:"results"`
}

type SessionsEnvelope struct {
	SchemaVersion string              `json:"schema_version"`
	GeneratedAt   time.Time           `json:"generated_at"`
	Sessions      []SessionRecordItem `json:"sessions"`
}
