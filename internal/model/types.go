package model

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of one setup machine.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConfigured Status = "configured"
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
)

// Role is a machine's function within a multiplayer session.
type Role string

const (
	RoleHost         Role = "host"
	RoleJoin         Role = "join"
	RoleSingleplayer Role = "singleplayer"
)

func ValidRole(r Role) bool {
	switch r {
	case RoleHost, RoleJoin, RoleSingleplayer:
		return true
	}
	return false
}

// NavResult is the tri-state outcome of a navigation run. Cancellation is
// kept distinct from failure so a user-requested stop is never reported as
// an error condition.
type NavResult string

const (
	NavCompleted NavResult = "completed"
	NavFailed    NavResult = "failed"
	NavCancelled NavResult = "cancelled"
)

// MachineIdentity identifies one setup machine. ID is the tie-break key for
// host election: the lowest id online becomes host. Loaded at configuration
// time, immutable for the process lifetime.
type MachineIdentity struct {
	ID   int
	Name string
	IP   string
	Port int
}

// Addr returns the "ip:port" key the registry indexes machines by.
func (m MachineIdentity) Addr() string {
	if m.IP == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", m.IP, m.Port)
}

// Heartbeat is one liveness+status report from a machine. ReceivedAt is
// always stamped by the receiver, never trusted from the sender.
type Heartbeat struct {
	Identity    MachineIdentity
	Status      Status
	CurrentGame string
	SessionID   string
	Timestamp   float64
	ReceivedAt  time.Time
}

// Machine is one registry entry: a discovered service plus its slot binding
// and last heartbeat, if any.
type Machine struct {
	ServiceName string
	Address     string
	Port        int
	Properties  map[string]string
	Slot        int // 0 means unassigned
	Heartbeat   *Heartbeat
}

func (m Machine) Addr() string {
	return fmt.Sprintf("%s:%d", m.Address, m.Port)
}

// Online reports whether the machine's last heartbeat is within window.
func (m Machine) Online(now time.Time, window time.Duration) bool {
	if m.Heartbeat == nil {
		return false
	}
	return now.Sub(m.Heartbeat.ReceivedAt) < window
}

// ID returns the numeric machine id, or 0 when no heartbeat has arrived yet.
func (m Machine) ID() int {
	if m.Heartbeat == nil {
		return 0
	}
	return m.Heartbeat.Identity.ID
}

// Per-machine result codes reported in session operation results.
const (
	SessionOK              = "success"
	SessionFailedConfigure = "failed_configure"
	SessionFailedStart     = "failed_start"
	SessionFailedStop      = "failed_stop"
)

// MachineResult is one machine's outcome within a session operation.
type MachineResult struct {
	Addr   string
	Name   string
	ID     int
	Slot   int
	Role   Role
	Status string
	Error  string
}

// Session is the ephemeral record of one start request. It exists only for
// the duration of the configure+start orchestration; the hub store keeps an
// audit copy afterwards.
type Session struct {
	SessionID       string
	Game            string
	PlayerCount     int
	HostIP          string
	ConfiguredCount int
	SuccessCount    int
	Results         []MachineResult
	StartedAt       time.Time
}

// CodedError carries an API error code alongside the message so HTTP
// handlers can map coordinator failures to the right status and body.
type CodedError struct {
	Code    string
	Message string
}

func (e *CodedError) Error() string { return e.Message }

func Errorf(code, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error codes defined by the API contract.
const (
	ErrInsufficientCapacity = "E_INSUFFICIENT_CAPACITY"
	ErrMachineUnreachable   = "E_MACHINE_UNREACHABLE"
	ErrMachineUnknown       = "E_MACHINE_UNKNOWN"
	ErrNotConfigured        = "E_NOT_CONFIGURED"
	ErrGameUnknown          = "E_GAME_UNKNOWN"
	ErrBadRequest           = "E_BAD_REQUEST"
	ErrInternal             = "E_INTERNAL"
)
