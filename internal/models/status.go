package models

import "encoding/json"

// Server states reported in ServerInfo.State.
const (
	StateUnknown         = -1
	StateRunning         = 1
	StateStopping        = 2
	StateMaintenance     = 9
	StateStandby         = 10
	StateCleanStore      = 11
	StateStartingInStore = 12
	StateStopped         = 99
)

// ServerInfo is the "Server" section of GET /ima/v1/service/status.
type ServerInfo struct {
	Name              string `json:"Name,omitempty"`
	Status            string `json:"Status,omitempty"`
	State             int    `json:"State"`
	StateDescription  string `json:"StateDescription,omitempty"`
	ServerTime        string `json:"ServerTime,omitempty"`
	UpTimeSeconds     int64  `json:"UpTimeSeconds,omitempty"`
	UpTimeDescription string `json:"UpTimeDescription,omitempty"`
	Version           string `json:"Version,omitempty"`
	ErrorCode         int    `json:"ErrorCode,omitempty"`
	ErrorMessage      string `json:"ErrorMessage,omitempty"`
}

// HAInfo is the "HighAvailability" section of the status document.
type HAInfo struct {
	Status  string `json:"Status,omitempty"`
	Enabled bool   `json:"Enabled"`
	Group   string `json:"Group,omitempty"`
	NewRole string `json:"NewRole,omitempty"`
	OldRole string `json:"OldRole,omitempty"`
	// PctSyncCompletion is only present while a standby synchronizes.
	PctSyncCompletion int `json:"PctSyncCompletion,omitempty"`
}

// ServerStatus is the document returned by GET /ima/v1/service/status.
// Component sections not modelled here are kept raw.
type ServerStatus struct {
	Version          string          `json:"Version,omitempty"`
	Server           ServerInfo      `json:"Server"`
	HighAvailability *HAInfo         `json:"HighAvailability,omitempty"`
	Cluster          json.RawMessage `json:"Cluster,omitempty"`
	MQConnectivity   json.RawMessage `json:"MQConnectivity,omitempty"`
	Plugin           json.RawMessage `json:"Plugin,omitempty"`
	SNMP             json.RawMessage `json:"SNMP,omitempty"`
}

// RestartRequest is the body of POST /ima/v1/service/restart.
type RestartRequest struct {
	Service     string `json:"Service"`
	CleanStore  bool   `json:"CleanStore,omitempty"`
	Maintenance string `json:"Maintenance,omitempty"`
	Reset       bool   `json:"Reset,omitempty"`
}

// ServiceRequest is the body of POST /ima/v1/service/stop and start.
type ServiceRequest struct {
	Service string `json:"Service"`
}

// CloseConnectionRequest is the body of POST /ima/v1/service/close/connection.
type CloseConnectionRequest struct {
	ClientID      string `json:"ClientID,omitempty"`
	UserID        string `json:"UserID,omitempty"`
	ClientAddress string `json:"ClientAddress,omitempty"`
}

// ClientSet selects clients by ClientID regex and retained message topics by
// the Retain regex, as DELETE /ima/v1/service/ClientSet expects them.
type ClientSet struct {
	ClientID string `url:"ClientID"`
	Retain   string `url:"Retain,omitempty"`
}
