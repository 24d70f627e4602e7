// SPDX-License-Identifier: MPL-2.0

package pushserver

import (
	"encoding/json"

	"hytale-panel/internal/probe"
)

// Inbound event names.
const (
	EventDownload    = "download"
	EventFilesCheck  = "files:check"
	EventLogsHistory = "logs:history"
)

// Outbound event names. Provisioning status goes out as status.EventName.
const (
	EventDownloadBusy = "download-busy"
	EventFilesStatus  = "files:status"
	EventError        = "error"
)

type (
	// Envelope frames every websocket message in both directions.
	Envelope struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data,omitempty"`
	}

	// outbound is an Envelope whose payload is marshalled by the writer.
	outbound struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	// BusyPayload is sent when a download request is refused.
	BusyPayload struct {
		Message string `json:"message"`
	}

	// ErrorPayload reports a request that could not be handled.
	ErrorPayload struct {
		Message string `json:"message"`
	}

	// FilesStatus answers files:check and GET /api/files/status.
	FilesStatus struct {
		probe.ArtifactStatus
		Authenticated bool `json:"authenticated"`
		// Provisioning is true while a download session holds the container.
		Provisioning bool `json:"provisioning"`
	}

	// LogsRequest pages backwards through the container log. Offset counts
	// the newest lines the client already has.
	LogsRequest struct {
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
	}

	// LogsPayload answers logs:history. Initial is true for the first page.
	LogsPayload struct {
		Logs    []string `json:"logs"`
		Initial bool     `json:"initial"`
		Error   string   `json:"error,omitempty"`
	}

	// PanelConfig is served at /panel-config for the browser client.
	PanelConfig struct {
		BasePath       string   `json:"basePath"`
		AuthDisabled   bool     `json:"authDisabled"`
		AllowedUploads []string `json:"allowedUploads"`
	}

	// AuthStatus answers GET /auth/status.
	AuthStatus struct {
		Authenticated bool   `json:"authenticated"`
		Username      string `json:"username,omitempty"`
	}

	// UploadResult answers POST /api/files/upload.
	UploadResult struct {
		Success bool   `json:"success"`
		Path    string `json:"path,omitempty"`
		Error   string `json:"error,omitempty"`
	}
)
