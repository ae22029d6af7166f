// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

// Command maestro runs the Maestro control plane: the workflow executor,
// capacity broker, approval engine and routine scheduler behind one
// HTTP/WebSocket API.
//
// Usage:
//
//	maestro [flags]
//
// Flags:
//
//	--config    path to maestro.toml
//	--data-dir  override the storage data directory
//	--host      override the listen host
//	--port      override the listen port
//
// Environment Variables:
//
//	HOST, PORT, DATA_DIR, REDIS_ADDR, AUTH_REQUIRED, NODE_ID
//	MAESTRO_SECRETS_KEY - hex-encoded 32-byte secrets encryption key
//	LLM_ENDPOINT, LLM_API_KEY - upstream model endpoint for agent tasks
package main

import (
	"maestro/platform/controlplane"
)

func main() {
	controlplane.Run()
}
