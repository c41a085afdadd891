// Package api embeds the socket protocol description for serving at runtime.
package api

import _ "embed"

// ProtocolSpec is the raw AsyncAPI 3.0 YAML description of the scenario socket.
//
//go:embed protocol.yaml
var ProtocolSpec []byte
