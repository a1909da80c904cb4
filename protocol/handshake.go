package protocol

import (
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"strings"
)

// acceptGUID is the fixed key suffix of the opening handshake.
const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// ComputeAcceptToken derives the Sec-WebSocket-Accept value for a client key.
func ComputeAcceptToken(clientKey string) string {
	sum := sha1.Sum([]byte(clientKey + acceptGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// IsUpgradeRequest reports whether r asks for a WebSocket upgrade with a usable key.
func IsUpgradeRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		r.Header.Get("Sec-WebSocket-Key") != ""
}

// UpgradeResponse is the 101 response that completes the handshake for clientKey.
func UpgradeResponse(clientKey string) []byte {
	var sb strings.Builder
	sb.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	sb.WriteString("Upgrade: websocket\r\n")
	sb.WriteString("Connection: Upgrade\r\n")
	sb.WriteString("Sec-WebSocket-Accept: ")
	sb.WriteString(ComputeAcceptToken(clientKey))
	sb.WriteString("\r\n\r\n")
	return []byte(sb.String())
}
