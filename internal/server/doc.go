// Package server implements the HTTP server using Echo framework.
//
// Routes: /ws (client WebSocket), /internal/notify/* (producer fan-out),
// /internal/tiers/:userID (tier admin), health and metrics endpoints.
// Connection admission lives in admission.go, quota enforcement in
// middleware.go.
package server
