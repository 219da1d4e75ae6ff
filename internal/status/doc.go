// Package status serves the read-only HTTP surface of the sync service:
// health, the current roster, live sessions, Prometheus metrics, and a
// websocket feed that pushes the roster after every registry change.
package status
