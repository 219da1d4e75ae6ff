// Package events publishes client roster changes to NATS.
//
// Each registry change becomes one JSON message on
// <subject prefix>.<joined|left|cleared>.
package events
