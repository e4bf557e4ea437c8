// Package webchat exposes chat rooms over HTTP: plain-text and JSON chat endpoints, the room
// list, and a websocket feed that fans room events out to per-room connection pools.
package webchat
