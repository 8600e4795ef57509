// Package ws WebSocket-шлюз клиентов комнат.
package ws
