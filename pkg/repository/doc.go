// Package repository provides handles to artifact repositories.
//
// Every backing store is reached through a Handle: Local (SQLite store),
// Memory, REST (HTTP JSON, served by Server), Proxy (URL prefix rewriting)
// and Federated (concurrent fan-out over several members). Handles compose:
// a Federated handle may contain Proxies over REST handles, and New wraps
// any of them with logging, metrics, tracing and per-call timeouts.
//
// Searches return an Iterator that loads pages on demand.
package repository
