// Package infra holds the adapters behind the core interfaces: the simulated
// and MQTT agent networks, metrics sinks, loggers, monitoring and the KPI
// store. Core packages never import infra.
package infra
