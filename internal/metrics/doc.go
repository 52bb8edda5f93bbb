// Package metrics holds the supervisor's Prometheus collectors.
//
// proxymon is not network facing, so nothing is served over HTTP. Instead the
// default gatherer is written to a node_exporter textfile (METRICS_FILE) on
// every reset tick and at shutdown.
package metrics
