// Package gateway is the device HTTP server.
//
// It serves the operator control endpoints of a device, its health and
// metrics, and the assets tools produce:
//
//	GET /                help text
//	GET /status_now      publish the online status now
//	GET /reannounce      republish announce and ports announce (retained)
//	GET /clear_retained  clear the retained topics
//	GET /factory_reset   clear retained topics, disconnect and reset
//	GET /healthz         aggregated device health as JSON
//	GET /metrics         Prometheus scrape endpoint
//	GET /assets/{id}     blobs from the AssetStore
//
// The three publishing endpoints answer 503 "MQTT not connected" while the
// transport is down. /factory_reset always runs.
//
// # Asset URLs
//
// Tools store their outputs in an AssetStore and put the returned relative
// URL (for example "/assets/last.jpg") into the observation. The emitter
// prefixes it with BaseURL, the advertised address http://<host>[:port],
// before publishing.
//
// # Tool endpoints
//
// Collaborators implementing HTTPHandler are mounted with WithHandler and
// register their own routes on the shared mux.
package gateway
