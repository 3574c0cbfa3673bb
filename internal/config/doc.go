// Package config loads sigsync.yaml.
//
// Values are resolved in order: built-in defaults, the YAML file (with
// ${VAR} references expanded), then SIGSYNC_* environment variables. A
// .env file may seed the environment before any of this happens.
//
//	server:
//	  addr: ":8080"
//	  heartbeat: 20s
//	transport:
//	  kind: websocket
//	  url: ws://localhost:8080/sync
//	log:
//	  level: info
//	signals:
//	  initial:
//	    count: 0
//	derived:
//	  - id: doubled
//	    expr: count * 2
package config
