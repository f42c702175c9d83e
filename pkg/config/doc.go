/*
Package config loads the settings shared by the sweep coordinator and its
workers.

Settings are layered: built-in defaults, then an optional YAML file, then
environment variables, then command-line flags applied by cmd/sweep.

# File format

	sweep:
	  kind: beam
	  results_dir: ./results
	  data_dir: ./sweep-data
	  auto_seed: 5s
	  status_files: false
	beam:
	  max_mode: 5
	  precision: 0
	  zero_threshold: 1e-9
	pendulum:
	  resolution: 100
	  tmax: 30
	  dt: 0.01
	worker:
	  coordinator: coord.local:8080
	  compression: gzip
	queue:
	  lease_timeout: 10m
	  max_attempts: 3
	server:
	  api_addr: 0.0.0.0:8080
	  tls:
	    cert_file: /etc/sweep/node.crt
	    key_file: /etc/sweep/node.key
	    ca_file: /etc/sweep/ca.crt
	raft:
	  node_id: coord-1
	  bind_addr: 10.0.0.1:7946
	  peers:
	    - id: coord-2
	      address: 10.0.0.2:7946

# Environment

	MAX_CPU_CORES                                   worker concurrency
	SERVER_NAME                                     coordinator host[:port]
	COMPUTER_TYPE                                   "server" runs the coordinator queue
	SWEEP_KIND                                      pendulum | beam
	RESULTS_DIR                                     artifact directory
	SWEEP_COMPRESSION                               none | gzip, for messages to the coordinator
	BEAM_INTEGRALS_MAX_MODE                         highest mode number
	BEAM_INTEGRALS_DECIMAL_PRECISION                significant digits of results
	BEAM_INTEGRALS_NORMALIZE_INTEGRALS_SMALLER_THAN zero threshold
	PENDULUM_RESOLUTION                             grid points per axis
	PENDULUM_TMAX, PENDULUM_DT                      integration horizon and step
	PENDULUM_L1, PENDULUM_L2, PENDULUM_M1, PENDULUM_M2
*/
package config
