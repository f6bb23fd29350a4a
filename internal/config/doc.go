// Package config loads the inkwell configuration file.
//
// The file is TOML. Every key is optional; missing keys keep their defaults
// and a missing file yields Default().
//
// # File Structure
//
//	[server]
//	address = ":8080"
//	read_timeout = "60s"
//	heartbeat_interval = "30s"
//
//	[history]
//	max_entries = 500
//
//	[room]
//	outbox_size = 256
//	snapshot_rate = 1.0
//	snapshot_burst = 3
//
//	[client]
//	request_timeout = "5s"
//	snapshot_timeout = "10s"
//
//	[redis]
//	addr = "localhost:6379"
//	channel_prefix = "inkwell:room:"
//
//	[logging]
//	level = "info"
//	format = "text"
//
// # Usage
//
//	cfg, err := config.Load("inkwell.toml", config.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Address:", cfg.Server.Address)
package config
