package config

import (
	"fmt"
	"os"
)

// Template returns a starter gateway config.
func Template() string {
	return gatewayTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(gatewayTemplate), 0o600)
}

const gatewayTemplate = `[server]
listen_addr = "0.0.0.0:6001"
max_clients = 64
recv_timeout = "5s"
accept_poll = "1s"
sc_status_before_login = false
framing = "ascii"
admin_addr = "127.0.0.1:6080"
admin_cors_origins = []

[monitor]
shutdown_file = ""
poll_interval = "5s"

[backend]
url = "http://127.0.0.1:8080/osrf-http-translator"
timeout = "30s"

[[accounts]]
username = "sip-user"
password = "sip-pass"
institution = "example"
workstation = "BR1-sip"
backend_username = "admin"
framing = "ascii"
enabled = true
`
