package config

import (
	"fmt"
	"os"
)

func Template() string {
	return proverTemplate
}

// WriteTemplate writes the sample config, refusing to replace an existing
// file unless overwrite is set.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(proverTemplate), 0o600)
}

const proverTemplate = `# proverctl configuration. Environment variables override these keys.
aggregator_url = "http://localhost:50081"

# Auxiliary services bind 0.0.0.0:<port>; omit or set 0 to skip.
executor_port = 50071
hashdb_port = 50061

prover_name = "proverctl_test_prover"
# prover_id = ""
# fixture_path = "mocked_data.json"  # hex fields may omit the 0x prefix

admin_addr = "127.0.0.1:9091"
# admin_token = ""
cors_origins = ["http://localhost:3000"]

outbound_queue_size = 64
outbound_overflow = "block"
max_connect_attempts = 1
connect_timeout = "5s"
handshake_timeout = "5s"
write_timeout = "15s"

security_mode = "development"
tls_enabled = false
tls_mutual = false
tls_ca_file = ""
tls_cert_file = ""
tls_key_file = ""
tls_server_name = ""
tls_insecure_skip_verify = false
`
