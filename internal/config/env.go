package config

import "strings"

// ApplyEnv overlays environment variables on cfg. MONGODB_CONNECTION_STRING
// wins over MONGO_URI, and OPA_URL wins over OPA_SERVER_IP plus OPA_PORT.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("MONGODB_CONNECTION_STRING"); v != "" {
		cfg.Store.URI = v
	} else if v := getenv("MONGO_URI"); v != "" {
		cfg.Store.URI = v
	}
	if v := getenv("MONGO_DB_NAME"); v != "" {
		cfg.Store.Database = v
	}

	if v := getenv("OPA_URL"); v != "" {
		cfg.Policy.URL = strings.TrimRight(v, "/")
	} else if ip := getenv("OPA_SERVER_IP"); ip != "" {
		port := getenv("OPA_PORT")
		if port == "" {
			port = "8181"
		}
		cfg.Policy.URL = "http://" + ip + ":" + port
	}

	if v := getenv("AWS_REGION"); v != "" {
		cfg.AWS.DefaultRegion = v
	}
	if v := getenv("AWS_PROFILE"); v != "" && cfg.AWS.DefaultProfile == "" {
		cfg.AWS.DefaultProfile = v
	}
	if v := getenv("CSPM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("CSPM_QUEUE_URL"); v != "" {
		cfg.Events.QueueURL = v
	}
}
