package config

import (
	"github.com/knadh/koanf/providers/confmap"
)

func DefaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"server": map[string]interface{}{
			"port": "8080",
			"mode": "release",
		},
		"store": map[string]interface{}{
			"driver":        StoreMemory,
			"mysql_dsn":     "",
			"poll_interval": "5s",
			"collection":    "Reminders",
		},
		"firebase": map[string]interface{}{
			"credentials_file": "",
			"project_id":       "",
		},
		"dispatcher": map[string]interface{}{
			"driver":           DispatcherLog,
			"max_attempts":     3,
			"token_collection": "usersLogin",
		},
		"scheduler": map[string]interface{}{
			"reconcile_spec": "0 * * * * *", // every minute
		},
		"auth": map[string]interface{}{
			"jwt_secret": "",
		},
	}
}

func NewDefaultProvider() *confmap.Confmap {
	return confmap.Provider(DefaultConfig(), ".")
}

func GetDefaultConfigPath() string {
	return "config.yaml"
}
