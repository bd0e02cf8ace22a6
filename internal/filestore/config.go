package filestore

// Config holds all settings needed to connect to an object storage
// backend (MinIO / S3 style).
type Config struct {
	// Endpoint is the host:port of the storage server.
	// Example: "localhost:9000" for local MinIO.
	Endpoint string `yaml:"endpoint"`

	// AccessKey is the access key ID.
	AccessKey string `yaml:"access_key"`

	// SecretKey is the secret access key.
	SecretKey string `yaml:"secret_key"`

	// UseSSL controls whether TLS is used for the connection.
	UseSSL bool `yaml:"use_ssl"`

	// Region is used by region-aware backends (e.g. AWS S3).
	// Leave empty for MinIO.
	Region string `yaml:"region"`
}

// Configured reports whether the settings are complete enough to dial.
func (c Config) Configured() bool {
	return c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != ""
}
