package config

type Config struct {
	Rest Rest
	Sync Sync
}

type Rest struct {
	Address           string `envconfig:"ADDRESS" default:":8080"`
	ReadTimeout       int64  `envconfig:"READ_TIMEOUT" default:"0"`
	WriteTimeout      int64  `envconfig:"WRITE_TIMEOUT" default:"0"`
	ReadHeaderTimeout int64  `envconfig:"READ_HEADER_TIMEOUT" default:"10"`
	IdleTimeout       int64  `envconfig:"IDLE_TIMEOUT" default:"120"`
}

type Sync struct {
	// LeadTimeMS is the countdown the server schedules ahead of every
	// play command so all devices can target the same start instant.
	LeadTimeMS int64 `envconfig:"LEAD_TIME_MS" default:"2000"`
}
