package httpapi

// Config defines HTTP API settings.
type Config struct {
	Addr            string
	SessionCookie   string
	SessionTTLHours int
	BaseURL         string
	BasePath        string
	RelayKey        string
	StreamEvents    int
	SessionFile     string
}
