package domain

// Instance describes the running server to clients.
type Instance struct {
	Name     string `json:"name"`
	Backend  string `json:"backend"`
	DemoMode bool   `json:"demo_mode"`
	Notice   string `json:"notice,omitempty"`
}

// DemoNotice is shown to visitors when the hosted backend is not configured.
const DemoNotice = "Demo mode: the hosted backend is not configured. Data is stored locally on this server and may be reset."
