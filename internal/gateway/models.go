package gateway

// Endpoint is the gateway deployment a tenant talks to.
type Endpoint struct {
	BaseURL    string
	AdminToken string
}

// CreatedInstance is the result of creating a channel on the gateway.
type CreatedInstance struct {
	Name  string
	Token string
}

// QRCode is what a connect call returns while pairing.
type QRCode struct {
	Code      string `json:"qrcode"`
	PairCode  string `json:"paircode,omitempty"`
	Connected bool   `json:"connected"`
}

// StatusReport is the gateway's view of a channel, flattened from its
// nested instance/status objects.
type StatusReport struct {
	// Connected is nil when the gateway did not send the flag at all.
	Connected     *bool  `mapstructure:"connected"`
	LoggedIn      bool   `mapstructure:"loggedIn"`
	RawStatus     string `mapstructure:"status"`
	QRCode        string `mapstructure:"qrcode"`
	Owner         string `mapstructure:"owner"`
	JID           string `mapstructure:"jid"`
	ProfileName   string `mapstructure:"profileName"`
	ProfilePicURL string `mapstructure:"profilePicUrl"`
	IsBusiness    bool   `mapstructure:"isBusiness"`
	Platform      string `mapstructure:"platform"`
}

// BridgeConfig points the gateway's built-in platform bridge at one inbox.
type BridgeConfig struct {
	Enabled        bool   `json:"enabled"`
	PlatformURL    string `json:"url"`
	AccessToken    string `json:"access_token"`
	AccountID      int64  `json:"account_id"`
	InboxID        int64  `json:"inbox_id"`
	SignMessages   bool   `json:"sign_msg"`
	ReopenResolved bool   `json:"reopen_conversation"`
	ImportContacts bool   `json:"import_contacts"`
}

// WebhookConfig registers this process for device-side events.
type WebhookConfig struct {
	URL     string   `json:"url"`
	Events  []string `json:"events"`
	Enabled bool     `json:"enabled"`
}

// ConnectionEvents is the only event family the direct webhook subscribes to;
// message traffic goes through the platform bridge instead.
var ConnectionEvents = []string{"connection"}
