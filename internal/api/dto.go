package api

// relayDTO mirrors validate.RelayInput for JSON request bodies.
type relayDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	User       string `json:"user"`
	Secret     string `json:"secret"`
	ReplyTo    string `json:"replyTo,omitempty"`
	DailyLimit int    `json:"dailyLimit,omitempty"`
}

// campaignStartRequest mirrors the campaign submission schema (§6).
type campaignStartRequest struct {
	SMTPServer           *relayDTO  `json:"smtpServer,omitempty"`
	SMTPServers          []relayDTO `json:"smtpServers,omitempty"`
	UseSMTPRotation      bool       `json:"useSmtpRotation"`
	RotationFrequency    int        `json:"rotationFrequency"`
	Recipients           []string   `json:"recipients"`
	Subject              string     `json:"subject"`
	Content              string     `json:"content"`
	IsHTML               bool       `json:"isHTML"`
	DelayBetweenEmails   *int       `json:"delayBetweenEmails,omitempty"`
	UseCustomSubjects    bool       `json:"useCustomSubjects"`
	CustomSubjects       []string   `json:"customSubjects,omitempty"`
	UseCustomSenders     bool       `json:"useCustomSenders"`
	CustomSenders        []string   `json:"customSenders,omitempty"`
	CustomReplyTo        string     `json:"customReplyTo,omitempty"`
	MaxFailuresPerServer *int       `json:"maxFailuresPerServer,omitempty"`
	Priority             string     `json:"priority,omitempty"`
}

// smtpTestRequest is the SMTP test request body: host/port/user/secret are
// mandatory, sendTo is optional and triggers a live test mail when present.
type smtpTestRequest struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	User   string `json:"user"`
	Secret string `json:"secret"`
	SendTo string `json:"sendTo,omitempty"`
}

// campaignStartResponse is the success body for POST /api/campaign/start.
type campaignStartResponse struct {
	Success    bool   `json:"success"`
	CampaignID string `json:"campaignId"`
}

// statusResponse is the success body for GET /api/campaign/:id/status.
type statusResponse struct {
	Success          bool     `json:"success"`
	ID               string   `json:"id"`
	Status           string   `json:"status"`
	Sent             int64    `json:"sent"`
	Success_         int64    `json:"success_count"`
	Failed           int64    `json:"failed"`
	CurrentRecipient string   `json:"currentRecipient"`
	SpeedPerMinute   float64  `json:"speedPerMinute"`
	Remaining        int      `json:"remaining"`
	ETAMinutes       int      `json:"etaMinutes"`
	Log              []string   `json:"log"`
	Errors           []errorDTO `json:"errors"`
}

type errorDTO struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	RelayName string `json:"relayName"`
	Timestamp string `json:"timestamp"`
}

type relayStateDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Active       bool   `json:"active"`
	FailureCount int    `json:"failureCount"`
	SentCount    int    `json:"sentCount"`
	DailyLimit   int    `json:"dailyLimit"`
}

type statsResponse struct {
	Success        bool  `json:"success"`
	TotalCampaigns int   `json:"totalCampaigns"`
	Active         int   `json:"active"`
	Completed      int   `json:"completed"`
	Stopped        int   `json:"stopped"`
	Errored        int   `json:"errored"`
	TotalSent      int64 `json:"totalSent"`
	TotalSuccess   int64 `json:"totalSuccess"`
	TotalFailed    int64 `json:"totalFailed"`
}
