package slack

// apiResponse carries the envelope every Web API endpoint returns.
type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Channel is a workspace conversation the bot can post into.
type Channel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`
}

// Team identifies the workspace a token belongs to.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// OAuthToken is the normalized result of a code exchange or token refresh.
// ExpiresIn is zero for tokens that never expire (token rotation disabled).
type OAuthToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	Team         Team
}

type oauthAccessResponse struct {
	apiResponse
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Team         Team   `json:"team"`
}

type postMessageResponse struct {
	apiResponse
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

type conversationsListResponse struct {
	apiResponse
	Channels         []Channel `json:"channels"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}
