package meta

// UserInfo is customer data as collected. Values may be plain or already
// hashed; Hash leaves hashed ones alone.
type UserInfo struct {
	Email      string `json:"em,omitempty"`
	Phone      string `json:"ph,omitempty"`
	FirstName  string `json:"fn,omitempty"`
	LastName   string `json:"ln,omitempty"`
	City       string `json:"ct,omitempty"`
	State      string `json:"st,omitempty"`
	Country    string `json:"country,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	FBP        string `json:"fbp,omitempty"`
	FBC        string `json:"fbc,omitempty"`
	ClientIP   string `json:"-"`
	UserAgent  string `json:"-"`
}

// UserData is the user_data object of a Conversions API event.
type UserData struct {
	Em         string `json:"em,omitempty"`
	Ph         string `json:"ph,omitempty"`
	Fn         string `json:"fn,omitempty"`
	Ln         string `json:"ln,omitempty"`
	Ct         string `json:"ct,omitempty"`
	St         string `json:"st,omitempty"`
	Country    string `json:"country,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	FBP        string `json:"fbp,omitempty"`
	FBC        string `json:"fbc,omitempty"`
	ClientIP   string `json:"client_ip_address,omitempty"`
	UserAgent  string `json:"client_user_agent,omitempty"`
}

func (u UserInfo) Hash() UserData {
	country := u.Country
	if country == "" {
		country = "br"
	}
	externalID := u.ExternalID
	if externalID == "" {
		externalID = u.Email
	}
	return UserData{
		Em:         hashWith(u.Email, NormalizeEmail),
		Ph:         hashWith(u.Phone, NormalizePhone),
		Fn:         hashWith(u.FirstName, NormalizeText),
		Ln:         hashWith(u.LastName, NormalizeText),
		Ct:         hashWith(u.City, NormalizeText),
		St:         hashWith(u.State, NormalizeCode),
		Country:    hashWith(country, NormalizeCode),
		ExternalID: hashWith(externalID, NormalizeEmail),
		FBP:        u.FBP,
		FBC:        u.FBC,
		ClientIP:   u.ClientIP,
		UserAgent:  u.UserAgent,
	}
}
