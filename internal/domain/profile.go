package domain

// Profile is the normalized identity returned by the provider's profile endpoint.
type Profile struct {
	PhoneNumber string `json:"phoneNumber,omitempty" dynamodbav:"phone_number,omitempty"`
	CountryCode string `json:"countryCode,omitempty" dynamodbav:"country_code,omitempty"`
	FirstName   string `json:"firstName,omitempty" dynamodbav:"first_name,omitempty"`
	LastName    string `json:"lastName,omitempty" dynamodbav:"last_name,omitempty"`
	Name        string `json:"name,omitempty" dynamodbav:"name,omitempty"`
	Email       string `json:"email,omitempty" dynamodbav:"email,omitempty"`
	City        string `json:"city,omitempty" dynamodbav:"city,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty" dynamodbav:"avatar_url,omitempty"`
}

// Clone returns a copy of p; a nil profile stays nil.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
