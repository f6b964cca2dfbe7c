package entity

type OTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type SignUpRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Username    string `json:"username"`
	Password    string `json:"password"`
}

type VerifyOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Code        string `json:"code"`
	Password    string `json:"password"`
}

type AuthResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresAt   int64  `json:"expiresAt"`
	User        User   `json:"user"`
}

type TokenClaims struct {
	UserId   string `json:"userId"`
	LoginId  string `json:"loginId"`
	Username string `json:"username"`
}
