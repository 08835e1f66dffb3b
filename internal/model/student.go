package model

import "time"

// Student mirrors a row of the students table. PasswordHash, TokenVersion and
// the reset columns never leave the service layer.
type Student struct {
	ControlNumber      string     `json:"controlNumber"`
	CURP               string     `json:"curp"`
	RFC                *string    `json:"rfc,omitempty"`
	Email              string     `json:"email"`
	PasswordHash       string     `json:"-"`
	Names              string     `json:"names"`
	Lastname           string     `json:"lastname"`
	SecondLastname     string     `json:"secondLastname"`
	Career             string     `json:"career"`
	CivilState         string     `json:"civilState"`
	Cellphone          *string    `json:"cellphone,omitempty"`
	Telephone          *string    `json:"telephone,omitempty"`
	Birthday           string     `json:"birthday"`
	BirthState         string     `json:"birthState"`
	Birthplace         string     `json:"birthplace"`
	HomeStreet         string     `json:"homeStreet"`
	HomeNumber         int        `json:"homeNumber"`
	HomeNeighborhood   string     `json:"homeNeighborhood"`
	HomeMunicipality   string     `json:"homeMunicipality"`
	HomePostalCode     int        `json:"homePostalCode"`
	HomeCity           string     `json:"homeCity"`
	HomeState          string     `json:"homeState"`
	School             string     `json:"school"`
	SchoolMunicipality string     `json:"schoolMunicipality"`
	SchoolState        string     `json:"schoolState"`
	GradDate           int        `json:"gradDate"`
	AvgCalif           int        `json:"avgCalif"`
	Area               string     `json:"area"`
	IMSSNumber         *int       `json:"imssNumber,omitempty"`
	Clinic             *string    `json:"clinic,omitempty"`
	BloodType          string     `json:"bloodType"`
	WorkCompany        *string    `json:"workCompany,omitempty"`
	Tutor              *string    `json:"tutor,omitempty"`
	ActiveUser         bool       `json:"activeUser"`
	TokenVersion       int        `json:"-"`
	ResetPasswordToken string     `json:"-"`
	ResetTokenExpires  *time.Time `json:"-"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// AuthClaims is what the bearer middleware puts on the request context.
type AuthClaims struct {
	UserID  string `json:"userId"`
	Email   string `json:"email"`
	TokenID string `json:"jti"`
}

// TokenPair is the result of a login or a refresh. The refresh token is
// delivered out of band and is never serialized into a response body.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
	TokenType        string    `json:"tokenType"`
	ExpiresIn        int64     `json:"expiresIn"`
}

type StudentList struct {
	Students []Student `json:"students"`
}
