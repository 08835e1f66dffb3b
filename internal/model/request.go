package model

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	CURP               string  `json:"curp"`
	RFC                *string `json:"rfc"`
	Email              string  `json:"email"`
	Password           string  `json:"password"`
	Names              string  `json:"names"`
	Lastname           string  `json:"lastname"`
	SecondLastname     string  `json:"secondLastname"`
	Career             string  `json:"career"`
	CivilState         string  `json:"civilState"`
	Cellphone          *string `json:"cellphone"`
	Telephone          *string `json:"telephone"`
	Birthday           string  `json:"birthday"`
	BirthState         string  `json:"birthState"`
	Birthplace         string  `json:"birthplace"`
	HomeStreet         string  `json:"homeStreet"`
	HomeNumber         int     `json:"homeNumber"`
	HomeNeighborhood   string  `json:"homeNeighborhood"`
	HomeMunicipality   string  `json:"homeMunicipality"`
	HomePostalCode     int     `json:"homePostalCode"`
	HomeCity           string  `json:"homeCity"`
	HomeState          string  `json:"homeState"`
	School             string  `json:"school"`
	SchoolMunicipality string  `json:"schoolMunicipality"`
	SchoolState        string  `json:"schoolState"`
	GradDate           int     `json:"gradDate"`
	AvgCalif           int     `json:"avgCalif"`
	Area               string  `json:"area"`
	IMSSNumber         *int    `json:"imssNumber"`
	Clinic             *string `json:"clinic"`
	BloodType          string  `json:"bloodType"`
	WorkCompany        *string `json:"workCompany"`
	Tutor              *string `json:"tutor"`
}

// PasswordResetRequest identifies the student by email or by CURP.
type PasswordResetRequest struct {
	Email string `json:"email"`
	CURP  string `json:"curp"`
}

// TokenRequest is the body of the activation and reset-check endpoints.
type TokenRequest struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	Email       string `json:"email"`
	NewPassword string `json:"newPwd"`
}

type RevokeSessionsRequest struct {
	Password string `json:"password"`
}
